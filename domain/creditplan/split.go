package creditplan

// Cost is an amount in both currencies: internal credits and on-chain
// token units.
type Cost struct {
	Credits int64
	Tokens  int64
}

// IsZero reports whether both amounts are zero.
func (c Cost) IsZero() bool {
	return c.Credits == 0 && c.Tokens == 0
}

// SplitResult describes how a required cost is divided between the
// active plan and a fallback. Deduct never exceeds the remaining
// balance in either currency; the plan caps hold by construction.
type SplitResult struct {
	Full      bool // active plan covers the whole cost
	Deduct    Cost // applied to the active plan
	Shortfall Cost // left for a fallback plan (or unrecovered)
}

// Split computes the settlement division of required against the
// active plan's remaining balances. This is a PURE function.
func Split(required, remaining Cost) SplitResult {
	if remaining.Credits >= required.Credits && remaining.Tokens >= required.Tokens {
		return SplitResult{Full: true, Deduct: required}
	}
	deduct := Cost{
		Credits: min64(required.Credits, remaining.Credits),
		Tokens:  min64(required.Tokens, remaining.Tokens),
	}
	if deduct.Credits < 0 {
		deduct.Credits = 0
	}
	if deduct.Tokens < 0 {
		deduct.Tokens = 0
	}
	return SplitResult{
		Deduct: deduct,
		Shortfall: Cost{
			Credits: required.Credits - deduct.Credits,
			Tokens:  required.Tokens - deduct.Tokens,
		},
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
