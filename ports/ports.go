// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/credix/creditgate/domain/creditplan"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Ledger Ports
// -----------------------------------------------------------------------------

// PlanStore persists credit plans. It is the only shared mutable
// resource in the metering pipeline; every query is scoped by service.
type PlanStore interface {
	// Create stores a new plan.
	Create(ctx context.Context, p creditplan.Plan) error

	// Get retrieves a plan by ID within a service scope.
	// Returns creditplan.ErrPlanNotFound when absent.
	Get(ctx context.Context, serviceID, id string) (creditplan.Plan, error)

	// List returns all plans for a service, plans with an expiry first,
	// soonest expiry leading.
	List(ctx context.Context, serviceID string) ([]creditplan.Plan, error)

	// FindActive returns the service's single Active plan with
	// remaining credits, unexpired at now, and (when minTokens > 0) a
	// token grant of at least minTokens.
	// Returns creditplan.ErrPlanNotFound when no plan qualifies.
	FindActive(ctx context.Context, serviceID string, minTokens int64, now time.Time) (creditplan.Plan, error)

	// FindNextAvailable returns the oldest Inactive plan with remaining
	// credits, no expiry or one in the future, and the same token
	// filter as FindActive.
	FindNextAvailable(ctx context.Context, serviceID string, minTokens int64, now time.Time) (creditplan.Plan, error)

	// ApplyUsage atomically adds usage to both counters of a plan. The
	// balance precondition is evaluated in the same operation; if either
	// counter would exceed its cap the call fails with
	// creditplan.ErrCapExceeded and nothing is written.
	ApplyUsage(ctx context.Context, id string, credits, tokens int64) error

	// Activate flips the target plan to Active and any currently Active
	// plan of the same service to Inactive in a single atomic
	// transition. expiresAt is recorded only if the plan has never been
	// activated before.
	Activate(ctx context.Context, serviceID, id string, expiresAt time.Time) error
}

// Settlement is one journal entry recording a post-response deduction.
type Settlement struct {
	ID               string
	ServiceID        string
	Method           string
	Path             string
	RequiredCredits  int64
	RequiredTokens   int64
	DeductedCredits  int64
	DeductedTokens   int64
	ShortfallCredits int64
	ShortfallTokens  int64
	ActivatedPlanID  string // fallback plan activated mid-settlement, if any
	Outcome          string // "settled", "split", "shortfall", "skipped"
	CreatedAt        time.Time
}

// Settlement outcomes.
const (
	OutcomeSettled   = "settled"
	OutcomeSplit     = "split"
	OutcomeShortfall = "shortfall"
	OutcomeSkipped   = "skipped"
)

// SettlementStore persists the append-only settlement journal.
type SettlementStore interface {
	// Record appends a settlement entry.
	Record(ctx context.Context, s Settlement) error

	// ListRecent returns the latest entries for a service, newest first.
	ListRecent(ctx context.Context, serviceID string, limit int) ([]Settlement, error)
}

// -----------------------------------------------------------------------------
// Session Ports
// -----------------------------------------------------------------------------

// RechargeSession is the dashboard-issued payload authorizing a plan
// purchase. Written by the external billing dashboard, read once here.
type RechargeSession struct {
	Purpose            string
	Amount             int64
	AmountDenom        string
	ValidityPeriod     int
	ValidityPeriodUnit string
	ServiceID          string
}

// SessionStore looks up recharge sessions by ID.
type SessionStore interface {
	// Get retrieves a session. Implementations return an error when the
	// session is absent or expired.
	Get(ctx context.Context, id string) (RechargeSession, error)
}

// -----------------------------------------------------------------------------
// Upstream Ports
// -----------------------------------------------------------------------------

// Request is the metered request forwarded to the SSI backend.
type Request struct {
	Method   string
	Path     string
	Query    string
	Headers  map[string]string
	Body     []byte
	RemoteIP string
}

// Response is what the upstream returned.
type Response struct {
	Status    int
	Headers   map[string]string
	Body      []byte
	LatencyMs int64
}

// Upstream forwards admitted requests to the SSI backend.
type Upstream interface {
	// Forward sends a request upstream and returns the response.
	Forward(ctx context.Context, req Request) (Response, error)

	// HealthCheck verifies the upstream is reachable.
	HealthCheck(ctx context.Context) error
}
