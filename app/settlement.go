package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/credix/creditgate/adapters/metrics"
	"github.com/credix/creditgate/domain/cost"
	"github.com/credix/creditgate/domain/creditplan"
	"github.com/credix/creditgate/ports"
)

// SettleRequest carries everything settlement needs about a completed
// request/response pair.
type SettleRequest struct {
	ServiceID string
	Method    string
	Path      string
	Origin    string
	Profile   cost.Profile
	Status    int
}

// SettlementService deducts consumed cost from the ledger after the
// upstream response. Settlements for the same service are serialized;
// the read-split-apply sequence must not interleave with a concurrent
// fallback activation for that service.
type SettlementService struct {
	plans   ports.PlanStore
	journal ports.SettlementStore
	clock   ports.Clock
	idGen   ports.IDGenerator
	logger  zerolog.Logger
	metrics *metrics.Collector

	exemptOrigin atomic.Pointer[string]
	locks        keyedMutex
}

// SettlementDeps contains dependencies for SettlementService.
type SettlementDeps struct {
	Plans   ports.PlanStore
	Journal ports.SettlementStore
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// NewSettlementService creates a new settlement service.
func NewSettlementService(deps SettlementDeps, exemptOrigin string) *SettlementService {
	s := &SettlementService{
		plans:   deps.Plans,
		journal: deps.Journal,
		clock:   deps.Clock,
		idGen:   deps.IDGen,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
	s.exemptOrigin.Store(&exemptOrigin)
	return s
}

// SetExemptOrigin updates the origin whose read traffic is not billed.
func (s *SettlementService) SetExemptOrigin(origin string) {
	s.exemptOrigin.Store(&origin)
}

// Settle applies the request's cost to the service's plans. Only
// successful responses are billed; failed upstream calls cost nothing.
// GET traffic from the exempt origin (the tenant dashboard browsing
// its own data) is also skipped.
//
// The active plan absorbs as much of the cost as its remaining
// balances allow. Any shortfall triggers a fallback: the oldest
// inactive plan with a sufficient token grant is activated and charged
// the rest. With no fallback available the shortfall is journaled and
// counted, and the request is not retroactively failed.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) error {
	start := s.clock.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if req.Status < 200 || req.Status >= 400 {
		s.countOutcome(ports.OutcomeSkipped)
		return nil
	}
	if req.Method == "GET" && s.isExemptOrigin(req.Origin) {
		s.logger.Debug().
			Str("service_id", req.ServiceID).
			Str("path", req.Path).
			Msg("settlement: exempt origin, not billed")
		s.countOutcome(ports.OutcomeSkipped)
		return nil
	}

	required := creditplan.Cost{
		Credits: req.Profile.TotalCredits,
		Tokens:  req.Profile.AttestationHID,
	}
	if required.IsZero() {
		s.countOutcome(ports.OutcomeSkipped)
		return nil
	}

	unlock := s.locks.lock(req.ServiceID)
	defer unlock()

	return s.settle(ctx, req, required)
}

func (s *SettlementService) settle(ctx context.Context, req SettleRequest, required creditplan.Cost) error {
	now := s.clock.Now()

	entry := ports.Settlement{
		ID:              s.idGen.New(),
		ServiceID:       req.ServiceID,
		Method:          req.Method,
		Path:            req.Path,
		RequiredCredits: required.Credits,
		RequiredTokens:  required.Tokens,
		CreatedAt:       now,
	}

	active, err := s.plans.FindActive(ctx, req.ServiceID, 0, now)
	if err != nil {
		if !errors.Is(err, creditplan.ErrPlanNotFound) {
			return s.fail(req, err, "settlement: active plan lookup failed")
		}
		// Admission saw a usable plan but it is gone now. Treat the
		// whole cost as shortfall and let the fallback path recover it.
		active = creditplan.Plan{}
	}

	split := creditplan.Split(required, active.Remaining())

	if !split.Deduct.IsZero() {
		if err := s.plans.ApplyUsage(ctx, active.ID, split.Deduct.Credits, split.Deduct.Tokens); err != nil {
			if !errors.Is(err, creditplan.ErrCapExceeded) {
				return s.fail(req, err, "settlement: usage write failed")
			}
			// Lost a race with another writer; nothing was deducted.
			split = creditplan.SplitResult{Shortfall: required}
		} else {
			entry.DeductedCredits = split.Deduct.Credits
			entry.DeductedTokens = split.Deduct.Tokens
		}
	}

	if split.Full {
		entry.Outcome = ports.OutcomeSettled
		return s.record(ctx, entry)
	}

	// The active plan is drained. Activate the oldest inactive plan
	// whose token grant covers what is still owed and charge it.
	fallback, err := s.plans.FindNextAvailable(ctx, req.ServiceID, split.Shortfall.Tokens, now)
	if err != nil {
		if !errors.Is(err, creditplan.ErrPlanNotFound) {
			return s.fail(req, err, "settlement: fallback plan lookup failed")
		}
		s.logger.Error().
			Str("service_id", req.ServiceID).
			Str("path", req.Path).
			Int64("shortfall_credits", split.Shortfall.Credits).
			Int64("shortfall_tokens", split.Shortfall.Tokens).
			Msg("settlement: no inactive plan available, shortfall unrecovered")
		if s.metrics != nil {
			s.metrics.ShortfallCredits.Add(float64(split.Shortfall.Credits))
			s.metrics.ShortfallTokens.Add(float64(split.Shortfall.Tokens))
		}
		entry.ShortfallCredits = split.Shortfall.Credits
		entry.ShortfallTokens = split.Shortfall.Tokens
		entry.Outcome = ports.OutcomeShortfall
		return s.record(ctx, entry)
	}

	expiry := creditplan.ExpiryFrom(now, fallback.ValidityDays)
	if err := s.plans.Activate(ctx, req.ServiceID, fallback.ID, expiry); err != nil {
		return s.fail(req, err, "settlement: fallback activation failed")
	}
	if s.metrics != nil {
		s.metrics.PlanActivations.Inc()
	}
	s.logger.Info().
		Str("service_id", req.ServiceID).
		Str("plan_id", fallback.ID).
		Msg("settlement: fallback plan activated")

	if err := s.plans.ApplyUsage(ctx, fallback.ID, split.Shortfall.Credits, split.Shortfall.Tokens); err != nil {
		return s.fail(req, err, "settlement: fallback usage write failed")
	}
	entry.DeductedCredits += split.Shortfall.Credits
	entry.DeductedTokens += split.Shortfall.Tokens
	entry.ActivatedPlanID = fallback.ID
	entry.Outcome = ports.OutcomeSplit
	return s.record(ctx, entry)
}

func (s *SettlementService) record(ctx context.Context, entry ports.Settlement) error {
	s.countOutcome(entry.Outcome)
	if err := s.journal.Record(ctx, entry); err != nil {
		// The deduction stands; only the journal entry is lost.
		s.logger.Error().Err(err).
			Str("service_id", entry.ServiceID).
			Msg("settlement: journal write failed")
	}
	return nil
}

func (s *SettlementService) fail(req SettleRequest, err error, msg string) error {
	s.logger.Error().Err(err).
		Str("service_id", req.ServiceID).
		Str("path", req.Path).
		Msg(msg)
	return err
}

func (s *SettlementService) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
	}
}

// isExemptOrigin matches on prefix so a hostile origin cannot smuggle
// the exempt domain into its path or query string.
func (s *SettlementService) isExemptOrigin(origin string) bool {
	exempt := *s.exemptOrigin.Load()
	return exempt != "" && origin != "" && strings.HasPrefix(origin, exempt)
}

// keyedMutex serializes work per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*entryLock)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &entryLock{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
