package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/credix/creditgate/adapters/metrics"
	"github.com/credix/creditgate/domain/creditplan"
	"github.com/credix/creditgate/ports"
)

// ErrSessionRejected is returned when a recharge session does not
// authorize a plan purchase.
var ErrSessionRejected = errors.New("recharge session rejected")

// rechargePurpose is the only session purpose that authorizes a
// plan purchase.
const rechargePurpose = "CreditRecharge"

// CreatePlanInput is a purchase request resolved from a recharge
// session.
type CreatePlanInput struct {
	ServiceID    string
	SessionID    string
	TotalCredits int64
	CreditDenom  string
	TokenAmount  int64
	TokenDenom   string
	Validity     int
	ValidityUnit creditplan.ValidityUnit
	Scope        []string
}

// PlanService administers credit plans: purchase, activation, listing.
type PlanService struct {
	plans    ports.PlanStore
	sessions ports.SessionStore
	journal  ports.SettlementStore
	clock    ports.Clock
	idGen    ports.IDGenerator
	logger   zerolog.Logger
	metrics  *metrics.Collector
}

// PlanDeps contains dependencies for PlanService.
type PlanDeps struct {
	Plans    ports.PlanStore
	Sessions ports.SessionStore
	Journal  ports.SettlementStore
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   zerolog.Logger
	Metrics  *metrics.Collector
}

// NewPlanService creates a new plan administration service.
func NewPlanService(deps PlanDeps) *PlanService {
	return &PlanService{
		plans:    deps.Plans,
		sessions: deps.Sessions,
		journal:  deps.Journal,
		clock:    deps.Clock,
		idGen:    deps.IDGen,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
}

// Purchase validates the recharge session and creates the plan it
// paid for. The session is the proof of payment: it must exist, carry
// the recharge purpose, and belong to the purchasing service. The
// first plan a service ever buys is activated immediately; later ones
// wait as fallbacks.
func (s *PlanService) Purchase(ctx context.Context, in CreatePlanInput) (creditplan.Plan, error) {
	session, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("service_id", in.ServiceID).
			Msg("plan purchase: session lookup failed")
		return creditplan.Plan{}, fmt.Errorf("%w: %v", ErrSessionRejected, err)
	}
	if session.Purpose != rechargePurpose {
		return creditplan.Plan{}, fmt.Errorf("%w: purpose %q", ErrSessionRejected, session.Purpose)
	}
	if session.ServiceID != "" && session.ServiceID != in.ServiceID {
		return creditplan.Plan{}, fmt.Errorf("%w: session issued for another service", ErrSessionRejected)
	}

	// Session amounts win over request amounts when present; the
	// dashboard wrote what was actually paid for.
	if session.Amount > 0 {
		in.TotalCredits = session.Amount
	}
	if session.AmountDenom != "" {
		in.CreditDenom = session.AmountDenom
	}
	if session.ValidityPeriod > 0 {
		in.Validity = session.ValidityPeriod
		in.ValidityUnit = creditplan.ValidityUnit(strings.ToUpper(session.ValidityPeriodUnit))
	}

	return s.create(ctx, in)
}

func (s *PlanService) create(ctx context.Context, in CreatePlanInput) (creditplan.Plan, error) {
	if in.ServiceID == "" {
		return creditplan.Plan{}, errors.New("service id is required")
	}
	if in.TotalCredits <= 0 {
		return creditplan.Plan{}, errors.New("credit amount must be positive")
	}

	now := s.clock.Now()
	p := creditplan.Plan{
		ID:           s.idGen.New(),
		ServiceID:    in.ServiceID,
		TotalCredits: in.TotalCredits,
		CreditDenom:  in.CreditDenom,
		Token: creditplan.TokenGrant{
			Amount: in.TokenAmount,
			Denom:  in.TokenDenom,
		},
		ValidityDays: creditplan.NormalizeValidity(in.Validity, in.ValidityUnit),
		Status:       creditplan.StatusInactive,
		Scope:        in.Scope,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.CreditDenom == "" {
		p.CreditDenom = creditplan.DefaultDenom
	}
	if p.Token.Denom == "" {
		p.Token.Denom = creditplan.DefaultDenom
	}

	// First plan for a service goes straight to Active with its expiry
	// clock running.
	_, err := s.plans.FindActive(ctx, in.ServiceID, 0, now)
	if errors.Is(err, creditplan.ErrPlanNotFound) {
		p.Status = creditplan.StatusActive
		exp := creditplan.ExpiryFrom(now, p.ValidityDays)
		p.ExpiresAt = &exp
	} else if err != nil {
		return creditplan.Plan{}, fmt.Errorf("check active plan: %w", err)
	}

	if err := s.plans.Create(ctx, p); err != nil {
		return creditplan.Plan{}, fmt.Errorf("create plan: %w", err)
	}
	if p.Status == creditplan.StatusActive && s.metrics != nil {
		s.metrics.PlanActivations.Inc()
	}
	s.logger.Info().
		Str("service_id", p.ServiceID).
		Str("plan_id", p.ID).
		Int64("credits", p.TotalCredits).
		Str("status", string(p.Status)).
		Msg("credit plan created")
	return p, nil
}

// Activate makes the given plan the service's active one, deactivating
// any current active plan. The expiry window starts now unless the
// plan was activated before; re-activation keeps the original window.
func (s *PlanService) Activate(ctx context.Context, serviceID, planID string) (creditplan.Plan, error) {
	p, err := s.plans.Get(ctx, serviceID, planID)
	if err != nil {
		return creditplan.Plan{}, err
	}

	now := s.clock.Now()
	expiry := creditplan.ExpiryFrom(now, p.ValidityDays)
	if err := s.plans.Activate(ctx, serviceID, planID, expiry); err != nil {
		return creditplan.Plan{}, err
	}
	if s.metrics != nil {
		s.metrics.PlanActivations.Inc()
	}
	s.logger.Info().
		Str("service_id", serviceID).
		Str("plan_id", planID).
		Msg("credit plan activated")
	return s.plans.Get(ctx, serviceID, planID)
}

// Get returns one plan within the service scope.
func (s *PlanService) Get(ctx context.Context, serviceID, planID string) (creditplan.Plan, error) {
	return s.plans.Get(ctx, serviceID, planID)
}

// List returns the service's plans, expiring soonest first.
func (s *PlanService) List(ctx context.Context, serviceID string) ([]creditplan.Plan, error) {
	return s.plans.List(ctx, serviceID)
}

// Usage returns recent settlement journal entries for the service.
func (s *PlanService) Usage(ctx context.Context, serviceID string, limit int) ([]ports.Settlement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.journal.ListRecent(ctx, serviceID, limit)
}
