// Package app provides application services that orchestrate the
// metering pipeline: admission before the upstream call, settlement
// after it, and plan administration.
package app

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/credix/creditgate/adapters/metrics"
	"github.com/credix/creditgate/domain/cost"
	"github.com/credix/creditgate/domain/creditplan"
	"github.com/credix/creditgate/ports"
)

// DynamicConfig contains hot-reloadable metering configuration.
type DynamicConfig struct {
	Table        cost.Table
	ExemptOrigin string
}

// MeterRequest is the transport-independent view of an incoming call.
type MeterRequest struct {
	ServiceID string
	Method    string
	Path      string
	Origin    string
	Flags     cost.BodyFlags
}

// Decision is the admission verdict for one request.
type Decision struct {
	Allowed bool
	Reason  string
	Profile cost.Profile
}

// AdmissionService decides whether a request may proceed upstream. It
// never mutates the ledger; deductions happen in settlement.
type AdmissionService struct {
	plans      ports.PlanStore
	classifier *cost.Classifier
	clock      ports.Clock
	logger     zerolog.Logger
	metrics    *metrics.Collector

	dynamicCfg atomic.Pointer[DynamicConfig]
}

// AdmissionDeps contains dependencies for AdmissionService.
type AdmissionDeps struct {
	Plans   ports.PlanStore
	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// NewAdmissionService creates a new admission service.
func NewAdmissionService(deps AdmissionDeps, cfg DynamicConfig) *AdmissionService {
	s := &AdmissionService{
		plans:      deps.Plans,
		classifier: cost.NewClassifier(),
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	s.dynamicCfg.Store(&cfg)
	return s
}

// UpdateConfig atomically swaps the hot-reloadable configuration.
func (s *AdmissionService) UpdateConfig(cfg DynamicConfig) {
	s.dynamicCfg.Store(&cfg)
}

// Config returns the current dynamic configuration.
func (s *AdmissionService) Config() DynamicConfig {
	return *s.dynamicCfg.Load()
}

// Price classifies and prices a request against the current table.
func (s *AdmissionService) Price(req MeterRequest) cost.Profile {
	cat := s.classifier.Classify(req.Method, req.Path, req.Flags)
	return s.dynamicCfg.Load().Table.Price(req.Method, cat)
}

// Check prices the request and verifies the service holds a usable
// plan. A plan is usable when it is Active, unexpired, has remaining
// balance in both currencies for the required cost, and (for ledger
// writes) carries a token grant at least as large as the token cost.
// When the active plan falls short, an available inactive plan keeps
// the request admitted; the fallback switch happens at settlement.
//
// Store failures deny: admitting a request we cannot later settle
// would hand out free upstream calls.
func (s *AdmissionService) Check(ctx context.Context, req MeterRequest) Decision {
	profile := s.Price(req)
	required := creditplan.Cost{Credits: profile.TotalCredits, Tokens: profile.AttestationHID}

	decision := s.check(ctx, req, required)
	decision.Profile = profile

	label := "deny"
	if decision.Allowed {
		label = "allow"
	}
	if s.metrics != nil {
		s.metrics.AdmissionsTotal.WithLabelValues(label).Inc()
	}
	return decision
}

func (s *AdmissionService) check(ctx context.Context, req MeterRequest, required creditplan.Cost) Decision {
	now := s.clock.Now()

	active, err := s.plans.FindActive(ctx, req.ServiceID, required.Tokens, now)
	switch {
	case err == nil:
		if active.CanCover(required) {
			return Decision{Allowed: true}
		}
	case !errors.Is(err, creditplan.ErrPlanNotFound):
		s.logger.Error().Err(err).
			Str("service_id", req.ServiceID).
			Msg("admission: active plan lookup failed")
		return Decision{Reason: creditplan.ErrNoUsablePlan.Error()}
	}

	// No usable active plan; a waiting inactive plan still admits.
	_, err = s.plans.FindNextAvailable(ctx, req.ServiceID, required.Tokens, now)
	if err != nil {
		if !errors.Is(err, creditplan.ErrPlanNotFound) {
			s.logger.Error().Err(err).
				Str("service_id", req.ServiceID).
				Msg("admission: fallback plan lookup failed")
		}
		return Decision{Reason: creditplan.ErrNoUsablePlan.Error()}
	}
	return Decision{Allowed: true}
}
