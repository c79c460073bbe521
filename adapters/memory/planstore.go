// Package memory provides in-memory implementations of storage ports,
// used by tests and by dev mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/credix/creditgate/domain/creditplan"
	"github.com/credix/creditgate/ports"
)

// PlanStore is a mutex-guarded in-memory implementation of
// ports.PlanStore. Mutations hold the lock for their full duration, so
// ApplyUsage and Activate are atomic with respect to each other.
type PlanStore struct {
	mu    sync.RWMutex
	plans map[string]creditplan.Plan
}

// NewPlanStore creates an empty in-memory plan store.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[string]creditplan.Plan)}
}

// Create stores a new plan.
func (s *PlanStore) Create(_ context.Context, p creditplan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
	return nil
}

// Get retrieves a plan by ID within a service scope.
func (s *PlanStore) Get(_ context.Context, serviceID, id string) (creditplan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok || p.ServiceID != serviceID {
		return creditplan.Plan{}, creditplan.ErrPlanNotFound
	}
	return p, nil
}

// List returns all plans for a service, expiring plans first.
func (s *PlanStore) List(_ context.Context, serviceID string) ([]creditplan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []creditplan.Plan
	for _, p := range s.plans {
		if p.ServiceID == serviceID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt != nil:
			return a.ExpiresAt.Before(*b.ExpiresAt)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
	return out, nil
}

// FindActive returns the single usable Active plan for a service.
func (s *PlanStore) FindActive(_ context.Context, serviceID string, minTokens int64, now time.Time) (creditplan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.ServiceID != serviceID || p.Status != creditplan.StatusActive {
			continue
		}
		if p.ExpiresAt == nil || !p.ExpiresAt.After(now) {
			continue
		}
		if p.RemainingCredits() <= 0 {
			continue
		}
		if minTokens > 0 && p.Token.Amount < minTokens {
			continue
		}
		return p, nil
	}
	return creditplan.Plan{}, creditplan.ErrPlanNotFound
}

// FindNextAvailable returns the oldest usable Inactive plan.
func (s *PlanStore) FindNextAvailable(_ context.Context, serviceID string, minTokens int64, now time.Time) (creditplan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []creditplan.Plan
	for _, p := range s.plans {
		if p.ServiceID != serviceID || p.Status != creditplan.StatusInactive {
			continue
		}
		if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			continue
		}
		if p.RemainingCredits() <= 0 {
			continue
		}
		if minTokens > 0 && p.Token.Amount < minTokens {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return creditplan.Plan{}, creditplan.ErrPlanNotFound
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0], nil
}

// ApplyUsage atomically adds usage to both counters, refusing to push
// either past its cap.
func (s *PlanStore) ApplyUsage(_ context.Context, id string, credits, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return creditplan.ErrPlanNotFound
	}
	if p.Used+credits > p.TotalCredits || p.Token.Used+tokens > p.Token.Amount {
		return creditplan.ErrCapExceeded
	}
	p.Used += credits
	p.Token.Used += tokens
	p.UpdatedAt = time.Now().UTC()
	s.plans[id] = p
	return nil
}

// Activate flips the target plan Active and the current Active plan of
// the same service Inactive in one critical section.
func (s *PlanStore) Activate(_ context.Context, serviceID, id string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.plans[id]
	if !ok || target.ServiceID != serviceID {
		return creditplan.ErrPlanNotFound
	}

	for pid, p := range s.plans {
		if pid != id && p.ServiceID == serviceID && p.Status == creditplan.StatusActive {
			p.Status = creditplan.StatusInactive
			p.UpdatedAt = time.Now().UTC()
			s.plans[pid] = p
		}
	}

	target.Status = creditplan.StatusActive
	if target.ExpiresAt == nil {
		t := expiresAt
		target.ExpiresAt = &t
	}
	target.UpdatedAt = time.Now().UTC()
	s.plans[id] = target
	return nil
}

// Clear removes all plans (for testing).
func (s *PlanStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = make(map[string]creditplan.Plan)
}

// Ensure interface compliance.
var _ ports.PlanStore = (*PlanStore)(nil)
