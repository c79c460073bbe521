package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/credix/creditgate/domain/creditplan"
)

func newTestPlan(id, serviceID string, status creditplan.Status, created time.Time) creditplan.Plan {
	return creditplan.Plan{
		ID:           id,
		ServiceID:    serviceID,
		TotalCredits: 100,
		CreditDenom:  creditplan.DefaultDenom,
		Token:        creditplan.TokenGrant{Amount: 1000, Denom: creditplan.DefaultDenom},
		ValidityDays: 30,
		Status:       status,
		CreatedAt:    created,
	}
}

func TestPlanStore_GetScopedByService(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()
	now := time.Now()

	s.Create(ctx, newTestPlan("p1", "svc-a", creditplan.StatusInactive, now))

	if _, err := s.Get(ctx, "svc-a", "p1"); err != nil {
		t.Fatalf("Get within scope: %v", err)
	}
	if _, err := s.Get(ctx, "svc-b", "p1"); err != creditplan.ErrPlanNotFound {
		t.Errorf("expected ErrPlanNotFound for foreign service, got %v", err)
	}
}

func TestPlanStore_FindActive(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	active := newTestPlan("p-active", "svc", creditplan.StatusActive, now)
	exp := now.AddDate(0, 0, 30)
	active.ExpiresAt = &exp
	s.Create(ctx, active)
	s.Create(ctx, newTestPlan("p-idle", "svc", creditplan.StatusInactive, now))

	got, err := s.FindActive(ctx, "svc", 0, now)
	if err != nil {
		t.Fatalf("FindActive: %v", err)
	}
	if got.ID != "p-active" {
		t.Errorf("FindActive returned %s, want p-active", got.ID)
	}
}

func TestPlanStore_FindActive_FiltersExpiredAndDrained(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		mutate    func(*creditplan.Plan)
		minTokens int64
	}{
		{"expired", func(p *creditplan.Plan) {
			past := now.Add(-time.Hour)
			p.ExpiresAt = &past
		}, 0},
		{"never activated", func(p *creditplan.Plan) { p.ExpiresAt = nil }, 0},
		{"credits drained", func(p *creditplan.Plan) {
			exp := now.AddDate(0, 0, 1)
			p.ExpiresAt = &exp
			p.Used = p.TotalCredits
		}, 0},
		{"token grant too small", func(p *creditplan.Plan) {
			exp := now.AddDate(0, 0, 1)
			p.ExpiresAt = &exp
			p.Token.Amount = 10
		}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewPlanStore()
			p := newTestPlan("p1", "svc", creditplan.StatusActive, now)
			tt.mutate(&p)
			s.Create(ctx, p)

			if _, err := s.FindActive(ctx, "svc", tt.minTokens, now); err != creditplan.ErrPlanNotFound {
				t.Errorf("expected ErrPlanNotFound, got %v", err)
			}
		})
	}
}

func TestPlanStore_FindNextAvailable_OldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	s.Create(ctx, newTestPlan("newer", "svc", creditplan.StatusInactive, now.Add(time.Hour)))
	s.Create(ctx, newTestPlan("older", "svc", creditplan.StatusInactive, now))

	got, err := s.FindNextAvailable(ctx, "svc", 0, now)
	if err != nil {
		t.Fatalf("FindNextAvailable: %v", err)
	}
	if got.ID != "older" {
		t.Errorf("expected oldest plan first, got %s", got.ID)
	}
}

func TestPlanStore_ApplyUsage_RefusesOverdraw(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()
	now := time.Now()

	p := newTestPlan("p1", "svc", creditplan.StatusActive, now)
	p.Used = 98
	s.Create(ctx, p)

	if err := s.ApplyUsage(ctx, "p1", 3, 0); err != creditplan.ErrCapExceeded {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}

	// Nothing may be written on refusal.
	got, _ := s.Get(ctx, "svc", "p1")
	if got.Used != 98 || got.Token.Used != 0 {
		t.Errorf("counters changed on refused usage: used=%d tokenUsed=%d", got.Used, got.Token.Used)
	}

	if err := s.ApplyUsage(ctx, "p1", 2, 5); err != nil {
		t.Fatalf("exact-cap usage should succeed: %v", err)
	}
	got, _ = s.Get(ctx, "svc", "p1")
	if got.Used != 100 || got.Token.Used != 5 {
		t.Errorf("expected used=100 tokenUsed=5, got used=%d tokenUsed=%d", got.Used, got.Token.Used)
	}
}

func TestPlanStore_Activate_FlipsExactlyOne(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	y := newTestPlan("plan-y", "svc", creditplan.StatusActive, now)
	exp := now.AddDate(0, 0, 30)
	y.ExpiresAt = &exp
	s.Create(ctx, y)
	s.Create(ctx, newTestPlan("plan-x", "svc", creditplan.StatusInactive, now))

	if err := s.Activate(ctx, "svc", "plan-x", now.AddDate(0, 0, 30)); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	plans, _ := s.List(ctx, "svc")
	activeCount := 0
	for _, p := range plans {
		if p.Status == creditplan.StatusActive {
			activeCount++
			if p.ID != "plan-x" {
				t.Errorf("wrong plan active: %s", p.ID)
			}
		}
	}
	if activeCount != 1 {
		t.Errorf("expected exactly one active plan, got %d", activeCount)
	}
}

func TestPlanStore_Activate_KeepsExistingExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	p := newTestPlan("p1", "svc", creditplan.StatusInactive, now)
	orig := now.AddDate(0, 0, 7)
	p.ExpiresAt = &orig
	s.Create(ctx, p)

	s.Activate(ctx, "svc", "p1", now.AddDate(0, 0, 99))

	got, _ := s.Get(ctx, "svc", "p1")
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(orig) {
		t.Errorf("expiry overwritten on reactivation: %v", got.ExpiresAt)
	}
}

func TestPlanStore_Activate_DoesNotTouchOtherServices(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()
	now := time.Now()

	other := newTestPlan("other-active", "svc-b", creditplan.StatusActive, now)
	s.Create(ctx, other)
	s.Create(ctx, newTestPlan("mine", "svc-a", creditplan.StatusInactive, now))

	s.Activate(ctx, "svc-a", "mine", now.AddDate(0, 0, 30))

	got, _ := s.Get(ctx, "svc-b", "other-active")
	if got.Status != creditplan.StatusActive {
		t.Error("activation leaked across service scopes")
	}
}

func TestPlanStore_ApplyUsage_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()
	now := time.Now()

	p := newTestPlan("p1", "svc", creditplan.StatusActive, now)
	p.TotalCredits = 50
	p.Token.Amount = 50
	s.Create(ctx, p)

	// 100 goroutines each try to spend 1 credit; only 50 may succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ApplyUsage(ctx, "p1", 1, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 50 {
		t.Errorf("expected exactly 50 successful deductions, got %d", succeeded)
	}
	got, _ := s.Get(ctx, "svc", "p1")
	if got.Used != 50 {
		t.Errorf("expected used=50, got %d", got.Used)
	}
}
