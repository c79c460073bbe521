package app

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/credix/creditgate/adapters/clock"
	"github.com/credix/creditgate/adapters/idgen"
	"github.com/credix/creditgate/adapters/memory"
	"github.com/credix/creditgate/domain/creditplan"
	"github.com/credix/creditgate/ports"
)

func newPlanService(plans ports.PlanStore, sessions ports.SessionStore, journal ports.SettlementStore, clk ports.Clock) *PlanService {
	return NewPlanService(PlanDeps{
		Plans:    plans,
		Sessions: sessions,
		Journal:  journal,
		Clock:    clk,
		IDGen:    idgen.NewSequential("plan"),
		Logger:   zerolog.Nop(),
	})
}

func rechargeSession(serviceID string) ports.RechargeSession {
	return ports.RechargeSession{
		Purpose:   rechargePurpose,
		ServiceID: serviceID,
	}
}

func TestPurchase_FirstPlanActivatesImmediately(t *testing.T) {
	ctx := context.Background()
	plans := memory.NewPlanStore()
	sessions := memory.NewSessionStore()
	clk := clock.NewFake(testTime)
	sessions.Put("sess-1", rechargeSession("svc"))

	svc := newPlanService(plans, sessions, memory.NewSettlementStore(), clk)
	p, err := svc.Purchase(ctx, CreatePlanInput{
		ServiceID:    "svc",
		SessionID:    "sess-1",
		TotalCredits: 1000,
		TokenAmount:  5000,
		Validity:     30,
		ValidityUnit: creditplan.UnitDays,
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if p.Status != creditplan.StatusActive {
		t.Errorf("first plan status = %s, want Active", p.Status)
	}
	if p.ExpiresAt == nil {
		t.Fatal("first plan has no expiry")
	}
	if want := testTime.AddDate(0, 0, 30); !p.ExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want %v", p.ExpiresAt, want)
	}
	if p.CreditDenom != creditplan.DefaultDenom || p.Token.Denom != creditplan.DefaultDenom {
		t.Errorf("denoms not defaulted: %q / %q", p.CreditDenom, p.Token.Denom)
	}
}

func TestPurchase_SecondPlanStaysInactive(t *testing.T) {
	ctx := context.Background()
	plans := memory.NewPlanStore()
	sessions := memory.NewSessionStore()
	clk := clock.NewFake(testTime)
	sessions.Put("sess-1", rechargeSession("svc"))
	sessions.Put("sess-2", rechargeSession("svc"))

	svc := newPlanService(plans, sessions, memory.NewSettlementStore(), clk)
	in := CreatePlanInput{ServiceID: "svc", TotalCredits: 1000, Validity: 30, ValidityUnit: creditplan.UnitDays}

	in.SessionID = "sess-1"
	if _, err := svc.Purchase(ctx, in); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	in.SessionID = "sess-2"
	second, err := svc.Purchase(ctx, in)
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	if second.Status != creditplan.StatusInactive {
		t.Errorf("second plan status = %s, want Inactive", second.Status)
	}
	if second.ExpiresAt != nil {
		t.Errorf("inactive plan must not have an expiry, got %v", second.ExpiresAt)
	}
}

func TestPurchase_SessionValidation(t *testing.T) {
	ctx := context.Background()
	sessions := memory.NewSessionStore()
	sessions.Put("wrong-purpose", ports.RechargeSession{Purpose: "PasswordReset"})
	sessions.Put("other-service", ports.RechargeSession{Purpose: rechargePurpose, ServiceID: "someone-else"})

	svc := newPlanService(memory.NewPlanStore(), sessions, memory.NewSettlementStore(), clock.NewFake(testTime))

	tests := []struct {
		name      string
		sessionID string
	}{
		{"missing session", "no-such-session"},
		{"wrong purpose", "wrong-purpose"},
		{"foreign service", "other-service"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Purchase(ctx, CreatePlanInput{
				ServiceID:    "svc",
				SessionID:    tt.sessionID,
				TotalCredits: 100,
			})
			if !errors.Is(err, ErrSessionRejected) {
				t.Errorf("expected ErrSessionRejected, got %v", err)
			}
		})
	}
}

func TestPurchase_SessionAmountsWin(t *testing.T) {
	ctx := context.Background()
	plans := memory.NewPlanStore()
	sessions := memory.NewSessionStore()
	sessions.Put("sess-1", ports.RechargeSession{
		Purpose:            rechargePurpose,
		ServiceID:          "svc",
		Amount:             2500,
		AmountDenom:        "uHID",
		ValidityPeriod:     2,
		ValidityPeriodUnit: "week",
	})

	svc := newPlanService(plans, sessions, memory.NewSettlementStore(), clock.NewFake(testTime))
	p, err := svc.Purchase(ctx, CreatePlanInput{
		ServiceID:    "svc",
		SessionID:    "sess-1",
		TotalCredits: 1, // ignored, session says 2500
		Validity:     365,
		ValidityUnit: creditplan.UnitDays,
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if p.TotalCredits != 2500 {
		t.Errorf("credits = %d, want session amount 2500", p.TotalCredits)
	}
	if p.ValidityDays != 14 {
		t.Errorf("validity = %d days, want 2 weeks = 14", p.ValidityDays)
	}
}

func TestActivate_SwitchesActivePlan(t *testing.T) {
	ctx := context.Background()
	plans := memory.NewPlanStore()
	sessions := memory.NewSessionStore()
	clk := clock.NewFake(testTime)
	sessions.Put("s1", rechargeSession("svc"))
	sessions.Put("s2", rechargeSession("svc"))

	svc := newPlanService(plans, sessions, memory.NewSettlementStore(), clk)
	in := CreatePlanInput{ServiceID: "svc", TotalCredits: 100, Validity: 30, ValidityUnit: creditplan.UnitDays}

	in.SessionID = "s1"
	first, _ := svc.Purchase(ctx, in)
	in.SessionID = "s2"
	second, _ := svc.Purchase(ctx, in)

	got, err := svc.Activate(ctx, "svc", second.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got.Status != creditplan.StatusActive {
		t.Errorf("activated plan status = %s", got.Status)
	}

	all, _ := svc.List(ctx, "svc")
	active := 0
	for _, p := range all {
		if p.Status == creditplan.StatusActive {
			active++
		}
		if p.ID == first.ID && p.Status != creditplan.StatusInactive {
			t.Errorf("previous plan still %s", p.Status)
		}
	}
	if active != 1 {
		t.Errorf("active plans = %d, want exactly 1", active)
	}
}

func TestActivate_UnknownPlan(t *testing.T) {
	svc := newPlanService(memory.NewPlanStore(), memory.NewSessionStore(), memory.NewSettlementStore(), clock.NewFake(testTime))
	if _, err := svc.Activate(context.Background(), "svc", "nope"); !errors.Is(err, creditplan.ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestUsage_DefaultsLimit(t *testing.T) {
	ctx := context.Background()
	journal := memory.NewSettlementStore()
	journal.Record(ctx, ports.Settlement{ID: "s1", ServiceID: "svc", Outcome: ports.OutcomeSettled})

	svc := newPlanService(memory.NewPlanStore(), memory.NewSessionStore(), journal, clock.NewFake(testTime))
	got, err := svc.Usage(ctx, "svc", 0)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("entries = %d, want 1", len(got))
	}
}
