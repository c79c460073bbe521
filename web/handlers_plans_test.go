package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/credix/creditgate/domain/creditplan"
	"github.com/credix/creditgate/ports"
)

func mintRechargeToken(t *testing.T, sessionID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sessionId": sessionID,
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func adminRequest(method, path, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	r.Header.Set("X-Service-Id", "svc")
	r.Header.Set("X-Api-Key", testAdminKey)
	return r
}

func purchasePlan(t *testing.T, env *testEnv, sessionID, body string) planResponse {
	t.Helper()
	r := httptest.NewRequest("POST", "/api/v1/credits", strings.NewReader(body))
	r.Header.Set("X-Service-Id", "svc")
	r.Header.Set("Authorization", "Bearer "+mintRechargeToken(t, sessionID))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("purchase status = %d: %s", w.Code, w.Body.String())
	}
	var resp planResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

const purchaseBody = `{
	"totalCredits": 1000,
	"tokenAmount": 5000,
	"validityPeriod": 1,
	"validityPeriodUnit": "MONTH"
}`

func TestCreatePlan_WithRechargeSession(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Put("sess-1", ports.RechargeSession{Purpose: "CreditRecharge", ServiceID: "svc"})

	resp := purchasePlan(t, env, "sess-1", purchaseBody)

	if resp.Status != string(creditplan.StatusActive) {
		t.Errorf("first plan status = %s, want Active", resp.Status)
	}
	if resp.TotalCredits != 1000 || resp.Credit.Amount != 5000 {
		t.Errorf("amounts = %d/%d", resp.TotalCredits, resp.Credit.Amount)
	}
	if resp.ValidityDuration != 30 {
		t.Errorf("validity = %d days, want 1 MONTH = 30", resp.ValidityDuration)
	}
	if resp.ExpiresAt == nil {
		t.Error("active plan has no expiry")
	}
	if resp.CreditDenom != creditplan.DefaultDenom {
		t.Errorf("denom = %q", resp.CreditDenom)
	}
}

func TestCreatePlan_AuthFailures(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Put("wrong", ports.RechargeSession{Purpose: "PasswordReset"})

	tests := []struct {
		name string
		auth string
		want int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"unknown session", "Bearer " + mintRechargeToken(t, "missing"), http.StatusUnauthorized},
		{"wrong purpose", "Bearer " + mintRechargeToken(t, "wrong"), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/v1/credits", strings.NewReader(purchaseBody))
			r.Header.Set("X-Service-Id", "svc")
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCreatePlan_TokenSignedWithWrongSecret(t *testing.T) {
	env := newTestEnv(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sessionId": "sess-1"})
	signed, _ := token.SignedString([]byte("some-other-secret"))

	r := httptest.NewRequest("POST", "/api/v1/credits", strings.NewReader(purchaseBody))
	r.Header.Set("X-Service-Id", "svc")
	r.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestListGetActivatePlans(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Put("s1", ports.RechargeSession{Purpose: "CreditRecharge", ServiceID: "svc"})
	env.sessions.Put("s2", ports.RechargeSession{Purpose: "CreditRecharge", ServiceID: "svc"})

	first := purchasePlan(t, env, "s1", purchaseBody)
	second := purchasePlan(t, env, "s2", purchaseBody)

	// List shows both.
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, adminRequest("GET", "/api/v1/credits", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var plans []planResponse
	json.Unmarshal(w.Body.Bytes(), &plans)
	if len(plans) != 2 {
		t.Fatalf("listed %d plans, want 2", len(plans))
	}

	// Get the second plan.
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, adminRequest("GET", "/api/v1/credits/"+second.ID, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	// Activate the second: exactly one active afterwards.
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, adminRequest("POST", "/api/v1/credits/"+second.ID+"/activate", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("activate status = %d: %s", w.Code, w.Body.String())
	}
	var activated planResponse
	json.Unmarshal(w.Body.Bytes(), &activated)
	if activated.Status != string(creditplan.StatusActive) {
		t.Errorf("activated status = %s", activated.Status)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, adminRequest("GET", "/api/v1/credits/"+first.ID, ""))
	var old planResponse
	json.Unmarshal(w.Body.Bytes(), &old)
	if old.Status != string(creditplan.StatusInactive) {
		t.Errorf("previous plan status = %s, want Inactive", old.Status)
	}
}

func TestGetPlan_NotFound(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, adminRequest("GET", "/api/v1/credits/nope", ""))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAdminKey_Rejections(t *testing.T) {
	env := newTestEnv(t)

	r := httptest.NewRequest("GET", "/api/v1/credits", nil)
	r.Header.Set("X-Service-Id", "svc")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", w.Code)
	}

	r = httptest.NewRequest("GET", "/api/v1/credits", nil)
	r.Header.Set("X-Service-Id", "svc")
	r.Header.Set("X-Api-Key", "wrong-key")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}
}

func TestAdminKey_DisabledWithoutHash(t *testing.T) {
	env := newTestEnv(t)
	env.handler.adminKeyHash = ""

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, adminRequest("GET", "/api/v1/credits", ""))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when no admin key configured", w.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedActivePlan(t, "p1", 1000, 1000)

	// Generate one billed request.
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, proxyRequest("POST", "/api/v1/schema", `{}`))
	if w.Code != 200 {
		t.Fatalf("proxy status = %d", w.Code)
	}
	env.waitSettled(t)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, adminRequest("GET", "/api/v1/credits/usage", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("usage status = %d", w.Code)
	}
	var entries []settlementResponse
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Outcome != ports.OutcomeSettled {
		t.Errorf("outcome = %s", entries[0].Outcome)
	}
	// POST(5) + RegisterSchema attestation credit(5).
	if entries[0].DeductedCredits != 10 || entries[0].DeductedTokens != 50 {
		t.Errorf("deducted = %d/%d, want 10/50", entries[0].DeductedCredits, entries[0].DeductedTokens)
	}
}
