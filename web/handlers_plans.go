package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/credix/creditgate/app"
	"github.com/credix/creditgate/domain/creditplan"
	"github.com/credix/creditgate/ports"
)

// planResponse is the wire shape of a credit plan.
type planResponse struct {
	ID               string     `json:"id"`
	ServiceID        string     `json:"serviceId"`
	TotalCredits     int64      `json:"totalCredits"`
	Used             int64      `json:"used"`
	CreditDenom      string     `json:"creditDenom"`
	Credit           tokenBody  `json:"credit"`
	ValidityDuration int        `json:"validityDuration"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	Status           string     `json:"status"`
	CreditScope      []string   `json:"creditScope,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type tokenBody struct {
	Amount int64  `json:"amount"`
	Used   int64  `json:"used"`
	Denom  string `json:"denom"`
}

func toPlanResponse(p creditplan.Plan) planResponse {
	return planResponse{
		ID:           p.ID,
		ServiceID:    p.ServiceID,
		TotalCredits: p.TotalCredits,
		Used:         p.Used,
		CreditDenom:  p.CreditDenom,
		Credit: tokenBody{
			Amount: p.Token.Amount,
			Used:   p.Token.Used,
			Denom:  p.Token.Denom,
		},
		ValidityDuration: p.ValidityDays,
		ExpiresAt:        p.ExpiresAt,
		Status:           string(p.Status),
		CreditScope:      p.Scope,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// createPlanRequest is the purchase payload. Amounts may be overridden
// by the recharge session the token points at.
type createPlanRequest struct {
	TotalCredits       int64    `json:"totalCredits"`
	CreditDenom        string   `json:"creditDenom"`
	TokenAmount        int64    `json:"tokenAmount"`
	TokenDenom         string   `json:"tokenDenom"`
	ValidityPeriod     int      `json:"validityPeriod"`
	ValidityPeriodUnit string   `json:"validityPeriodUnit"`
	CreditScope        []string `json:"creditScope"`
}

// CreatePlan purchases a plan for the calling service.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	serviceID := r.Header.Get(h.serviceHeader)
	if serviceID == "" {
		writeError(w, http.StatusBadRequest, "missing "+h.serviceHeader+" header")
		return
	}

	var body createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan, err := h.plans.Purchase(r.Context(), app.CreatePlanInput{
		ServiceID:    serviceID,
		SessionID:    sessionIDFrom(r.Context()),
		TotalCredits: body.TotalCredits,
		CreditDenom:  body.CreditDenom,
		TokenAmount:  body.TokenAmount,
		TokenDenom:   body.TokenDenom,
		Validity:     body.ValidityPeriod,
		ValidityUnit: creditplan.ValidityUnit(body.ValidityPeriodUnit),
		Scope:        body.CreditScope,
	})
	if err != nil {
		if errors.Is(err, app.ErrSessionRejected) {
			writeError(w, http.StatusUnauthorized, "recharge session rejected")
			return
		}
		h.logger.Error().Err(err).Str("service_id", serviceID).Msg("plan purchase failed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toPlanResponse(plan))
}

// ListPlans returns the service's plans, expiring soonest first.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	serviceID := r.Header.Get(h.serviceHeader)
	if serviceID == "" {
		writeError(w, http.StatusBadRequest, "missing "+h.serviceHeader+" header")
		return
	}

	plans, err := h.plans.List(r.Context(), serviceID)
	if err != nil {
		h.logger.Error().Err(err).Str("service_id", serviceID).Msg("list plans failed")
		writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}

	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPlan returns one plan within the service scope.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	serviceID := r.Header.Get(h.serviceHeader)
	if serviceID == "" {
		writeError(w, http.StatusBadRequest, "missing "+h.serviceHeader+" header")
		return
	}

	plan, err := h.plans.Get(r.Context(), serviceID, chi.URLParam(r, "creditId"))
	if err != nil {
		if errors.Is(err, creditplan.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "credit plan not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch plan")
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(plan))
}

// ActivatePlan makes the given plan the service's active one.
func (h *Handler) ActivatePlan(w http.ResponseWriter, r *http.Request) {
	serviceID := r.Header.Get(h.serviceHeader)
	if serviceID == "" {
		writeError(w, http.StatusBadRequest, "missing "+h.serviceHeader+" header")
		return
	}

	plan, err := h.plans.Activate(r.Context(), serviceID, chi.URLParam(r, "creditId"))
	if err != nil {
		if errors.Is(err, creditplan.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "credit plan not found")
			return
		}
		h.logger.Error().Err(err).Str("service_id", serviceID).Msg("plan activation failed")
		writeError(w, http.StatusInternalServerError, "failed to activate plan")
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(plan))
}

// settlementResponse is the wire shape of a journal entry.
type settlementResponse struct {
	ID               string    `json:"id"`
	Method           string    `json:"method"`
	Path             string    `json:"path"`
	RequiredCredits  int64     `json:"requiredCredits"`
	RequiredTokens   int64     `json:"requiredTokens"`
	DeductedCredits  int64     `json:"deductedCredits"`
	DeductedTokens   int64     `json:"deductedTokens"`
	ShortfallCredits int64     `json:"shortfallCredits,omitempty"`
	ShortfallTokens  int64     `json:"shortfallTokens,omitempty"`
	ActivatedPlanID  string    `json:"activatedPlanId,omitempty"`
	Outcome          string    `json:"outcome"`
	CreatedAt        time.Time `json:"createdAt"`
}

func toSettlementResponse(s ports.Settlement) settlementResponse {
	return settlementResponse{
		ID:               s.ID,
		Method:           s.Method,
		Path:             s.Path,
		RequiredCredits:  s.RequiredCredits,
		RequiredTokens:   s.RequiredTokens,
		DeductedCredits:  s.DeductedCredits,
		DeductedTokens:   s.DeductedTokens,
		ShortfallCredits: s.ShortfallCredits,
		ShortfallTokens:  s.ShortfallTokens,
		ActivatedPlanID:  s.ActivatedPlanID,
		Outcome:          s.Outcome,
		CreatedAt:        s.CreatedAt,
	}
}

// Usage returns the service's recent settlement journal entries.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	serviceID := r.Header.Get(h.serviceHeader)
	if serviceID == "" {
		writeError(w, http.StatusBadRequest, "missing "+h.serviceHeader+" header")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.plans.Usage(r.Context(), serviceID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("service_id", serviceID).Msg("usage listing failed")
		writeError(w, http.StatusInternalServerError, "failed to list usage")
		return
	}

	out := make([]settlementResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toSettlementResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}
