package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/credix/creditgate/app"
	"github.com/credix/creditgate/domain/cost"
	"github.com/credix/creditgate/ports"
)

// deniedMessage is the body tenants see when admission fails.
const deniedMessage = "Insufficient credits or no active plan"

// maxMeteredBody bounds how much of a request body the gateway buffers.
const maxMeteredBody = 10 << 20 // 10MB

// settleTimeout bounds the post-response settlement work.
const settleTimeout = 30 * time.Second

// Proxy is the metered catch-all: admit, forward, settle.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serviceID := r.Header.Get(h.serviceHeader)
	if serviceID == "" {
		writeError(w, http.StatusBadRequest, "missing "+h.serviceHeader+" header")
		return
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxMeteredBody))
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to read request body")
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
	}

	meterReq := app.MeterRequest{
		ServiceID: serviceID,
		Method:    r.Method,
		Path:      r.URL.Path,
		Origin:    requestOrigin(r),
		Flags:     extractBodyFlags(r, body),
	}

	decision := h.admission.Check(ctx, meterReq)
	if !decision.Allowed {
		h.logger.Info().
			Str("service_id", serviceID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request denied")
		writeError(w, http.StatusForbidden, deniedMessage)
		return
	}

	resp, err := h.upstream.Forward(ctx, ports.Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		Query:    r.URL.RawQuery,
		Headers:  extractHeaders(r),
		Body:     body,
		RemoteIP: extractIP(r),
	})
	if err != nil {
		h.logger.Error().Err(err).
			Str("service_id", serviceID).
			Str("path", r.URL.Path).
			Msg("upstream error")
		if h.metrics != nil {
			h.metrics.UpstreamErrors.Inc()
		}
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	if h.metrics != nil {
		h.metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(resp.Status)).Inc()
		h.metrics.UpstreamDuration.Observe(float64(resp.LatencyMs) / 1000)
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			h.logger.Error().Err(err).Msg("failed to write response body")
		}
	}

	// Settlement runs after the response; the tenant never waits for
	// ledger writes.
	go h.settle(app.SettleRequest{
		ServiceID: serviceID,
		Method:    meterReq.Method,
		Path:      meterReq.Path,
		Origin:    meterReq.Origin,
		Profile:   decision.Profile,
		Status:    resp.Status,
	})
}

func (h *Handler) settle(req app.SettleRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := h.settlement.Settle(ctx, req); err != nil {
		h.logger.Error().Err(err).
			Str("service_id", req.ServiceID).
			Str("path", req.Path).
			Msg("settlement failed")
	}
	if h.onSettled != nil {
		h.onSettled()
	}
}

// extractBodyFlags pulls the pricing switches from the JSON body, with
// a query-string fallback for clients that send them as parameters. An
// explicit body value always wins over the query string.
func extractBodyFlags(r *http.Request, body []byte) cost.BodyFlags {
	var flags cost.BodyFlags
	var persistSet, registerSet bool

	if len(body) > 0 {
		var fields struct {
			Persist        *bool           `json:"persist"`
			RegisterStatus *bool           `json:"registerCredentialStatus"`
			DIDDocument    json.RawMessage `json:"didDocument"`
		}
		if err := json.Unmarshal(body, &fields); err == nil {
			if fields.Persist != nil {
				flags.Persist = *fields.Persist
				persistSet = true
			}
			if fields.RegisterStatus != nil {
				flags.RegisterStatus = *fields.RegisterStatus
				registerSet = true
			}
			flags.HasDIDDocument = len(fields.DIDDocument) > 0 && string(fields.DIDDocument) != "null"
		}
	}

	q := r.URL.Query()
	if v := q.Get("persist"); v != "" && !persistSet {
		flags.Persist = v == "true"
	}
	if v := q.Get("registerCredentialStatus"); v != "" && !registerSet {
		flags.RegisterStatus = v == "true"
	}

	return flags
}

// requestOrigin returns the Origin header, falling back to Referer.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	return r.Header.Get("Referer")
}

func extractHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return headers
}

func extractIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
