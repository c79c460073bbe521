package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

// requireRechargeToken verifies the bearer JWT minted by the billing
// dashboard and stashes its session ID in the request context. The
// token is proof that a checkout happened; the session it points at is
// validated against Redis by the plan service.
func (h *Handler) requireRechargeToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing recharge token")
			return
		}

		sessionID, err := h.parseRechargeToken(raw)
		if err != nil {
			h.logger.Warn().Err(err).Msg("recharge token rejected")
			writeError(w, http.StatusUnauthorized, "invalid recharge token")
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) parseRechargeToken(raw string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(h.jwtSecret), nil
	})
	if err != nil {
		return "", err
	}

	sessionID, _ := claims["sessionId"].(string)
	if sessionID == "" {
		return "", fmt.Errorf("token carries no session id")
	}
	return sessionID, nil
}

// requireAdminKey guards operator endpoints with the configured API
// key. The config stores only the bcrypt hash.
func (h *Handler) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminKeyHash == "" {
			writeError(w, http.StatusForbidden, "plan administration is disabled")
			return
		}

		key := r.Header.Get("X-Api-Key")
		if key == "" {
			key = bearerToken(r)
		}
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing api key")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(h.adminKeyHash), []byte(key)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// sessionIDFrom returns the session ID placed by requireRechargeToken.
func sessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
