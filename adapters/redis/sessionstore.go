// Package redis provides the Redis-backed recharge session lookup.
// Sessions are written by the external billing dashboard; this adapter
// only reads them.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/credix/creditgate/ports"
	goredis "github.com/redis/go-redis/v9"
)

// SessionStore implements ports.SessionStore over Redis.
type SessionStore struct {
	client *goredis.Client
}

// NewSessionStore creates a session store from a Redis address.
func NewSessionStore(addr, password string, db int) *SessionStore {
	return &SessionStore{
		client: goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// sessionPayload mirrors the JSON the dashboard writes.
type sessionPayload struct {
	Purpose            string `json:"purpose"`
	Amount             int64  `json:"amount"`
	AmountDenom        string `json:"amountDenom"`
	ValidityPeriod     int    `json:"validityPeriod"`
	ValidityPeriodUnit string `json:"validityPeriodUnit"`
	ServiceID          string `json:"serviceId"`
}

// Get retrieves a recharge session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (ports.RechargeSession, error) {
	raw, err := s.client.Get(ctx, id).Result()
	if err == goredis.Nil {
		return ports.RechargeSession{}, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return ports.RechargeSession{}, fmt.Errorf("fetch session: %w", err)
	}

	var p sessionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ports.RechargeSession{}, fmt.Errorf("decode session: %w", err)
	}
	return ports.RechargeSession{
		Purpose:            p.Purpose,
		Amount:             p.Amount,
		AmountDenom:        p.AmountDenom,
		ValidityPeriod:     p.ValidityPeriod,
		ValidityPeriodUnit: p.ValidityPeriodUnit,
		ServiceID:          p.ServiceID,
	}, nil
}

// Ping verifies the Redis connection.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

// Ensure interface compliance.
var _ ports.SessionStore = (*SessionStore)(nil)
