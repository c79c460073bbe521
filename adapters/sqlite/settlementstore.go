package sqlite

import (
	"context"
	"database/sql"

	"github.com/credix/creditgate/ports"
)

// SettlementStore implements ports.SettlementStore with SQLite.
type SettlementStore struct {
	db *DB
}

// NewSettlementStore creates a new SQLite settlement journal.
func NewSettlementStore(db *DB) *SettlementStore {
	return &SettlementStore{db: db}
}

// Record appends a settlement entry.
func (s *SettlementStore) Record(ctx context.Context, e ports.Settlement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlements (id, service_id, method, path,
			required_credits, required_tokens, deducted_credits, deducted_tokens,
			shortfall_credits, shortfall_tokens, activated_plan_id, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ServiceID, e.Method, e.Path,
		e.RequiredCredits, e.RequiredTokens, e.DeductedCredits, e.DeductedTokens,
		e.ShortfallCredits, e.ShortfallTokens, nullable(e.ActivatedPlanID), e.Outcome, e.CreatedAt)
	return err
}

// ListRecent returns the latest entries for a service, newest first.
func (s *SettlementStore) ListRecent(ctx context.Context, serviceID string, limit int) ([]ports.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_id, method, path,
			required_credits, required_tokens, deducted_credits, deducted_tokens,
			shortfall_credits, shortfall_tokens, COALESCE(activated_plan_id, ''), outcome, created_at
		FROM settlements
		WHERE service_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, serviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ports.Settlement
	for rows.Next() {
		var e ports.Settlement
		if err := rows.Scan(
			&e.ID, &e.ServiceID, &e.Method, &e.Path,
			&e.RequiredCredits, &e.RequiredTokens, &e.DeductedCredits, &e.DeductedTokens,
			&e.ShortfallCredits, &e.ShortfallTokens, &e.ActivatedPlanID, &e.Outcome, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure interface compliance.
var _ ports.SettlementStore = (*SettlementStore)(nil)
