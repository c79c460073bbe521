package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/credix/creditgate/domain/creditplan"
	"github.com/credix/creditgate/ports"
)

// PlanStore implements ports.PlanStore with SQLite.
//
// ApplyUsage carries its balance precondition inside the UPDATE
// statement and Activate runs as one transaction, so two concurrent
// settlements cannot overdraw a plan or leave two plans Active.
type PlanStore struct {
	db *DB
}

// NewPlanStore creates a new SQLite plan store.
func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db}
}

const planColumns = `id, service_id, total_credits, used, credit_denom,
	token_amount, token_used, token_denom, validity_days, expires_at,
	status, scope, created_at, updated_at`

// Create stores a new plan.
func (s *PlanStore) Create(ctx context.Context, p creditplan.Plan) error {
	scope, err := json.Marshal(p.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	denom := p.CreditDenom
	if denom == "" {
		denom = creditplan.DefaultDenom
	}
	tokenDenom := p.Token.Denom
	if tokenDenom == "" {
		tokenDenom = creditplan.DefaultDenom
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credit_plans (id, service_id, total_credits, used, credit_denom,
			token_amount, token_used, token_denom, validity_days, expires_at, status, scope,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ServiceID, p.TotalCredits, p.Used, denom,
		p.Token.Amount, p.Token.Used, tokenDenom, p.ValidityDays, p.ExpiresAt,
		string(p.Status), string(scope), p.CreatedAt, p.CreatedAt)
	return err
}

// Get retrieves a plan by ID within a service scope.
func (s *PlanStore) Get(ctx context.Context, serviceID, id string) (creditplan.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM credit_plans WHERE id = ? AND service_id = ?
	`, id, serviceID)
	return scanPlan(row)
}

// List returns all plans for a service, plans with an expiry first,
// soonest expiry leading.
func (s *PlanStore) List(ctx context.Context, serviceID string) ([]creditplan.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM credit_plans
		WHERE service_id = ?
		ORDER BY (expires_at IS NULL) ASC, expires_at ASC, created_at ASC
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []creditplan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// FindActive returns the service's single usable Active plan.
func (s *PlanStore) FindActive(ctx context.Context, serviceID string, minTokens int64, now time.Time) (creditplan.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM credit_plans
		WHERE service_id = ? AND status = ?
		  AND expires_at IS NOT NULL AND expires_at > ?
		  AND total_credits - used > 0
		  AND (? <= 0 OR token_amount >= ?)
	`, serviceID, string(creditplan.StatusActive), now, minTokens, minTokens)
	return scanPlan(row)
}

// FindNextAvailable returns the oldest usable Inactive plan.
func (s *PlanStore) FindNextAvailable(ctx context.Context, serviceID string, minTokens int64, now time.Time) (creditplan.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM credit_plans
		WHERE service_id = ? AND status = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		  AND total_credits - used > 0
		  AND (? <= 0 OR token_amount >= ?)
		ORDER BY created_at ASC
		LIMIT 1
	`, serviceID, string(creditplan.StatusInactive), now, minTokens, minTokens)
	return scanPlan(row)
}

// ApplyUsage atomically adds usage to both counters. The balance
// precondition sits in the same UPDATE, so a concurrent settlement
// cannot slip a deduction past either cap.
func (s *PlanStore) ApplyUsage(ctx context.Context, id string, credits, tokens int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_plans
		SET used = used + ?, token_used = token_used + ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		  AND used + ? <= total_credits
		  AND token_used + ? <= token_amount
	`, credits, tokens, id, credits, tokens)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing plan from a refused overdraw.
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM credit_plans WHERE id = ?", id).Scan(&exists)
		if err == sql.ErrNoRows {
			return creditplan.ErrPlanNotFound
		}
		if err != nil {
			return err
		}
		return creditplan.ErrCapExceeded
	}
	return nil
}

// Activate flips the target plan Active and the service's current
// Active plan Inactive in one transaction. The partial unique index on
// (service_id) WHERE status='Active' backs the single-active invariant.
func (s *PlanStore) Activate(ctx context.Context, serviceID, id string, expiresAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activation: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM credit_plans WHERE id = ? AND service_id = ?", id, serviceID).Scan(&exists)
	if err == sql.ErrNoRows {
		return creditplan.ErrPlanNotFound
	}
	if err != nil {
		return err
	}

	// Deactivate first; the unique active index would reject the flip
	// in the other order.
	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_plans SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE service_id = ? AND status = ? AND id != ?
	`, string(creditplan.StatusInactive), serviceID, string(creditplan.StatusActive), id); err != nil {
		return fmt.Errorf("deactivate current plan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_plans
		SET status = ?, expires_at = COALESCE(expires_at, ?), updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(creditplan.StatusActive), expiresAt, id); err != nil {
		return fmt.Errorf("activate plan: %w", err)
	}

	return tx.Commit()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (creditplan.Plan, error) {
	var p creditplan.Plan
	var status, scopeJSON string
	var expiresAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.ServiceID, &p.TotalCredits, &p.Used, &p.CreditDenom,
		&p.Token.Amount, &p.Token.Used, &p.Token.Denom, &p.ValidityDays, &expiresAt,
		&status, &scopeJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return creditplan.Plan{}, creditplan.ErrPlanNotFound
	}
	if err != nil {
		return creditplan.Plan{}, err
	}
	p.Status = creditplan.Status(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		p.ExpiresAt = &t
	}
	if scopeJSON != "" {
		if err := json.Unmarshal([]byte(scopeJSON), &p.Scope); err != nil {
			return creditplan.Plan{}, fmt.Errorf("unmarshal scope: %w", err)
		}
	}
	return p, nil
}

// Ensure interface compliance.
var _ ports.PlanStore = (*PlanStore)(nil)
