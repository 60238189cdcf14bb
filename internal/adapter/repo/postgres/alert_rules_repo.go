package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// AlertRuleRepo persists alert rules.
type AlertRuleRepo struct{ Pool PgxPool }

// NewAlertRuleRepo constructs an AlertRuleRepo with the given pool.
func NewAlertRuleRepo(p PgxPool) *AlertRuleRepo { return &AlertRuleRepo{Pool: p} }

// List returns all rules in the order they were last written.
func (r *AlertRuleRepo) List(ctx domain.Context) ([]domain.AlertRule, error) {
	ctx, span := startSpan(ctx, "alert_rules", "List", "SELECT")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT id, name, rule, enabled, updated_at FROM alert_rules ORDER BY updated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("op=alert_rule.list: %w", err)
	}
	defer rows.Close()
	out := []domain.AlertRule{}
	for rows.Next() {
		var a domain.AlertRule
		if err := rows.Scan(&a.ID, &a.Name, &a.Rule, &a.Enabled, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=alert_rule.list: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=alert_rule.list: %w", err)
	}
	return out, nil
}

// Upsert creates or replaces a rule and returns its id (generates one if empty).
func (r *AlertRuleRepo) Upsert(ctx domain.Context, a domain.AlertRule) (string, error) {
	ctx, span := startSpan(ctx, "alert_rules", "Upsert", "UPSERT")
	defer span.End()
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	at := a.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	q := `INSERT INTO alert_rules (id, name, rule, enabled, updated_at) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, rule = EXCLUDED.rule, enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at`
	if _, err := r.Pool.Exec(ctx, q, id, a.Name, a.Rule, a.Enabled, at.UTC()); err != nil {
		return "", fmt.Errorf("op=alert_rule.upsert: %w", err)
	}
	return id, nil
}

// Delete removes a rule. Deleting an unknown id is not an error.
func (r *AlertRuleRepo) Delete(ctx domain.Context, id string) error {
	ctx, span := startSpan(ctx, "alert_rules", "Delete", "DELETE")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM alert_rules WHERE id=$1`, id); err != nil {
		return fmt.Errorf("op=alert_rule.delete: %w", err)
	}
	return nil
}
