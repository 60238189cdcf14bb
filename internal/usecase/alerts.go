package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// AlertRuleInput is a create-or-replace request. Enabled defaults to true.
type AlertRuleInput struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Rule    string `json:"rule"`
	Enabled *bool  `json:"enabled"`
}

// AlertService manages alert rules. Writes need a role that can modify shared resources.
type AlertService struct {
	Repo domain.AlertRuleRepository
	Now  func() time.Time
}

// List returns all rules.
func (s AlertService) List(ctx domain.Context) ([]domain.AlertRule, error) {
	rules, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=alert.list: %w", err)
	}
	if rules == nil {
		rules = []domain.AlertRule{}
	}
	return rules, nil
}

// Upsert creates the rule or replaces the one with the same id.
func (s AlertService) Upsert(ctx domain.Context, role string, in AlertRuleInput) (string, error) {
	if !domain.CanWrite(role) {
		return "", fmt.Errorf("%w: forbidden", domain.ErrForbidden)
	}
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Rule) == "" {
		return "", fmt.Errorf("%w: name_and_rule_required", domain.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	r := domain.AlertRule{ID: in.ID, Name: in.Name, Rule: in.Rule, Enabled: in.Enabled == nil || *in.Enabled, UpdatedAt: now}
	id, err := s.Repo.Upsert(ctx, r)
	if err != nil {
		return "", fmt.Errorf("op=alert.upsert: %w", err)
	}
	return id, nil
}

// Delete removes a rule. Deleting an unknown id succeeds.
func (s AlertService) Delete(ctx domain.Context, role, id string) error {
	if !domain.CanWrite(role) {
		return fmt.Errorf("%w: forbidden", domain.ErrForbidden)
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("op=alert.delete: %w", err)
	}
	return nil
}
