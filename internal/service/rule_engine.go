package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

// RuleCriteria describes the movement being checked against the rules.
type RuleCriteria struct {
	EntityType   repository.EntityType
	ApprovalType repository.ApprovalType
	Amount       decimal.Decimal
	Direction    repository.Direction
}

// RuleEngine selects the approval rule that applies to a movement and
// administers the rule table.
type RuleEngine struct {
	rules RuleStore
	log   *logger.Logger
}

// NewRuleEngine creates a new RuleEngine.
func NewRuleEngine(rules RuleStore, log *logger.Logger) *RuleEngine {
	return &RuleEngine{rules: rules, log: log}
}

// FindApplicableRule returns the first active rule of the criteria's entity
// and approval type whose amount range and direction match, or nil when no
// rule applies.
func (e *RuleEngine) FindApplicableRule(ctx context.Context, c RuleCriteria) (*repository.ApprovalRule, error) {
	candidates, err := e.rules.ListActive(ctx, c.EntityType, c.ApprovalType)
	if err != nil {
		return nil, err
	}
	return SelectRule(candidates, c), nil
}

// RequiresApproval reports whether any rule applies to the criteria.
func (e *RuleEngine) RequiresApproval(ctx context.Context, c RuleCriteria) (bool, error) {
	rule, err := e.FindApplicableRule(ctx, c)
	if err != nil {
		return false, err
	}
	return rule != nil && rule.RequiresApproval(c.Amount), nil
}

// SelectRule picks the first matching rule from candidates, which must
// already be in matching order.
func SelectRule(candidates []*repository.ApprovalRule, c RuleCriteria) *repository.ApprovalRule {
	for _, rule := range candidates {
		if !rule.IsActive || rule.EntityType != c.EntityType || rule.ApprovalType != c.ApprovalType {
			continue
		}
		if rule.AppliesToAmount(c.Amount) && rule.MatchesDirection(c.Direction) {
			return rule
		}
	}
	return nil
}

// ── Administration ───────────────────────────────────────────────────────────

// CreateRule validates and stores a new rule.
func (e *RuleEngine) CreateRule(ctx context.Context, rule *repository.ApprovalRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := e.rules.Create(ctx, rule); err != nil {
		return err
	}
	e.log.Info().
		Str("rule_id", rule.ID).
		Str("entity_type", string(rule.EntityType)).
		Str("approval_type", string(rule.ApprovalType)).
		Msg("Approval rule created")
	return nil
}

// UpdateRule validates and stores changes to a rule.
func (e *RuleEngine) UpdateRule(ctx context.Context, rule *repository.ApprovalRule) error {
	if rule.ID == "" {
		return errors.InvalidInput("id", "rule id is required")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := e.rules.Update(ctx, rule); err != nil {
		return err
	}
	e.log.Info().Str("rule_id", rule.ID).Msg("Approval rule updated")
	return nil
}

// DeactivateRule switches a rule off.
func (e *RuleEngine) DeactivateRule(ctx context.Context, id string) error {
	if err := e.rules.Deactivate(ctx, id); err != nil {
		return err
	}
	e.log.Info().Str("rule_id", id).Msg("Approval rule deactivated")
	return nil
}

// GetRule returns one rule.
func (e *RuleEngine) GetRule(ctx context.Context, id string) (*repository.ApprovalRule, error) {
	return e.rules.GetByID(ctx, id)
}

// ListRules returns all rules, or only active ones.
func (e *RuleEngine) ListRules(ctx context.Context, activeOnly bool) ([]*repository.ApprovalRule, error) {
	return e.rules.List(ctx, activeOnly)
}
