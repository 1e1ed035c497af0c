package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// ApprovalRulesRepository handles CRUD for approval_rules.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

const ruleColumns = `
	id, name, entity_type, approval_type,
	min_amount, max_amount, approval_levels, approver_roles,
	escalation_hours, auto_approve_weekends, is_active,
	conditions, priority, created_at, updated_at`

// Create inserts a new approval rule.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	conditionsJSON, err := marshalConditions(rule.Conditions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_rules
		    (name, entity_type, approval_type,
		     min_amount, max_amount, approval_levels, approver_roles,
		     escalation_hours, auto_approve_weekends, is_active,
		     conditions, priority)
		VALUES ($1, $2, $3,
		        $4, $5, $6, $7,
		        $8, $9, $10,
		        $11, $12)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.Name,
		rule.EntityType,
		rule.ApprovalType,
		rule.MinAmount,
		rule.MaxAmount,
		rule.ApprovalLevels,
		rule.ApproverRoles,
		rule.EscalationHours,
		rule.AutoApproveWeekends,
		rule.IsActive,
		conditionsJSON,
		rule.Priority,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval rule")
	}
	return nil
}

// GetByID retrieves a rule by primary key.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id string) (*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE id = $1`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval rule")
	}
	return rule, nil
}

// List returns all rules, optionally filtered to active only, in matching
// order.
func (r *ApprovalRulesRepository) List(ctx context.Context, activeOnly bool) ([]*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY entity_type, approval_type, priority ASC, created_at ASC, id ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListActive returns the active rules for an entity/approval type pair in the
// stable order used for first-match selection.
func (r *ApprovalRulesRepository) ListActive(ctx context.Context, entityType EntityType, approvalType ApprovalType) ([]*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM approval_rules
		WHERE is_active = TRUE AND entity_type = $1 AND approval_type = $2
		ORDER BY priority ASC, created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, entityType, approvalType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list active approval rules")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Update persists changes to an existing rule.
func (r *ApprovalRulesRepository) Update(ctx context.Context, rule *ApprovalRule) error {
	conditionsJSON, err := marshalConditions(rule.Conditions)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_rules
		SET name                  = $2,
		    entity_type           = $3,
		    approval_type         = $4,
		    min_amount            = $5,
		    max_amount            = $6,
		    approval_levels       = $7,
		    approver_roles        = $8,
		    escalation_hours      = $9,
		    auto_approve_weekends = $10,
		    is_active             = $11,
		    conditions            = $12,
		    priority              = $13,
		    updated_at            = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.EntityType,
		rule.ApprovalType,
		rule.MinAmount,
		rule.MaxAmount,
		rule.ApprovalLevels,
		rule.ApproverRoles,
		rule.EscalationHours,
		rule.AutoApproveWeekends,
		rule.IsActive,
		conditionsJSON,
		rule.Priority,
	).Scan(&rule.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("approval_rule", rule.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval rule")
	}
	return nil
}

// Deactivate switches a rule off. Rules are never deleted so historical
// approvals keep a valid rule_id.
func (r *ApprovalRulesRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE approval_rules
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate approval rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...any) error
}

func marshalConditions(conditions map[string]interface{}) ([]byte, error) {
	if conditions == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(conditions)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule conditions")
	}
	return b, nil
}

func (r *ApprovalRulesRepository) scanRows(rows pgx.Rows) ([]*ApprovalRule, error) {
	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval rules")
	}
	return rules, nil
}

func (r *ApprovalRulesRepository) scanRule(row scanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var minAmount, maxAmount decimal.NullDecimal
	var conditionsJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.EntityType,
		&rule.ApprovalType,
		&minAmount,
		&maxAmount,
		&rule.ApprovalLevels,
		&rule.ApproverRoles,
		&rule.EscalationHours,
		&rule.AutoApproveWeekends,
		&rule.IsActive,
		&conditionsJSON,
		&rule.Priority,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.MinAmount = nullDecimalPtr(minAmount)
	rule.MaxAmount = nullDecimalPtr(maxAmount)
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule conditions")
		}
	}
	return rule, nil
}

func nullDecimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
