package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// ApprovalRepository manages approval records. Status changes are
// compare-and-swap updates guarded on the open statuses, so at most one
// resolution wins a race.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `
	id, approvable_type, approvable_id, approval_type, rule_id,
	status, amount, approval_level, requires_approval, expires_at,
	requested_by, approved_by, approved_at, rejected_at,
	request_notes, approval_notes, rejection_reason,
	escalated_to, escalated_at, created_at, updated_at`

// Create inserts a new approval.
func (r *ApprovalRepository) Create(ctx context.Context, a *Approval) error {
	query := `
		INSERT INTO approvals
		    (approvable_type, approvable_id, approval_type, rule_id,
		     status, amount, approval_level, requires_approval, expires_at,
		     requested_by, request_notes)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8, $9,
		        $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		a.Approvable.Type,
		a.Approvable.ID,
		a.ApprovalType,
		a.RuleID,
		a.Status,
		a.Amount,
		a.ApprovalLevel,
		a.RequiresApproval,
		a.ExpiresAt,
		a.RequestedBy,
		a.RequestNotes,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval")
	}
	return nil
}

// GetByID retrieves an approval by primary key.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`

	a, err := scanApproval(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval")
	}
	return a, nil
}

// FindOpen returns the open approval of the given type for an owner, or nil
// when there is none.
func (r *ApprovalRepository) FindOpen(ctx context.Context, ref ApprovableRef, approvalType ApprovalType) (*Approval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE approvable_type = $1 AND approvable_id = $2 AND approval_type = $3
		  AND status IN ('pending', 'escalated')
		ORDER BY created_at DESC
		LIMIT 1
	`

	a, err := scanApproval(r.db.QueryRow(ctx, query, ref.Type, ref.ID, approvalType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find open approval")
	}
	return a, nil
}

// ListForApprovable returns every approval of an owner, newest first.
func (r *ApprovalRepository) ListForApprovable(ctx context.Context, ref ApprovableRef) ([]*Approval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE approvable_type = $1 AND approvable_id = $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, ref.Type, ref.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approvals")
	}
	defer rows.Close()

	return scanApprovals(rows)
}

// List returns approvals matching filter, oldest expiry first.
func (r *ApprovalRepository) List(ctx context.Context, filter ApprovalFilter) ([]*Approval, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.ApprovalType != nil {
		args = append(args, *filter.ApprovalType)
		where = append(where, fmt.Sprintf("approval_type = $%d", len(args)))
	}
	if filter.ExpiresBefore != nil {
		args = append(args, *filter.ExpiresBefore)
		where = append(where, fmt.Sprintf("expires_at < $%d", len(args)))
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY expires_at ASC NULLS LAST, created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approvals")
	}
	defer rows.Close()

	return scanApprovals(rows)
}

// MarkApproved moves an open approval to approved.
func (r *ApprovalRepository) MarkApproved(ctx context.Context, id, approver string, notes *string, at time.Time) (*Approval, error) {
	return r.transition(ctx, id, `
		status         = 'approved',
		approved_by    = $2,
		approved_at    = $3,
		approval_notes = $4`, approver, at, notes)
}

// MarkRejected moves an open approval to rejected. approved_by records the
// resolving actor for both outcomes.
func (r *ApprovalRepository) MarkRejected(ctx context.Context, id, approver, reason string, at time.Time) (*Approval, error) {
	return r.transition(ctx, id, `
		status           = 'rejected',
		approved_by      = $2,
		rejected_at      = $3,
		rejection_reason = $4`, approver, at, reason)
}

// MarkEscalated reassigns an open approval without resolving it.
func (r *ApprovalRepository) MarkEscalated(ctx context.Context, id, escalatedTo string, at time.Time) (*Approval, error) {
	return r.transition(ctx, id, `
		status       = 'escalated',
		escalated_to = $2,
		escalated_at = $3`, escalatedTo, at)
}

// transition applies set to the row only while it is still open. When no row
// is updated the current state decides between NotFound and AlreadyResolved.
func (r *ApprovalRepository) transition(ctx context.Context, id, set string, args ...any) (*Approval, error) {
	query := `
		UPDATE approvals
		SET ` + set + `,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'escalated')
		RETURNING ` + approvalColumns

	a, err := scanApproval(r.db.QueryRow(ctx, query, append([]any{id}, args...)...))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval")
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.AlreadyResolved("approval", id, string(current.Status))
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanApprovals(rows pgx.Rows) ([]*Approval, error) {
	var out []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approvals")
	}
	return out, nil
}

func scanApproval(row scanner) (*Approval, error) {
	a := &Approval{}
	err := row.Scan(
		&a.ID,
		&a.Approvable.Type,
		&a.Approvable.ID,
		&a.ApprovalType,
		&a.RuleID,
		&a.Status,
		&a.Amount,
		&a.ApprovalLevel,
		&a.RequiresApproval,
		&a.ExpiresAt,
		&a.RequestedBy,
		&a.ApprovedBy,
		&a.ApprovedAt,
		&a.RejectedAt,
		&a.RequestNotes,
		&a.ApprovalNotes,
		&a.RejectionReason,
		&a.EscalatedTo,
		&a.EscalatedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
