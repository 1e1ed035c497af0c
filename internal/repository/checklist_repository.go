package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// ChecklistRepository manages the checklist items of closing periods.
type ChecklistRepository struct {
	db *database.DB
}

// NewChecklistRepository creates a new ChecklistRepository.
func NewChecklistRepository(db *database.DB) *ChecklistRepository {
	return &ChecklistRepository{db: db}
}

const checklistColumns = `
	id, closing_period_id, item_code, item_name,
	is_required, required_for, sort_order,
	is_completed, completed_by, completed_at, notes,
	created_at, updated_at`

// ListByPeriod returns the checklist of a period in display order.
func (r *ChecklistRepository) ListByPeriod(ctx context.Context, periodID string) ([]*PeriodChecklist, error) {
	query := `SELECT ` + checklistColumns + `
		FROM period_checklists
		WHERE closing_period_id = $1
		ORDER BY sort_order ASC, item_code ASC
	`

	rows, err := r.db.Query(ctx, query, periodID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list checklist")
	}
	defer rows.Close()

	var items []*PeriodChecklist
	for rows.Next() {
		it, err := scanChecklistItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan checklist item")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate checklist")
	}
	return items, nil
}

// SetCompleted marks an item completed, or clears completion when completed
// is false.
func (r *ChecklistRepository) SetCompleted(ctx context.Context, periodID, itemCode string, completed bool, by string, notes *string, at time.Time) (*PeriodChecklist, error) {
	var (
		completedBy *string
		completedAt *time.Time
	)
	if completed {
		completedBy = &by
		completedAt = &at
	}

	query := `
		UPDATE period_checklists
		SET is_completed = $3,
		    completed_by = $4,
		    completed_at = $5,
		    notes        = COALESCE($6, notes),
		    updated_at   = NOW()
		WHERE closing_period_id = $1 AND item_code = $2
		RETURNING ` + checklistColumns

	it, err := scanChecklistItem(r.db.QueryRow(ctx, query, periodID, itemCode, completed, completedBy, completedAt, notes))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("checklist_item", itemCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update checklist item")
	}
	return it, nil
}

func scanChecklistItem(row scanner) (*PeriodChecklist, error) {
	it := &PeriodChecklist{}
	err := row.Scan(
		&it.ID,
		&it.ClosingPeriodID,
		&it.ItemCode,
		&it.ItemName,
		&it.IsRequired,
		&it.RequiredFor,
		&it.SortOrder,
		&it.IsCompleted,
		&it.CompletedBy,
		&it.CompletedAt,
		&it.Notes,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return it, nil
}
