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

// ClosingPeriodRepository manages closing_periods. Status updates are guarded
// on the expected current status so concurrent transitions cannot both win.
type ClosingPeriodRepository struct {
	db *database.DB
}

// NewClosingPeriodRepository creates a new ClosingPeriodRepository.
func NewClosingPeriodRepository(db *database.DB) *ClosingPeriodRepository {
	return &ClosingPeriodRepository{db: db}
}

const periodColumns = `
	id, period_code, period_name, period_type,
	period_start, period_end, cutoff_date, hard_close_date,
	status, template_id,
	soft_closed_by, soft_closed_at, hard_closed_by, hard_closed_at,
	reopened_by, reopened_at, reopen_reason, notes,
	created_by, created_at, updated_at`

// Create inserts a period together with its checklist items in one
// transaction.
func (r *ClosingPeriodRepository) Create(ctx context.Context, p *ClosingPeriod, items []*PeriodChecklist) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO closing_periods
			    (period_code, period_name, period_type,
			     period_start, period_end, cutoff_date, hard_close_date,
			     status, template_id, notes, created_by)
			VALUES ($1, $2, $3,
			        $4, $5, $6, $7,
			        $8, $9, $10, $11)
			RETURNING id, created_at, updated_at
		`

		err := r.db.QueryRow(ctx, query,
			p.PeriodCode,
			p.PeriodName,
			p.PeriodType,
			p.PeriodStart,
			p.PeriodEnd,
			p.CutoffDate,
			p.HardCloseDate,
			p.Status,
			p.TemplateID,
			p.Notes,
			p.CreatedBy,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.New(errors.ErrCodeConflict, fmt.Sprintf("closing period %s already exists", p.PeriodCode))
			}
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create closing period")
		}

		itemQuery := `
			INSERT INTO period_checklists
			    (closing_period_id, item_code, item_name,
			     is_required, required_for, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`

		for _, it := range items {
			it.ClosingPeriodID = p.ID
			err := r.db.QueryRow(ctx, itemQuery,
				it.ClosingPeriodID,
				it.ItemCode,
				it.ItemName,
				it.IsRequired,
				it.RequiredFor,
				it.SortOrder,
			).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create checklist item")
			}
		}
		return nil
	})
}

// GetByID retrieves a period by primary key.
func (r *ClosingPeriodRepository) GetByID(ctx context.Context, id string) (*ClosingPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM closing_periods WHERE id = $1`

	p, err := scanPeriod(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("closing_period", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get closing period")
	}
	return p, nil
}

// GetForUpdate reads a period and locks its row until the surrounding
// transaction ends. Transitions and revision proposals both take this lock,
// so a period cannot close between their guard and their write.
func (r *ClosingPeriodRepository) GetForUpdate(ctx context.Context, id string) (*ClosingPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM closing_periods WHERE id = $1 FOR UPDATE`

	p, err := scanPeriod(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("closing_period", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock closing period")
	}
	return p, nil
}

// FindByDate returns the period whose range contains d, or nil.
func (r *ClosingPeriodRepository) FindByDate(ctx context.Context, d time.Time) (*ClosingPeriod, error) {
	query := `SELECT ` + periodColumns + `
		FROM closing_periods
		WHERE $1::date BETWEEN period_start AND period_end
		ORDER BY period_start DESC
		LIMIT 1
	`

	p, err := scanPeriod(r.db.QueryRow(ctx, query, DateOnly(d)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find closing period by date")
	}
	return p, nil
}

// Overlaps reports whether any period intersects [start, end].
func (r *ClosingPeriodRepository) Overlaps(ctx context.Context, start, end time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM closing_periods
			WHERE period_start <= $2::date AND period_end >= $1::date
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, DateOnly(start), DateOnly(end)).Scan(&exists); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check period overlap")
	}
	return exists, nil
}

// List returns periods matching filter, newest first.
func (r *ClosingPeriodRepository) List(ctx context.Context, filter PeriodFilter) ([]*ClosingPeriod, error) {
	var args []any
	query := `SELECT ` + periodColumns + ` FROM closing_periods`
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		query += " WHERE status = ANY($1)"
	}
	query += " ORDER BY period_start DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list closing periods")
	}
	defer rows.Close()

	return scanPeriods(rows)
}

// ListOpenWithCutoffBefore returns open periods whose cutoff falls on or
// before the given date. Used by the reminder worker.
func (r *ClosingPeriodRepository) ListOpenWithCutoffBefore(ctx context.Context, before time.Time) ([]*ClosingPeriod, error) {
	query := `SELECT ` + periodColumns + `
		FROM closing_periods
		WHERE status = 'open' AND cutoff_date <= $1::date
		ORDER BY cutoff_date ASC
	`

	rows, err := r.db.Query(ctx, query, DateOnly(before))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list periods near cutoff")
	}
	defer rows.Close()

	return scanPeriods(rows)
}

// MarkSoftClosed moves an open period to soft_close.
func (r *ClosingPeriodRepository) MarkSoftClosed(ctx context.Context, id, by string, at time.Time) (*ClosingPeriod, error) {
	return r.transition(ctx, id, []PeriodStatus{PeriodStatusOpen}, `
		status         = 'soft_close',
		soft_closed_by = $2,
		soft_closed_at = $3`, by, at)
}

// MarkHardClosed moves a soft-closed period to hard_close.
func (r *ClosingPeriodRepository) MarkHardClosed(ctx context.Context, id, by string, at time.Time) (*ClosingPeriod, error) {
	return r.transition(ctx, id, []PeriodStatus{PeriodStatusSoftClose}, `
		status         = 'hard_close',
		hard_closed_by = $2,
		hard_closed_at = $3`, by, at)
}

// MarkReopened moves a period from one of the given statuses back to open.
func (r *ClosingPeriodRepository) MarkReopened(ctx context.Context, id string, from []PeriodStatus, by, reason string, at time.Time) (*ClosingPeriod, error) {
	return r.transition(ctx, id, from, `
		status        = 'open',
		reopened_by   = $2,
		reopened_at   = $3,
		reopen_reason = $4`, by, at, reason)
}

func (r *ClosingPeriodRepository) transition(ctx context.Context, id string, from []PeriodStatus, set string, args ...any) (*ClosingPeriod, error) {
	placeholders := make([]string, len(from))
	for i, s := range from {
		placeholders[i] = "'" + string(s) + "'"
	}
	query := `
		UPDATE closing_periods
		SET ` + set + `,
		    updated_at = NOW()
		WHERE id = $1 AND status IN (` + strings.Join(placeholders, ", ") + `)
		RETURNING ` + periodColumns

	p, err := scanPeriod(r.db.QueryRow(ctx, query, append([]any{id}, args...)...))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update closing period")
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.InvalidTransition(fmt.Sprintf("closing period %s is %s", current.PeriodCode, current.Status))
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanPeriods(rows pgx.Rows) ([]*ClosingPeriod, error) {
	var out []*ClosingPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan closing period")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate closing periods")
	}
	return out, nil
}

func scanPeriod(row scanner) (*ClosingPeriod, error) {
	p := &ClosingPeriod{}
	err := row.Scan(
		&p.ID,
		&p.PeriodCode,
		&p.PeriodName,
		&p.PeriodType,
		&p.PeriodStart,
		&p.PeriodEnd,
		&p.CutoffDate,
		&p.HardCloseDate,
		&p.Status,
		&p.TemplateID,
		&p.SoftClosedBy,
		&p.SoftClosedAt,
		&p.HardClosedBy,
		&p.HardClosedAt,
		&p.ReopenedBy,
		&p.ReopenedAt,
		&p.ReopenReason,
		&p.Notes,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
