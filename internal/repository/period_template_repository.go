package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// PeriodTemplateRepository handles CRUD for period_templates.
type PeriodTemplateRepository struct {
	db *database.DB
}

// NewPeriodTemplateRepository creates a new PeriodTemplateRepository.
func NewPeriodTemplateRepository(db *database.DB) *PeriodTemplateRepository {
	return &PeriodTemplateRepository{db: db}
}

const templateColumns = `
	id, name, period_type, cutoff_days, hard_close_days,
	checklist_items, is_default, is_active, created_at, updated_at`

// Create inserts a template. Marking it default clears the flag on every
// other template in the same transaction.
func (r *PeriodTemplateRepository) Create(ctx context.Context, t *PeriodTemplate) error {
	itemsJSON, err := json.Marshal(t.ChecklistItems)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal checklist items")
	}

	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		if t.IsDefault {
			if _, err := r.db.Exec(ctx, `UPDATE period_templates SET is_default = FALSE WHERE is_default = TRUE`); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear default template")
			}
		}

		query := `
			INSERT INTO period_templates
			    (name, period_type, cutoff_days, hard_close_days,
			     checklist_items, is_default, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		`

		err := r.db.QueryRow(ctx, query,
			t.Name,
			t.PeriodType,
			t.CutoffDays,
			t.HardCloseDays,
			itemsJSON,
			t.IsDefault,
			t.IsActive,
		).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.New(errors.ErrCodeConflict, "period template "+t.Name+" already exists")
			}
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create period template")
		}
		return nil
	})
}

// GetByID retrieves a template by primary key.
func (r *PeriodTemplateRepository) GetByID(ctx context.Context, id string) (*PeriodTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM period_templates WHERE id = $1`

	t, err := scanTemplate(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("period_template", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get period template")
	}
	return t, nil
}

// GetDefault returns the active default template.
func (r *PeriodTemplateRepository) GetDefault(ctx context.Context) (*PeriodTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM period_templates
		WHERE is_default = TRUE AND is_active = TRUE
		LIMIT 1
	`

	t, err := scanTemplate(r.db.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("period_template", "default")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get default period template")
	}
	return t, nil
}

// List returns all templates by name.
func (r *PeriodTemplateRepository) List(ctx context.Context) ([]*PeriodTemplate, error) {
	rows, err := r.db.Query(ctx, `SELECT `+templateColumns+` FROM period_templates ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list period templates")
	}
	defer rows.Close()

	var out []*PeriodTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan period template")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate period templates")
	}
	return out, nil
}

func scanTemplate(row scanner) (*PeriodTemplate, error) {
	t := &PeriodTemplate{}
	var itemsJSON []byte
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.PeriodType,
		&t.CutoffDays,
		&t.HardCloseDays,
		&itemsJSON,
		&t.IsDefault,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &t.ChecklistItems); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal checklist items")
		}
	}
	return t, nil
}
