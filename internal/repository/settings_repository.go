package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// SettingsRepository stores closing_period_settings rows.
type SettingsRepository struct {
	db *database.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

const settingColumns = `key, value, type, COALESCE(description, ''), setting_group, updated_at`

// Get returns one setting, or nil when the key does not exist.
func (r *SettingsRepository) Get(ctx context.Context, key string) (*ClosingPeriodSetting, error) {
	query := `SELECT ` + settingColumns + ` FROM closing_period_settings WHERE key = $1`

	s, err := scanSetting(r.db.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get setting")
	}
	return s, nil
}

// ListGroup returns all settings of a group by key.
func (r *SettingsRepository) ListGroup(ctx context.Context, group string) ([]*ClosingPeriodSetting, error) {
	query := `SELECT ` + settingColumns + `
		FROM closing_period_settings
		WHERE setting_group = $1
		ORDER BY key ASC
	`
	return r.list(ctx, query, group)
}

// List returns every setting.
func (r *SettingsRepository) List(ctx context.Context) ([]*ClosingPeriodSetting, error) {
	return r.list(ctx, `SELECT `+settingColumns+` FROM closing_period_settings ORDER BY setting_group ASC, key ASC`)
}

func (r *SettingsRepository) list(ctx context.Context, query string, args ...any) ([]*ClosingPeriodSetting, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list settings")
	}
	defer rows.Close()

	var out []*ClosingPeriodSetting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan setting")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate settings")
	}
	return out, nil
}

// Upsert writes a setting. Type, description and group of an existing row are
// only replaced when the new values are non-empty.
func (r *SettingsRepository) Upsert(ctx context.Context, s *ClosingPeriodSetting) error {
	query := `
		INSERT INTO closing_period_settings (key, value, type, description, setting_group)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'string'), NULLIF($4, ''), COALESCE(NULLIF($5, ''), 'general'))
		ON CONFLICT (key) DO UPDATE
		SET value         = EXCLUDED.value,
		    type          = COALESCE(NULLIF($3, ''), closing_period_settings.type),
		    description   = COALESCE(NULLIF($4, ''), closing_period_settings.description),
		    setting_group = COALESCE(NULLIF($5, ''), closing_period_settings.setting_group),
		    updated_at    = NOW()
		RETURNING ` + settingColumns

	saved, err := scanSetting(r.db.QueryRow(ctx, query, s.Key, s.Value, string(s.Type), s.Description, s.Group))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save setting")
	}
	*s = *saved
	return nil
}

func scanSetting(row scanner) (*ClosingPeriodSetting, error) {
	s := &ClosingPeriodSetting{}
	if err := row.Scan(&s.Key, &s.Value, &s.Type, &s.Description, &s.Group, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}
