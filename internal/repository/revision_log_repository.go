package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// RevisionLogRepository manages journal_revision_logs.
type RevisionLogRepository struct {
	db *database.DB
}

// NewRevisionLogRepository creates a new RevisionLogRepository.
func NewRevisionLogRepository(db *database.DB) *RevisionLogRepository {
	return &RevisionLogRepository{db: db}
}

const revisionColumns = `
	id, closing_period_id, journal_type, journal_id, action, reason,
	old_data, new_data, impact_amount, revised_by, revised_at,
	approval_status, approved_by, approved_at, approval_notes,
	created_at, updated_at`

// Create inserts a revision log.
func (r *RevisionLogRepository) Create(ctx context.Context, l *JournalRevisionLog) error {
	oldJSON, err := marshalSnapshot(l.OldData)
	if err != nil {
		return err
	}
	newJSON, err := marshalSnapshot(l.NewData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO journal_revision_logs
		    (closing_period_id, journal_type, journal_id, action, reason,
		     old_data, new_data, impact_amount, revised_by, revised_at,
		     approval_status, approved_by, approved_at, approval_notes)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10,
		        $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		l.ClosingPeriodID,
		l.JournalType,
		l.JournalID,
		l.Action,
		l.Reason,
		oldJSON,
		newJSON,
		l.ImpactAmount,
		l.RevisedBy,
		l.RevisedAt,
		l.ApprovalStatus,
		l.ApprovedBy,
		l.ApprovedAt,
		l.ApprovalNotes,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create revision log")
	}
	return nil
}

// GetByID retrieves a revision log by primary key.
func (r *RevisionLogRepository) GetByID(ctx context.Context, id string) (*JournalRevisionLog, error) {
	query := `SELECT ` + revisionColumns + ` FROM journal_revision_logs WHERE id = $1`

	l, err := scanRevision(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("journal_revision", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get revision log")
	}
	return l, nil
}

// ListPending returns pending revisions, oldest first. An empty periodID
// lists across all periods.
func (r *RevisionLogRepository) ListPending(ctx context.Context, periodID string) ([]*JournalRevisionLog, error) {
	query := `SELECT ` + revisionColumns + `
		FROM journal_revision_logs
		WHERE approval_status = 'pending'
		  AND ($1 = '' OR closing_period_id::text = $1)
		ORDER BY revised_at ASC
	`

	rows, err := r.db.Query(ctx, query, periodID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending revisions")
	}
	defer rows.Close()

	var out []*JournalRevisionLog
	for rows.Next() {
		l, err := scanRevision(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan revision log")
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate revision logs")
	}
	return out, nil
}

// CountPending returns the number of pending revisions in a period.
func (r *RevisionLogRepository) CountPending(ctx context.Context, periodID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM journal_revision_logs WHERE closing_period_id = $1 AND approval_status = 'pending'`,
		periodID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count pending revisions")
	}
	return n, nil
}

// Resolve moves a pending revision to approved or rejected. Anything other
// than pending fails with AlreadyResolved.
func (r *RevisionLogRepository) Resolve(ctx context.Context, id string, status RevisionStatus, by string, notes *string, at time.Time) (*JournalRevisionLog, error) {
	query := `
		UPDATE journal_revision_logs
		SET approval_status = $2,
		    approved_by     = $3,
		    approved_at     = $4,
		    approval_notes  = $5,
		    updated_at      = NOW()
		WHERE id = $1 AND approval_status = 'pending'
		RETURNING ` + revisionColumns

	l, err := scanRevision(r.db.QueryRow(ctx, query, id, status, by, at, notes))
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve revision log")
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.AlreadyResolved("journal_revision", id, string(current.ApprovalStatus))
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func marshalSnapshot(j *Journal) ([]byte, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal journal snapshot")
	}
	return b, nil
}

func unmarshalSnapshot(b []byte) (*Journal, error) {
	if len(b) == 0 {
		return nil, nil
	}
	j := &Journal{}
	if err := json.Unmarshal(b, j); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal journal snapshot")
	}
	return j, nil
}

func scanRevision(row scanner) (*JournalRevisionLog, error) {
	l := &JournalRevisionLog{}
	var oldJSON, newJSON []byte
	err := row.Scan(
		&l.ID,
		&l.ClosingPeriodID,
		&l.JournalType,
		&l.JournalID,
		&l.Action,
		&l.Reason,
		&oldJSON,
		&newJSON,
		&l.ImpactAmount,
		&l.RevisedBy,
		&l.RevisedAt,
		&l.ApprovalStatus,
		&l.ApprovedBy,
		&l.ApprovedAt,
		&l.ApprovalNotes,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if l.OldData, err = unmarshalSnapshot(oldJSON); err != nil {
		return nil, err
	}
	if l.NewData, err = unmarshalSnapshot(newJSON); err != nil {
		return nil, err
	}
	return l, nil
}
