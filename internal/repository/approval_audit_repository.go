package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// AuditRepository appends and reads immutable audit log entries for
// approvals, period transitions and journal revisions.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger so
// this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (subject_type, subject_id, action, performed_by,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7)
		RETURNING id, performed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.SubjectType,
		entry.SubjectID,
		entry.Action,
		entry.PerformedBy,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListBySubject returns the audit trail of one subject ordered oldest-first.
func (r *AuditRepository) ListBySubject(ctx context.Context, subjectType, subjectID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, subject_type, subject_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM approval_audit_log
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, subjectType, subjectID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate audit log")
	}
	return entries, nil
}

func (r *AuditRepository) scanEntry(sc scanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.SubjectType,
		&entry.SubjectID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.StatusBefore,
		&entry.StatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
