package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// JournalRepository reads general-ledger journals and applies the mutations
// that revisions carry. Posted journals are not edited line by line: an edit
// replaces the line set, and a reversal inserts a mirror journal linked both
// ways to the original.
type JournalRepository struct {
	db *database.DB
}

// NewJournalRepository creates a new JournalRepository.
func NewJournalRepository(db *database.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

const journalColumns = `
	id, journal_type, journal_number, transaction_date, description,
	status, reversal_of, reversed_by_journal_id, total_debit, total_credit, updated_at`

// GetByID loads a journal with its lines.
func (r *JournalRepository) GetByID(ctx context.Context, id string) (*Journal, error) {
	query := `SELECT ` + journalColumns + ` FROM journals WHERE id = $1 AND status <> 'deleted'`

	j := &Journal{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&j.ID,
		&j.JournalType,
		&j.JournalNumber,
		&j.TransactionDate,
		&j.Description,
		&j.Status,
		&j.ReversalOf,
		&j.ReversedBy,
		&j.TotalDebit,
		&j.TotalCredit,
		&j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("journal", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get journal")
	}

	lines, err := r.lines(ctx, id)
	if err != nil {
		return nil, err
	}
	j.Lines = lines
	return j, nil
}

func (r *JournalRepository) lines(ctx context.Context, journalID string) ([]JournalLine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, line_number, account_id, description, debit, credit
		FROM journal_lines
		WHERE journal_id = $1
		ORDER BY line_number ASC
	`, journalID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get journal lines")
	}
	defer rows.Close()

	var out []JournalLine
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.LineNumber, &l.AccountID, &l.Description, &l.Debit, &l.Credit); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan journal line")
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate journal lines")
	}
	return out, nil
}

// Replace overwrites the header fields and the full line set of a journal.
// j.UpdatedAt must match the stored row; a journal changed since it was read
// is refused with ErrInvalidTransition.
func (r *JournalRepository) Replace(ctx context.Context, j *Journal) error {
	if err := j.Validate(); err != nil {
		return err
	}

	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			UPDATE journals
			SET transaction_date = $2,
			    description      = $3,
			    total_debit      = $4,
			    total_credit     = $5,
			    updated_at       = NOW()
			WHERE id = $1 AND status <> 'deleted' AND updated_at = $6
		`, j.ID, j.TransactionDate, j.Description, j.TotalDebit, j.TotalCredit, j.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update journal")
		}
		if tag.RowsAffected() == 0 {
			return errors.InvalidTransition("journal " + j.ID + " was changed or deleted since it was read")
		}

		if _, err := r.db.Exec(ctx, `DELETE FROM journal_lines WHERE journal_id = $1`, j.ID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear journal lines")
		}
		return r.insertLines(ctx, j.ID, j.Lines)
	})
}

// Delete marks a journal deleted. Lines are kept for the audit snapshot.
func (r *JournalRepository) Delete(ctx context.Context, j *Journal) error {
	return r.setStatus(ctx, j, JournalStatusDeleted, `status <> 'deleted'`)
}

// Unpost returns a posted journal to draft.
func (r *JournalRepository) Unpost(ctx context.Context, j *Journal) error {
	return r.setStatus(ctx, j, JournalStatusDraft, `status = 'posted'`)
}

// Reverse inserts the mirror journal of j dated on date and links the two.
// It returns the reversal.
func (r *JournalRepository) Reverse(ctx context.Context, j *Journal, date time.Time) (*Journal, error) {
	if j.Status != JournalStatusPosted {
		return nil, errors.InvalidTransition("only posted journals can be reversed")
	}
	rev := j.Reversal(date)
	if err := rev.Validate(); err != nil {
		return nil, err
	}

	err := r.db.InTransaction(ctx, func(ctx context.Context) error {
		err := r.db.QueryRow(ctx, `
			INSERT INTO journals
			    (journal_type, journal_number, transaction_date, description,
			     status, reversal_of, total_debit, total_credit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, updated_at
		`,
			rev.JournalType,
			rev.JournalNumber,
			rev.TransactionDate,
			rev.Description,
			rev.Status,
			rev.ReversalOf,
			rev.TotalDebit,
			rev.TotalCredit,
		).Scan(&rev.ID, &rev.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert reversal journal")
		}
		if err := r.insertLines(ctx, rev.ID, rev.Lines); err != nil {
			return err
		}

		tag, err := r.db.Exec(ctx, `
			UPDATE journals
			SET status = 'reversed', reversed_by_journal_id = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'posted' AND updated_at = $3
		`, j.ID, rev.ID, j.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to link reversed journal")
		}
		if tag.RowsAffected() == 0 {
			return errors.InvalidTransition("journal " + j.ID + " is no longer posted as read")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// setStatus moves j to status when guard holds and the row still carries
// j.UpdatedAt.
func (r *JournalRepository) setStatus(ctx context.Context, j *Journal, status JournalStatus, guard string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE journals
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND updated_at = $3 AND `+guard,
		j.ID, status, j.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update journal status")
	}
	if tag.RowsAffected() == 0 {
		return errors.InvalidTransition("journal " + j.ID + " cannot move to " + string(status))
	}
	return nil
}

func (r *JournalRepository) insertLines(ctx context.Context, journalID string, lines []JournalLine) error {
	for i, l := range lines {
		n := l.LineNumber
		if n == 0 {
			n = i + 1
		}
		_, err := r.db.Exec(ctx, `
			INSERT INTO journal_lines (journal_id, line_number, account_id, description, debit, credit)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, journalID, n, l.AccountID, l.Description, l.Debit, l.Credit)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert journal line")
		}
	}
	return nil
}
