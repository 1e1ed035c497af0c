package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

func newMockDB(t *testing.T) (pgxmock.PgxPoolIface, *database.DB) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, database.NewWithPool(mock)
}

func TestApprovalRulesRepository_Create(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewApprovalRulesRepository(db)

	now := time.Now()
	minAmount := decimal.NewFromInt(1_000_000)
	rule := &ApprovalRule{
		Name:           "large cash",
		EntityType:     EntityCashTransaction,
		ApprovalType:   ApprovalTypeTransaction,
		MinAmount:      &minAmount,
		ApprovalLevels: 1,
		ApproverRoles:  []string{"finance_manager"},
		IsActive:       true,
	}

	mock.ExpectQuery("INSERT INTO approval_rules").
		WithArgs("large cash", EntityCashTransaction, ApprovalTypeTransaction,
			pgxmock.AnyArg(), pgxmock.AnyArg(), 1, []string{"finance_manager"},
			0, false, true, []byte("{}"), 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("rule-1", now, now))

	require.NoError(t, repo.Create(context.Background(), rule))
	assert.Equal(t, "rule-1", rule.ID)
	assert.Equal(t, now, rule.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRulesRepository_CreateWithoutLowerBound(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewApprovalRulesRepository(db)

	now := time.Now()
	maxAmount := decimal.NewFromInt(500_000)
	rule := &ApprovalRule{
		Name:           "small journals",
		EntityType:     EntityJournalPosting,
		ApprovalType:   ApprovalTypeJournalPosting,
		MaxAmount:      &maxAmount,
		ApprovalLevels: 1,
		ApproverRoles:  []string{"chief_accountant"},
		IsActive:       true,
	}
	require.NoError(t, rule.Validate())

	mock.ExpectQuery("INSERT INTO approval_rules").
		WithArgs("small journals", EntityJournalPosting, ApprovalTypeJournalPosting,
			(*decimal.Decimal)(nil), &maxAmount, 1, []string{"chief_accountant"},
			0, false, true, []byte("{}"), 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("rule-2", now, now))

	require.NoError(t, repo.Create(context.Background(), rule))
	assert.Nil(t, rule.MinAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodTemplateRepository_CreateWithoutHardClose(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewPeriodTemplateRepository(db)

	now := time.Now()
	tpl := &PeriodTemplate{
		Name:           "monthly, soft close only",
		PeriodType:     PeriodTypeMonthly,
		CutoffDays:     5,
		ChecklistItems: []TemplateChecklistItem{},
		IsActive:       true,
	}
	require.NoError(t, tpl.Validate())

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO period_templates").
		WithArgs("monthly, soft close only", PeriodTypeMonthly, 5, (*int)(nil), []byte("[]"), false, true).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("tpl-1", now, now))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), tpl))
	assert.Equal(t, "tpl-1", tpl.ID)

	period, _ := tpl.Build(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), "user-1")
	assert.Nil(t, period.HardCloseDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRulesRepository_Deactivate(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewApprovalRulesRepository(db)

	mock.ExpectExec("UPDATE approval_rules").
		WithArgs("rule-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE approval_rules").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.Deactivate(context.Background(), "rule-1"))

	err := repo.Deactivate(context.Background(), "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepository_TransitionOnMissingRow(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewApprovalRepository(db)
	now := time.Now()

	mock.ExpectQuery("UPDATE approvals").
		WithArgs("ap-1", "user-1", now, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(nil))
	mock.ExpectQuery("FROM approvals WHERE id").
		WithArgs("ap-1").
		WillReturnRows(pgxmock.NewRows(nil))

	_, err := repo.MarkApproved(context.Background(), "ap-1", "user-1", nil, now)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClosingPeriodRepository_Overlaps(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewClosingPeriodRepository(db)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(start, end).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.Overlaps(context.Background(), start, end)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClosingPeriodRepository_CreateWritesChecklistInOneTransaction(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewClosingPeriodRepository(db)
	now := time.Now()

	tpl := &PeriodTemplate{
		PeriodType: PeriodTypeMonthly,
		CutoffDays: 5,
		ChecklistItems: []TemplateChecklistItem{
			{Code: "bank_rec", Name: "Bank reconciliation", Required: true, RequiredFor: ChecklistStageSoftClose},
		},
	}
	period, items := tpl.Build(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), "user-1")

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO closing_periods").
		WithArgs("2026-03", "March 2026", PeriodTypeMonthly,
			period.PeriodStart, period.PeriodEnd, period.CutoffDate, period.HardCloseDate,
			PeriodStatusOpen, period.TemplateID, period.Notes, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("p-1", now, now))
	mock.ExpectQuery("INSERT INTO period_checklists").
		WithArgs("p-1", "bank_rec", "Bank reconciliation", true, ChecklistStageSoftClose, 1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("c-1", now, now))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), period, items))
	assert.Equal(t, "p-1", period.ID)
	assert.Equal(t, "p-1", items[0].ClosingPeriodID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionLogRepository_CountPending(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewRevisionLogRepository(db)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("p-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountPending(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRepository_UnpostRequiresPosted(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewJournalRepository(db)

	read := time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE journals").
		WithArgs("j-1", JournalStatusDraft, read).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Unpost(context.Background(), &Journal{ID: "j-1", UpdatedAt: read})
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRepository_ReplaceRefusesChangedJournal(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewJournalRepository(db)

	read := time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)
	j := &Journal{
		ID:              "j-1",
		TransactionDate: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
		Description:     "accrual",
		Lines: []JournalLine{
			{AccountID: "1000", Debit: decimal.NewFromInt(100)},
			{AccountID: "2000", Credit: decimal.NewFromInt(100)},
		},
		UpdatedAt: read,
	}
	j.RecomputeTotals()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE journals").
		WithArgs("j-1", j.TransactionDate, "accrual", j.TotalDebit, j.TotalCredit, read).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.Replace(context.Background(), j)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRepository_ReplaceRejectsUnbalanced(t *testing.T) {
	_, db := newMockDB(t)
	repo := NewJournalRepository(db)

	j := &Journal{
		ID: "j-1",
		Lines: []JournalLine{
			{AccountID: "1000", Debit: decimal.NewFromInt(100)},
			{AccountID: "2000", Credit: decimal.NewFromInt(90)},
		},
	}
	err := repo.Replace(context.Background(), j)
	assert.True(t, errors.Is(err, errors.ErrUnbalancedJournal))
}

func TestPermissionRepository_HasPermission(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewPermissionRepository(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user-1", "closing.revision.approve").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.HasPermission(context.Background(), "user-1", "closing.revision.approve")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClosingPeriodRepository_GetForUpdateLocksRow(t *testing.T) {
	mock, db := newMockDB(t)
	repo := NewClosingPeriodRepository(db)

	mock.ExpectQuery(`FROM closing_periods WHERE id = \$1 FOR UPDATE`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(nil))

	_, err := repo.GetForUpdate(context.Background(), "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
