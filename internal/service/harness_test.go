package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gl-closing/internal/cache"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

const (
	approver    = "user-approver"
	clerk       = "user-clerk"
	controller  = "user-controller"
	outsiderUID = "user-outsider"
)

type harness struct {
	db       *memDB
	mr       *miniredis.Miniredis
	perms    *fakePerms
	notifier *recordingNotifier
	events   *recordingEvents
	now      time.Time

	settings   *SettingsService
	rules      *RuleEngine
	approvals  *ApprovalService
	approvable *ApprovableService
	periods    *ClosingPeriodService
	revisions  *RevisionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := newMemDB()
	log := logger.Nop()
	h := &harness{
		db:       db,
		mr:       mr,
		perms:    newFakePerms(),
		notifier: &recordingNotifier{},
		events:   &recordingEvents{},
		now:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	tx := fakeTx{db: db}
	audit := fakeAudit{db: db}

	h.settings = NewSettingsService(fakeSettings{db: db}, cache.NewRedisCache(rdb, "closing:"), time.Hour, log)
	h.rules = NewRuleEngine(fakeRules{db: db}, log)
	h.approvals = NewApprovalService(tx, fakeApprovals{db: db}, audit, h.rules, h.perms, h.settings, h.notifier, h.events, log)
	h.approvals.now = clock
	h.approvable = NewApprovableService(h.rules, h.approvals, h.settings, log)
	h.periods = NewClosingPeriodService(tx, fakePeriods{db: db}, fakeChecklists{db: db}, fakeTemplates{db: db},
		fakeRevisions{db: db}, audit, h.settings, cache.NewLocker(rdb, "closing:lock:", time.Minute),
		h.notifier, h.events, log)
	h.periods.now = clock
	h.revisions = NewRevisionService(tx, fakeRevisions{db: db}, fakeJournals{db: db}, h.periods, audit,
		h.perms, h.settings, h.notifier, h.events, log)
	h.revisions.now = clock

	h.perms.grant(approver, PermApproveCashTransactions, PermApproveJournalPosting, PermApproveMonthlyClosing)
	h.perms.grant(controller, PermApproveRevision, PermEscalate)

	h.set(t, SettingModuleEnabled, true, repository.SettingTypeBoolean)
	return h
}

func (h *harness) set(t *testing.T, key string, value any, typ repository.SettingType) {
	t.Helper()
	_, err := h.settings.Set(context.Background(), key, value, typ, "general", "")
	require.NoError(t, err)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// cashRule is the rule of the first example: cash transactions between one
// and five million need a transaction approval.
func (h *harness) cashRule(t *testing.T) *repository.ApprovalRule {
	t.Helper()
	rule := &repository.ApprovalRule{
		Name:            "Large cash movements",
		EntityType:      repository.EntityCashTransaction,
		ApprovalType:    repository.ApprovalTypeTransaction,
		MinAmount:       decPtr("1000000"),
		MaxAmount:       decPtr("4999999"),
		ApprovalLevels:  1,
		ApproverRoles:   []string{"finance_manager"},
		EscalationHours: 24,
		IsActive:        true,
	}
	require.NoError(t, h.rules.CreateRule(context.Background(), rule))
	return rule
}

func (h *harness) pendingCashApproval(t *testing.T, id string, amount string) *repository.Approval {
	t.Helper()
	h.cashRule(t)
	a, err := h.approvals.RequestApproval(context.Background(),
		CashTransaction{ID: id, Amount: dec(amount), Direction: repository.DirectionOutgoing},
		clerk, repository.ApprovalTypeTransaction, nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func (h *harness) monthlyTemplate(t *testing.T) *repository.PeriodTemplate {
	t.Helper()
	hardDays := 15
	tpl := &repository.PeriodTemplate{
		Name:          "Monthly",
		PeriodType:    repository.PeriodTypeMonthly,
		CutoffDays:    5,
		HardCloseDays: &hardDays,
		ChecklistItems: []repository.TemplateChecklistItem{
			{Code: "bank_recon", Name: "Bank reconciliation", Required: true, RequiredFor: repository.ChecklistStageSoftClose},
			{Code: "accruals", Name: "Accruals booked", Required: true, RequiredFor: repository.ChecklistStageHardClose},
			{Code: "review", Name: "Management review", Required: false, RequiredFor: repository.ChecklistStageHardClose},
		},
		IsDefault: true,
		IsActive:  true,
	}
	require.NoError(t, h.periods.CreateTemplate(context.Background(), tpl))
	return tpl
}

// march provisions March 2026 from the default monthly template.
func (h *harness) march(t *testing.T) *repository.ClosingPeriod {
	t.Helper()
	h.monthlyTemplate(t)
	p, _, err := h.periods.ProvisionPeriod(context.Background(), "", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), controller)
	require.NoError(t, err)
	return p
}

func (h *harness) completeAll(t *testing.T, periodID string) {
	t.Helper()
	for _, code := range []string{"bank_recon", "accruals"} {
		_, err := h.periods.CompleteChecklistItem(context.Background(), periodID, code, controller, nil)
		require.NoError(t, err)
	}
}

// softClosedMarch returns March 2026 in soft_close with its checklist done.
func (h *harness) softClosedMarch(t *testing.T) *repository.ClosingPeriod {
	t.Helper()
	p := h.march(t)
	h.completeAll(t, p.ID)
	p, err := h.periods.SoftClose(context.Background(), p.ID, controller)
	require.NoError(t, err)
	return p
}

// postedJournal stores a balanced posted journal of amount dated on date.
func (h *harness) postedJournal(t *testing.T, amount string, date time.Time) *repository.Journal {
	t.Helper()
	j := &repository.Journal{
		JournalType:     "general",
		JournalNumber:   "JV-2026-0001",
		TransactionDate: date,
		Description:     "Office rent",
		Status:          repository.JournalStatusPosted,
		Lines:           balancedLines(amount),
	}
	return fakeJournals{db: h.db}.put(j)
}

func balancedLines(amount string) []repository.JournalLine {
	return []repository.JournalLine{
		{LineNumber: 1, AccountID: "6100", Debit: dec(amount), Credit: decimal.Zero},
		{LineNumber: 2, AccountID: "1010", Debit: decimal.Zero, Credit: dec(amount)},
	}
}
