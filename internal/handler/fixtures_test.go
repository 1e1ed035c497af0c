package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
	"github.com/pesio-ai/be-gl-closing/internal/service"
)

// The stubs embed the store interfaces they stand in for, so a handler
// reaching a method the tests did not expect panics instead of passing.

const (
	approverUID = "user-approver"
	clerkUID    = "user-clerk"
	adminUID    = "user-admin"
)

type passthroughTx struct{}

func (passthroughTx) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type stubRules struct {
	service.RuleStore
	rules []*repository.ApprovalRule
}

func (s *stubRules) ListActive(_ context.Context, et repository.EntityType, at repository.ApprovalType) ([]*repository.ApprovalRule, error) {
	var out []*repository.ApprovalRule
	for _, r := range s.rules {
		if r.EntityType == et && r.ApprovalType == at {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubApprovals struct {
	service.ApprovalStore
	mu   sync.Mutex
	byID map[string]repository.Approval
}

func (s *stubApprovals) Create(_ context.Context, a *repository.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.NewString()
	s.byID[a.ID] = *a
	return nil
}

func (s *stubApprovals) GetByID(_ context.Context, id string) (*repository.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("approval", id)
	}
	return &a, nil
}

func (s *stubApprovals) FindOpen(_ context.Context, ref repository.ApprovableRef, at repository.ApprovalType) (*repository.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if a.Approvable == ref && a.ApprovalType == at && a.IsPending() {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *stubApprovals) MarkApproved(_ context.Context, id, approver string, notes *string, at time.Time) (*repository.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok || !a.IsPending() {
		return nil, errors.AlreadyResolved("approval", id, string(a.Status))
	}
	a.Status = repository.ApprovalStatusApproved
	a.ApprovedBy = &approver
	a.ApprovedAt = &at
	a.ApprovalNotes = notes
	s.byID[id] = a
	return &a, nil
}

type stubAudit struct {
	service.AuditStore
	mu      sync.Mutex
	entries []repository.AuditEntry
}

func (s *stubAudit) Append(_ context.Context, e *repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *stubAudit) ListBySubject(_ context.Context, subjectType, subjectID string) ([]*repository.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.AuditEntry
	for i := range s.entries {
		if s.entries[i].SubjectType == subjectType && s.entries[i].SubjectID == subjectID {
			e := s.entries[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

type stubPeriods struct {
	service.PeriodStore
	periods []repository.ClosingPeriod
}

func (s *stubPeriods) FindByDate(_ context.Context, d time.Time) (*repository.ClosingPeriod, error) {
	for _, p := range s.periods {
		if !d.Before(p.PeriodStart) && !d.After(p.PeriodEnd) {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (s *stubPeriods) GetByID(_ context.Context, id string) (*repository.ClosingPeriod, error) {
	for _, p := range s.periods {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, errors.NotFound("closing period", id)
}

func (s *stubPeriods) GetForUpdate(ctx context.Context, id string) (*repository.ClosingPeriod, error) {
	return s.GetByID(ctx, id)
}

type stubSettings struct {
	mu   sync.Mutex
	rows map[string]repository.ClosingPeriodSetting
}

func (s *stubSettings) Get(_ context.Context, key string) (*repository.ClosingPeriodSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *stubSettings) ListGroup(_ context.Context, group string) ([]*repository.ClosingPeriodSetting, error) {
	all, _ := s.List(context.Background())
	var out []*repository.ClosingPeriodSetting
	for _, row := range all {
		if row.Group == group {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubSettings) List(_ context.Context) ([]*repository.ClosingPeriodSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.ClosingPeriodSetting, 0, len(s.rows))
	for _, row := range s.rows {
		row := row
		out = append(out, &row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *stubSettings) Upsert(_ context.Context, row *repository.ClosingPeriodSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.UpdatedAt = time.Now().UTC()
	s.rows[row.Key] = *row
	return nil
}

type stubPerms map[string][]string

func (p stubPerms) HasPermission(_ context.Context, user, perm string) (bool, error) {
	for _, granted := range p[user] {
		if granted == perm {
			return true, nil
		}
	}
	return false, nil
}

// fixture wires real services over the stubs.
type fixture struct {
	svc       Services
	approvals *stubApprovals
	audit     *stubAudit
	periods   *stubPeriods
	settings  *stubSettings
}

func newFixture() *fixture {
	log := logger.Nop()
	f := &fixture{
		approvals: &stubApprovals{byID: map[string]repository.Approval{}},
		audit:     &stubAudit{},
		periods:   &stubPeriods{},
		settings: &stubSettings{rows: map[string]repository.ClosingPeriodSetting{
			service.SettingModuleEnabled: {
				Key: service.SettingModuleEnabled, Value: "true",
				Type: repository.SettingTypeBoolean, Group: "general",
			},
		}},
	}

	minAmount := decimal.NewFromInt(1_000_000)
	rules := &stubRules{rules: []*repository.ApprovalRule{{
		ID:              "rule-cash",
		Name:            "Cash over 1M",
		EntityType:      repository.EntityCashTransaction,
		ApprovalType:    repository.ApprovalTypeTransaction,
		MinAmount:       &minAmount,
		ApprovalLevels:  1,
		ApproverRoles:   []string{"finance_manager"},
		EscalationHours: 24,
		IsActive:        true,
	}}}
	perms := stubPerms{
		approverUID: {service.PermApproveCashTransactions},
		adminUID:    {service.PermManageConfiguration},
	}

	settings := service.NewSettingsService(f.settings, nil, time.Minute, log)
	ruleEngine := service.NewRuleEngine(rules, log)
	approvals := service.NewApprovalService(passthroughTx{}, f.approvals, f.audit, ruleEngine, perms, settings, nil, nil, log)
	periods := service.NewClosingPeriodService(passthroughTx{}, f.periods, nil, nil, nil, f.audit, settings, nil, nil, nil, log)

	f.svc = Services{
		Approvals:   approvals,
		Approvables: service.NewApprovableService(ruleEngine, approvals, settings, log),
		Rules:       ruleEngine,
		Periods:     periods,
		Revisions:   service.NewRevisionService(passthroughTx{}, nil, nil, periods, f.audit, perms, settings, nil, nil, log),
		Settings:    settings,
		Permissions: perms,
	}
	return f
}

// pendingApproval stores an open cash approval and returns its id.
func (f *fixture) pendingApproval() string {
	a := &repository.Approval{
		Approvable:       repository.ApprovableRef{Type: repository.EntityCashTransaction, ID: "cash-1"},
		ApprovalType:     repository.ApprovalTypeTransaction,
		Status:           repository.ApprovalStatusPending,
		Amount:           decimal.NewFromInt(2_500_000),
		ApprovalLevel:    1,
		RequiresApproval: true,
		RequestedBy:      clerkUID,
	}
	_ = f.approvals.Create(context.Background(), a)
	return a.ID
}

func (f *fixture) closedMarch() {
	f.periods.periods = append(f.periods.periods, repository.ClosingPeriod{
		ID:          "period-2026-03",
		PeriodCode:  "2026-03",
		PeriodType:  repository.PeriodTypeMonthly,
		PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		CutoffDate:  time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC),
		Status:      repository.PeriodStatusSoftClose,
	})
}
