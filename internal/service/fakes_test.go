package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

// memDB backs every fake store. InTransaction snapshots the whole state and
// restores it when fn fails, which is enough to observe atomicity.
type memDB struct {
	mu sync.Mutex

	rules      map[string]repository.ApprovalRule
	approvals  map[string]repository.Approval
	audit      []repository.AuditEntry
	periods    map[string]repository.ClosingPeriod
	checklists map[string][]repository.PeriodChecklist
	templates  map[string]repository.PeriodTemplate
	revisions  map[string]repository.JournalRevisionLog
	journals   map[string]repository.Journal
	settings   map[string]repository.ClosingPeriodSetting

	tick int64

	// failAuditOn makes Append fail for the given action.
	failAuditOn  string
	settingReads int
}

func newMemDB() *memDB {
	return &memDB{
		rules:      map[string]repository.ApprovalRule{},
		approvals:  map[string]repository.Approval{},
		periods:    map[string]repository.ClosingPeriod{},
		checklists: map[string][]repository.PeriodChecklist{},
		templates:  map[string]repository.PeriodTemplate{},
		revisions:  map[string]repository.JournalRevisionLog{},
		journals:   map[string]repository.Journal{},
		settings:   map[string]repository.ClosingPeriodSetting{},
	}
}

// stamp returns a strictly increasing time so ordering and staleness checks
// are deterministic.
func (db *memDB) stamp() time.Time {
	db.tick++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(db.tick) * time.Second)
}

type memSnapshot struct {
	rules      map[string]repository.ApprovalRule
	approvals  map[string]repository.Approval
	audit      []repository.AuditEntry
	periods    map[string]repository.ClosingPeriod
	checklists map[string][]repository.PeriodChecklist
	templates  map[string]repository.PeriodTemplate
	revisions  map[string]repository.JournalRevisionLog
	journals   map[string]repository.Journal
	settings   map[string]repository.ClosingPeriodSetting
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	checklists := make(map[string][]repository.PeriodChecklist, len(db.checklists))
	for k, v := range db.checklists {
		checklists[k] = append([]repository.PeriodChecklist(nil), v...)
	}
	return memSnapshot{
		rules:      copyMap(db.rules),
		approvals:  copyMap(db.approvals),
		audit:      append([]repository.AuditEntry(nil), db.audit...),
		periods:    copyMap(db.periods),
		checklists: checklists,
		templates:  copyMap(db.templates),
		revisions:  copyMap(db.revisions),
		journals:   copyMap(db.journals),
		settings:   copyMap(db.settings),
	}
}

func (db *memDB) restore(s memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rules = s.rules
	db.approvals = s.approvals
	db.audit = s.audit
	db.periods = s.periods
	db.checklists = s.checklists
	db.templates = s.templates
	db.revisions = s.revisions
	db.journals = s.journals
	db.settings = s.settings
}

type fakeTx struct{ db *memDB }

func (f fakeTx) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := f.db.snapshot()
	if err := fn(ctx); err != nil {
		f.db.restore(snap)
		return err
	}
	return nil
}

// ── rules ────────────────────────────────────────────────────────────────────

type fakeRules struct{ db *memDB }

func (f fakeRules) Create(_ context.Context, r *repository.ApprovalRule) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = f.db.stamp()
	r.UpdatedAt = r.CreatedAt
	f.db.rules[r.ID] = *r
	return nil
}

func (f fakeRules) GetByID(_ context.Context, id string) (*repository.ApprovalRule, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.rules[id]
	if !ok {
		return nil, errors.NotFound("approval_rule", id)
	}
	return &r, nil
}

func (f fakeRules) sorted(keep func(repository.ApprovalRule) bool) []*repository.ApprovalRule {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*repository.ApprovalRule
	for _, r := range f.db.rules {
		if keep(r) {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f fakeRules) List(_ context.Context, activeOnly bool) ([]*repository.ApprovalRule, error) {
	return f.sorted(func(r repository.ApprovalRule) bool { return !activeOnly || r.IsActive }), nil
}

func (f fakeRules) ListActive(_ context.Context, et repository.EntityType, at repository.ApprovalType) ([]*repository.ApprovalRule, error) {
	return f.sorted(func(r repository.ApprovalRule) bool {
		return r.IsActive && r.EntityType == et && r.ApprovalType == at
	}), nil
}

func (f fakeRules) Update(_ context.Context, r *repository.ApprovalRule) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	old, ok := f.db.rules[r.ID]
	if !ok {
		return errors.NotFound("approval_rule", r.ID)
	}
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = f.db.stamp()
	f.db.rules[r.ID] = *r
	return nil
}

func (f fakeRules) Deactivate(_ context.Context, id string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.rules[id]
	if !ok {
		return errors.NotFound("approval_rule", id)
	}
	r.IsActive = false
	f.db.rules[id] = r
	return nil
}

// ── approvals ────────────────────────────────────────────────────────────────

type fakeApprovals struct{ db *memDB }

func (f fakeApprovals) Create(_ context.Context, a *repository.Approval) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	a.ID = uuid.NewString()
	a.CreatedAt = f.db.stamp()
	a.UpdatedAt = a.CreatedAt
	f.db.approvals[a.ID] = *a
	return nil
}

func (f fakeApprovals) GetByID(_ context.Context, id string) (*repository.Approval, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	a, ok := f.db.approvals[id]
	if !ok {
		return nil, errors.NotFound("approval", id)
	}
	return &a, nil
}

func (f fakeApprovals) FindOpen(_ context.Context, ref repository.ApprovableRef, at repository.ApprovalType) (*repository.Approval, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, a := range f.db.approvals {
		if a.Approvable == ref && a.ApprovalType == at && a.IsPending() {
			a := a
			return &a, nil
		}
	}
	return nil, nil
}

func (f fakeApprovals) collect(keep func(repository.Approval) bool) []*repository.Approval {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*repository.Approval
	for _, a := range f.db.approvals {
		if keep(a) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f fakeApprovals) ListForApprovable(_ context.Context, ref repository.ApprovableRef) ([]*repository.Approval, error) {
	return f.collect(func(a repository.Approval) bool { return a.Approvable == ref }), nil
}

func (f fakeApprovals) List(_ context.Context, filter repository.ApprovalFilter) ([]*repository.Approval, error) {
	out := f.collect(func(a repository.Approval) bool {
		if len(filter.Status) > 0 {
			match := false
			for _, s := range filter.Status {
				match = match || a.Status == s
			}
			if !match {
				return false
			}
		}
		if filter.ApprovalType != nil && a.ApprovalType != *filter.ApprovalType {
			return false
		}
		if filter.ExpiresBefore != nil && (a.ExpiresAt == nil || !a.ExpiresAt.Before(*filter.ExpiresBefore)) {
			return false
		}
		return true
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f fakeApprovals) transition(id string, mutate func(a *repository.Approval)) (*repository.Approval, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	a, ok := f.db.approvals[id]
	if !ok {
		return nil, errors.NotFound("approval", id)
	}
	if !a.IsPending() {
		return nil, errors.AlreadyResolved("approval", id, string(a.Status))
	}
	mutate(&a)
	a.UpdatedAt = f.db.stamp()
	f.db.approvals[id] = a
	return &a, nil
}

func (f fakeApprovals) MarkApproved(_ context.Context, id, approver string, notes *string, at time.Time) (*repository.Approval, error) {
	return f.transition(id, func(a *repository.Approval) {
		a.Status = repository.ApprovalStatusApproved
		a.ApprovedBy = &approver
		a.ApprovedAt = &at
		a.ApprovalNotes = notes
	})
}

func (f fakeApprovals) MarkRejected(_ context.Context, id, approver, reason string, at time.Time) (*repository.Approval, error) {
	return f.transition(id, func(a *repository.Approval) {
		a.Status = repository.ApprovalStatusRejected
		a.ApprovedBy = &approver
		a.RejectedAt = &at
		a.RejectionReason = &reason
	})
}

func (f fakeApprovals) MarkEscalated(_ context.Context, id, to string, at time.Time) (*repository.Approval, error) {
	return f.transition(id, func(a *repository.Approval) {
		a.Status = repository.ApprovalStatusEscalated
		a.EscalatedTo = &to
		a.EscalatedAt = &at
	})
}

// ── audit ────────────────────────────────────────────────────────────────────

type fakeAudit struct{ db *memDB }

func (f fakeAudit) Append(_ context.Context, e *repository.AuditEntry) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failAuditOn != "" && f.db.failAuditOn == e.Action {
		return errors.New(errors.ErrCodeInternal, "audit insert failed")
	}
	e.ID = uuid.NewString()
	e.PerformedAt = f.db.stamp()
	f.db.audit = append(f.db.audit, *e)
	return nil
}

func (f fakeAudit) ListBySubject(_ context.Context, subjectType, subjectID string) ([]*repository.AuditEntry, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*repository.AuditEntry
	for _, e := range f.db.audit {
		if e.SubjectType == subjectType && e.SubjectID == subjectID {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

// ── periods and checklists ───────────────────────────────────────────────────

type fakePeriods struct{ db *memDB }

func (f fakePeriods) Create(_ context.Context, p *repository.ClosingPeriod, items []*repository.PeriodChecklist) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, existing := range f.db.periods {
		if existing.PeriodCode == p.PeriodCode {
			return errors.New(errors.ErrCodeConflict, "period code already exists")
		}
	}
	p.ID = uuid.NewString()
	p.CreatedAt = f.db.stamp()
	p.UpdatedAt = p.CreatedAt
	f.db.periods[p.ID] = *p
	rows := make([]repository.PeriodChecklist, 0, len(items))
	for _, it := range items {
		it.ID = uuid.NewString()
		it.ClosingPeriodID = p.ID
		rows = append(rows, *it)
	}
	f.db.checklists[p.ID] = rows
	return nil
}

func (f fakePeriods) GetByID(_ context.Context, id string) (*repository.ClosingPeriod, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.periods[id]
	if !ok {
		return nil, errors.NotFound("closing_period", id)
	}
	return &p, nil
}

func (f fakePeriods) GetForUpdate(ctx context.Context, id string) (*repository.ClosingPeriod, error) {
	return f.GetByID(ctx, id)
}

func (f fakePeriods) FindByDate(_ context.Context, d time.Time) (*repository.ClosingPeriod, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, p := range f.db.periods {
		if p.ContainsDate(d) {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (f fakePeriods) Overlaps(_ context.Context, start, end time.Time) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, p := range f.db.periods {
		if !p.PeriodStart.After(end) && !p.PeriodEnd.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakePeriods) List(_ context.Context, filter repository.PeriodFilter) ([]*repository.ClosingPeriod, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*repository.ClosingPeriod
	for _, p := range f.db.periods {
		if len(filter.Status) > 0 {
			match := false
			for _, s := range filter.Status {
				match = match || p.Status == s
			}
			if !match {
				continue
			}
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	return out, nil
}

func (f fakePeriods) ListOpenWithCutoffBefore(_ context.Context, before time.Time) ([]*repository.ClosingPeriod, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*repository.ClosingPeriod
	for _, p := range f.db.periods {
		if p.Status == repository.PeriodStatusOpen && !p.CutoffDate.After(before) {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (f fakePeriods) transition(id string, from []repository.PeriodStatus, mutate func(p *repository.ClosingPeriod)) (*repository.ClosingPeriod, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.periods[id]
	if !ok {
		return nil, errors.NotFound("closing_period", id)
	}
	allowed := false
	for _, s := range from {
		allowed = allowed || p.Status == s
	}
	if !allowed {
		return nil, errors.InvalidTransition("closing period " + p.PeriodCode + " is " + string(p.Status))
	}
	mutate(&p)
	p.UpdatedAt = f.db.stamp()
	f.db.periods[id] = p
	return &p, nil
}

func (f fakePeriods) MarkSoftClosed(_ context.Context, id, by string, at time.Time) (*repository.ClosingPeriod, error) {
	return f.transition(id, []repository.PeriodStatus{repository.PeriodStatusOpen}, func(p *repository.ClosingPeriod) {
		p.Status = repository.PeriodStatusSoftClose
		p.SoftClosedBy = &by
		p.SoftClosedAt = &at
	})
}

func (f fakePeriods) MarkHardClosed(_ context.Context, id, by string, at time.Time) (*repository.ClosingPeriod, error) {
	return f.transition(id, []repository.PeriodStatus{repository.PeriodStatusSoftClose}, func(p *repository.ClosingPeriod) {
		p.Status = repository.PeriodStatusHardClose
		p.HardClosedBy = &by
		p.HardClosedAt = &at
	})
}

func (f fakePeriods) MarkReopened(_ context.Context, id string, from []repository.PeriodStatus, by, reason string, at time.Time) (*repository.ClosingPeriod, error) {
	return f.transition(id, from, func(p *repository.ClosingPeriod) {
		p.Status = repository.PeriodStatusOpen
		p.ReopenedBy = &by
		p.ReopenedAt = &at
		p.ReopenReason = &reason
	})
}

type fakeChecklists struct{ db *memDB }

func (f fakeChecklists) ListByPeriod(_ context.Context, periodID string) ([]*repository.PeriodChecklist, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rows := f.db.checklists[periodID]
	out := make([]*repository.PeriodChecklist, 0, len(rows))
	for i := range rows {
		it := rows[i]
		out = append(out, &it)
	}
	return out, nil
}

func (f fakeChecklists) SetCompleted(_ context.Context, periodID, itemCode string, completed bool, by string, notes *string, at time.Time) (*repository.PeriodChecklist, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rows := f.db.checklists[periodID]
	for i := range rows {
		if rows[i].ItemCode != itemCode {
			continue
		}
		rows[i].IsCompleted = completed
		rows[i].Notes = notes
		if completed {
			rows[i].CompletedBy = &by
			rows[i].CompletedAt = &at
		} else {
			rows[i].CompletedBy = nil
			rows[i].CompletedAt = nil
		}
		it := rows[i]
		return &it, nil
	}
	return nil, errors.NotFound("checklist_item", itemCode)
}

type fakeTemplates struct{ db *memDB }

func (f fakeTemplates) Create(_ context.Context, t *repository.PeriodTemplate) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.IsDefault {
		for id, other := range f.db.templates {
			other.IsDefault = false
			f.db.templates[id] = other
		}
	}
	f.db.templates[t.ID] = *t
	return nil
}

func (f fakeTemplates) GetByID(_ context.Context, id string) (*repository.PeriodTemplate, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	t, ok := f.db.templates[id]
	if !ok {
		return nil, errors.NotFound("period_template", id)
	}
	return &t, nil
}

func (f fakeTemplates) GetDefault(_ context.Context) (*repository.PeriodTemplate, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, t := range f.db.templates {
		if t.IsDefault && t.IsActive {
			t := t
			return &t, nil
		}
	}
	return nil, errors.NotFound("period_template", "default")
}

func (f fakeTemplates) List(_ context.Context) ([]*repository.PeriodTemplate, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*repository.PeriodTemplate
	for _, t := range f.db.templates {
		t := t
		out = append(out, &t)
	}
	return out, nil
}

// ── revisions and journals ───────────────────────────────────────────────────

type fakeRevisions struct{ db *memDB }

func (f fakeRevisions) Create(_ context.Context, l *repository.JournalRevisionLog) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	l.ID = uuid.NewString()
	l.CreatedAt = f.db.stamp()
	l.UpdatedAt = l.CreatedAt
	f.db.revisions[l.ID] = *l
	return nil
}

func (f fakeRevisions) GetByID(_ context.Context, id string) (*repository.JournalRevisionLog, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	l, ok := f.db.revisions[id]
	if !ok {
		return nil, errors.NotFound("journal_revision", id)
	}
	return &l, nil
}

func (f fakeRevisions) ListPending(_ context.Context, periodID string) ([]*repository.JournalRevisionLog, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*repository.JournalRevisionLog
	for _, l := range f.db.revisions {
		if l.IsPending() && (periodID == "" || l.ClosingPeriodID == periodID) {
			l := l
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f fakeRevisions) CountPending(ctx context.Context, periodID string) (int, error) {
	out, err := f.ListPending(ctx, periodID)
	return len(out), err
}

func (f fakeRevisions) Resolve(_ context.Context, id string, status repository.RevisionStatus, by string, notes *string, at time.Time) (*repository.JournalRevisionLog, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	l, ok := f.db.revisions[id]
	if !ok {
		return nil, errors.NotFound("journal_revision", id)
	}
	if !l.IsPending() {
		return nil, errors.AlreadyResolved("journal_revision", id, string(l.ApprovalStatus))
	}
	l.ApprovalStatus = status
	l.ApprovedBy = &by
	l.ApprovedAt = &at
	l.ApprovalNotes = notes
	l.UpdatedAt = f.db.stamp()
	f.db.revisions[id] = l
	return &l, nil
}

type fakeJournals struct{ db *memDB }

func cloneJournal(j repository.Journal) *repository.Journal {
	j.Lines = append([]repository.JournalLine(nil), j.Lines...)
	return &j
}

func (f fakeJournals) put(j *repository.Journal) *repository.Journal {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.RecomputeTotals()
	j.UpdatedAt = f.db.stamp()
	f.db.journals[j.ID] = *cloneJournal(*j)
	return cloneJournal(*j)
}

func (f fakeJournals) GetByID(_ context.Context, id string) (*repository.Journal, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	j, ok := f.db.journals[id]
	if !ok {
		return nil, errors.NotFound("journal", id)
	}
	return cloneJournal(j), nil
}

func (f fakeJournals) Replace(_ context.Context, j *repository.Journal) error {
	if err := j.Validate(); err != nil {
		return err
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	cur, ok := f.db.journals[j.ID]
	if !ok || cur.Status == repository.JournalStatusDeleted || !cur.UpdatedAt.Equal(j.UpdatedAt) {
		return errors.InvalidTransition("journal " + j.ID + " was changed or deleted since it was read")
	}
	cur.TransactionDate = j.TransactionDate
	cur.Description = j.Description
	cur.Lines = append([]repository.JournalLine(nil), j.Lines...)
	cur.RecomputeTotals()
	cur.UpdatedAt = f.db.stamp()
	f.db.journals[j.ID] = cur
	return nil
}

func (f fakeJournals) setStatus(j *repository.Journal, to repository.JournalStatus, allowed func(repository.JournalStatus) bool) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	cur, ok := f.db.journals[j.ID]
	if !ok || !allowed(cur.Status) || !cur.UpdatedAt.Equal(j.UpdatedAt) {
		return errors.InvalidTransition("journal " + j.ID + " cannot move to " + string(to))
	}
	cur.Status = to
	cur.UpdatedAt = f.db.stamp()
	f.db.journals[j.ID] = cur
	return nil
}

func (f fakeJournals) Delete(_ context.Context, j *repository.Journal) error {
	return f.setStatus(j, repository.JournalStatusDeleted, func(s repository.JournalStatus) bool {
		return s != repository.JournalStatusDeleted
	})
}

func (f fakeJournals) Unpost(_ context.Context, j *repository.Journal) error {
	return f.setStatus(j, repository.JournalStatusDraft, func(s repository.JournalStatus) bool {
		return s == repository.JournalStatusPosted
	})
}

func (f fakeJournals) Reverse(_ context.Context, j *repository.Journal, date time.Time) (*repository.Journal, error) {
	rev := j.Reversal(date)
	rev = f.put(rev)
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	cur := f.db.journals[j.ID]
	if cur.Status != repository.JournalStatusPosted || !cur.UpdatedAt.Equal(j.UpdatedAt) {
		return nil, errors.InvalidTransition("journal " + j.ID + " is no longer posted as read")
	}
	cur.Status = repository.JournalStatusReversed
	cur.ReversedBy = &rev.ID
	cur.UpdatedAt = f.db.stamp()
	f.db.journals[j.ID] = cur
	return rev, nil
}

// ── settings ─────────────────────────────────────────────────────────────────

type fakeSettings struct{ db *memDB }

func (f fakeSettings) Get(_ context.Context, key string) (*repository.ClosingPeriodSetting, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.settingReads++
	s, ok := f.db.settings[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f fakeSettings) ListGroup(_ context.Context, group string) ([]*repository.ClosingPeriodSetting, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.settingReads++
	var out []*repository.ClosingPeriodSetting
	for _, s := range f.db.settings {
		if s.Group == group {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f fakeSettings) List(ctx context.Context) ([]*repository.ClosingPeriodSetting, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*repository.ClosingPeriodSetting
	for _, s := range f.db.settings {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f fakeSettings) Upsert(_ context.Context, s *repository.ClosingPeriodSetting) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s.UpdatedAt = f.db.stamp()
	f.db.settings[s.Key] = *s
	return nil
}

// writeRaw changes a row behind the service's back, like another process
// would.
func (f fakeSettings) writeRaw(key, value string, t repository.SettingType, group string) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.settings[key] = repository.ClosingPeriodSetting{Key: key, Value: value, Type: t, Group: group}
}

// ── permissions, notifications, events ───────────────────────────────────────

type fakePerms struct {
	grants map[string]map[string]bool
}

func newFakePerms() *fakePerms { return &fakePerms{grants: map[string]map[string]bool{}} }

func (p *fakePerms) grant(user string, perms ...string) {
	if p.grants[user] == nil {
		p.grants[user] = map[string]bool{}
	}
	for _, perm := range perms {
		p.grants[user][perm] = true
	}
}

func (p *fakePerms) HasPermission(_ context.Context, user, perm string) (bool, error) {
	return p.grants[user][perm], nil
}

type sentNotification struct {
	Type    string
	Roles   []string
	Payload Payload
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) SendToRoles(_ context.Context, typ string, roles []string, payload Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Type: typ, Roles: roles, Payload: payload})
}

func (n *recordingNotifier) SendToDepartment(_ context.Context, dept, typ string, payload Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Type: typ, Roles: []string{"department:" + dept}, Payload: payload})
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.Type
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *recordingEvents) Publish(_ context.Context, event string, _ Payload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEvents) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}
