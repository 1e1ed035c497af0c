package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-gl-closing/internal/cache"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

// MutationMode is how a journal change must be carried out.
type MutationMode string

const (
	// MutationDirect applies the change straight to the journal.
	MutationDirect MutationMode = "direct"
	// MutationRevision routes the change through a revision log.
	MutationRevision MutationMode = "revision"
	// MutationBlocked refuses the change.
	MutationBlocked MutationMode = "blocked"
)

// MutationDecision is the answer of GuardJournalMutation.
type MutationDecision struct {
	Mode   MutationMode
	Period *repository.ClosingPeriod
}

// ClosingPeriodService runs the period lock state machine:
// open -> soft_close -> hard_close, with reopen back to open.
type ClosingPeriodService struct {
	tx         Transactor
	periods    PeriodStore
	checklists ChecklistStore
	templates  TemplateStore
	revisions  RevisionStore
	audit      AuditStore
	settings   *SettingsService
	locker     PeriodLocker
	notifier   Notifier
	events     EventPublisher
	log        *logger.Logger
	now        func() time.Time
}

// NewClosingPeriodService creates a new ClosingPeriodService. locker,
// notifier and events may be nil.
func NewClosingPeriodService(
	tx Transactor,
	periods PeriodStore,
	checklists ChecklistStore,
	templates TemplateStore,
	revisions RevisionStore,
	audit AuditStore,
	settings *SettingsService,
	locker PeriodLocker,
	notifier Notifier,
	events EventPublisher,
	log *logger.Logger,
) *ClosingPeriodService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if events == nil {
		events = nopEvents{}
	}
	return &ClosingPeriodService{
		tx:         tx,
		periods:    periods,
		checklists: checklists,
		templates:  templates,
		revisions:  revisions,
		audit:      audit,
		settings:   settings,
		locker:     locker,
		notifier:   notifier,
		events:     events,
		log:        log,
		now:        time.Now,
	}
}

// ── Provisioning ─────────────────────────────────────────────────────────────

// ProvisionPeriod creates the period containing date from a template. An
// empty templateID uses the default template.
func (s *ClosingPeriodService) ProvisionPeriod(ctx context.Context, templateID string, date time.Time, createdBy string) (*repository.ClosingPeriod, []*repository.PeriodChecklist, error) {
	if createdBy == "" {
		return nil, nil, errors.InvalidInput("created_by", "creator is required")
	}

	var (
		tpl *repository.PeriodTemplate
		err error
	)
	if templateID == "" {
		tpl, err = s.templates.GetDefault(ctx)
	} else {
		tpl, err = s.templates.GetByID(ctx, templateID)
	}
	if err != nil {
		return nil, nil, err
	}
	if !tpl.IsActive {
		return nil, nil, errors.InvalidInput("template_id", fmt.Sprintf("template %s is inactive", tpl.Name))
	}

	period, items := tpl.Build(date, createdBy)
	if err := period.Validate(); err != nil {
		return nil, nil, err
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		overlaps, err := s.periods.Overlaps(ctx, period.PeriodStart, period.PeriodEnd)
		if err != nil {
			return err
		}
		if overlaps {
			return errors.InvalidInput("period", fmt.Sprintf("a period overlapping %s already exists", period.PeriodCode))
		}
		if err := s.periods.Create(ctx, period, items); err != nil {
			return err
		}
		return s.audit.Append(ctx, periodAudit(period, "provisioned", createdBy, nil, map[string]interface{}{
			"template_id": tpl.ID,
		}))
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("period_id", period.ID).
		Str("period_code", period.PeriodCode).
		Int("checklist_items", len(items)).
		Msg("Closing period provisioned")

	return period, items, nil
}

// CreateTemplate validates and stores a period template.
func (s *ClosingPeriodService) CreateTemplate(ctx context.Context, t *repository.PeriodTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.templates.Create(ctx, t)
}

// ListTemplates returns all period templates.
func (s *ClosingPeriodService) ListTemplates(ctx context.Context) ([]*repository.PeriodTemplate, error) {
	return s.templates.List(ctx)
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Get returns one period.
func (s *ClosingPeriodService) Get(ctx context.Context, id string) (*repository.ClosingPeriod, error) {
	return s.periods.GetByID(ctx, id)
}

// List returns periods matching filter.
func (s *ClosingPeriodService) List(ctx context.Context, filter repository.PeriodFilter) ([]*repository.ClosingPeriod, error) {
	return s.periods.List(ctx, filter)
}

// Checklist returns the checklist of a period.
func (s *ClosingPeriodService) Checklist(ctx context.Context, periodID string) ([]*repository.PeriodChecklist, error) {
	if _, err := s.periods.GetByID(ctx, periodID); err != nil {
		return nil, err
	}
	return s.checklists.ListByPeriod(ctx, periodID)
}

// History returns the audit trail of a period.
func (s *ClosingPeriodService) History(ctx context.Context, periodID string) ([]*repository.AuditEntry, error) {
	return s.audit.ListBySubject(ctx, repository.AuditSubjectPeriod, periodID)
}

// ── Checklist ────────────────────────────────────────────────────────────────

// CompleteChecklistItem marks one checklist item done.
func (s *ClosingPeriodService) CompleteChecklistItem(ctx context.Context, periodID, itemCode, userID string, notes *string) (*repository.PeriodChecklist, error) {
	return s.setChecklistItem(ctx, periodID, itemCode, true, userID, notes)
}

// ReopenChecklistItem clears completion of one checklist item.
func (s *ClosingPeriodService) ReopenChecklistItem(ctx context.Context, periodID, itemCode, userID string, notes *string) (*repository.PeriodChecklist, error) {
	return s.setChecklistItem(ctx, periodID, itemCode, false, userID, notes)
}

func (s *ClosingPeriodService) setChecklistItem(ctx context.Context, periodID, itemCode string, completed bool, userID string, notes *string) (*repository.PeriodChecklist, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "actor is required")
	}
	period, err := s.periods.GetByID(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period.Status == repository.PeriodStatusHardClose {
		return nil, errors.InvalidTransition(fmt.Sprintf("closing period %s is hard closed", period.PeriodCode))
	}

	action := "checklist_completed"
	if !completed {
		action = "checklist_reopened"
	}

	var item *repository.PeriodChecklist
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.checklists.SetCompleted(ctx, periodID, itemCode, completed, userID, notes, s.now())
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, periodAudit(period, action, userID, nil, map[string]interface{}{
			"item_code": itemCode,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("period_id", periodID).
		Str("item_code", itemCode).
		Bool("completed", completed).
		Msg("Checklist item updated")

	return item, nil
}

// ── Transitions ──────────────────────────────────────────────────────────────

// SoftClose locks an open period for normal edits.
func (s *ClosingPeriodService) SoftClose(ctx context.Context, id, userID string) (*repository.ClosingPeriod, error) {
	return s.transition(ctx, id, userID, repository.PeriodStatusSoftClose, func(ctx context.Context, p *repository.ClosingPeriod) error {
		return s.checkChecklist(ctx, p, repository.PeriodStatusSoftClose)
	}, func(ctx context.Context, p *repository.ClosingPeriod) (*repository.ClosingPeriod, error) {
		return s.periods.MarkSoftClosed(ctx, p.ID, userID, s.now())
	}, "soft_closed", nil)
}

// HardClose locks a soft-closed period permanently. Pending revisions must be
// resolved first.
func (s *ClosingPeriodService) HardClose(ctx context.Context, id, userID string) (*repository.ClosingPeriod, error) {
	return s.transition(ctx, id, userID, repository.PeriodStatusHardClose, func(ctx context.Context, p *repository.ClosingPeriod) error {
		if err := s.checkChecklist(ctx, p, repository.PeriodStatusHardClose); err != nil {
			return err
		}
		pending, err := s.revisions.CountPending(ctx, p.ID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return errors.InvalidTransition(fmt.Sprintf("closing period %s has %d pending revisions", p.PeriodCode, pending))
		}
		return nil
	}, func(ctx context.Context, p *repository.ClosingPeriod) (*repository.ClosingPeriod, error) {
		return s.periods.MarkHardClosed(ctx, p.ID, userID, s.now())
	}, "hard_closed", nil)
}

// Reopen returns a closed period to open. Reopening a hard-closed period is
// only allowed when allow_reopen_hard_close is on.
func (s *ClosingPeriodService) Reopen(ctx context.Context, id, userID, reason string) (*repository.ClosingPeriod, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.InvalidInput("reason", "reopen reason is required")
	}

	var from repository.PeriodStatus
	return s.transition(ctx, id, userID, repository.PeriodStatusOpen, func(ctx context.Context, p *repository.ClosingPeriod) error {
		from = p.Status
		if p.Status == repository.PeriodStatusHardClose && !s.settings.AllowReopenHardClose(ctx) {
			return errors.InvalidTransition("reopening hard-closed periods is disabled")
		}
		return nil
	}, func(ctx context.Context, p *repository.ClosingPeriod) (*repository.ClosingPeriod, error) {
		return s.periods.MarkReopened(ctx, p.ID, []repository.PeriodStatus{from}, userID, reason, s.now())
	}, "reopened", map[string]interface{}{"reason": reason})
}

// transition holds the period lock and, inside one transaction with the
// period row locked, checks the state-machine edge and the caller's guard
// before applying the CAS update and its audit row.
func (s *ClosingPeriodService) transition(
	ctx context.Context,
	id, userID string,
	target repository.PeriodStatus,
	guard func(ctx context.Context, p *repository.ClosingPeriod) error,
	apply func(ctx context.Context, p *repository.ClosingPeriod) (*repository.ClosingPeriod, error),
	action string,
	metadata map[string]interface{},
) (*repository.ClosingPeriod, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "actor is required")
	}

	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var current, updated *repository.ClosingPeriod
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		current, err = s.periods.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.CanTransitionTo(target) {
			return errors.InvalidTransition(fmt.Sprintf("closing period %s cannot move from %s to %s",
				current.PeriodCode, current.Status, target))
		}
		if err := guard(ctx, current); err != nil {
			return err
		}

		updated, err = apply(ctx, current)
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, periodAudit(updated, action, userID, &current.Status, metadata))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("period_id", id).
		Str("period_code", updated.PeriodCode).
		Str("from", string(current.Status)).
		Str("to", string(updated.Status)).
		Str("by", userID).
		Msg("Closing period status changed")

	payload := Payload{
		"period_id":   updated.ID,
		"period_code": updated.PeriodCode,
		"from":        string(current.Status),
		"to":          string(updated.Status),
		"by":          userID,
	}
	s.events.Publish(ctx, EventPeriodStatusChanged, payload)

	notification := NotifyPeriodClosed
	if target == repository.PeriodStatusOpen {
		notification = NotifyPeriodReopened
	}
	s.notifier.SendToRoles(ctx, notification, FinanceRoles, Payload{
		"title":      fmt.Sprintf("Period %s is now %s", updated.PeriodCode, updated.Status),
		"message":    fmt.Sprintf("Period %s moved from %s to %s", updated.PeriodName, current.Status, updated.Status),
		"action_url": "/closing-periods/" + updated.ID,
		"data":       payload,
	})

	return updated, nil
}

func (s *ClosingPeriodService) lock(ctx context.Context, periodID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Obtain(ctx, periodID)
	if errors.Is(err, cache.ErrLocked) {
		return nil, errors.New(errors.ErrCodeConflict, "another transition of this period is in progress")
	}
	if err != nil {
		s.log.Warn().Err(err).Str("period_id", periodID).Msg("Could not obtain period lock; proceeding without lock")
		return func() {}, nil
	}
	return release, nil
}

func (s *ClosingPeriodService) checkChecklist(ctx context.Context, p *repository.ClosingPeriod, target repository.PeriodStatus) error {
	if !s.settings.RequireChecklistCompletion(ctx) {
		return nil
	}
	items, err := s.checklists.ListByPeriod(ctx, p.ID)
	if err != nil {
		return err
	}
	missing := repository.IncompleteRequired(items, target)
	if len(missing) == 0 {
		return nil
	}
	codes := make([]string, len(missing))
	for i, it := range missing {
		codes[i] = it.ItemCode
	}
	return errors.InvalidTransition(fmt.Sprintf("closing period %s has incomplete checklist items: %s",
		p.PeriodCode, strings.Join(codes, ", ")))
}

// ── Journal guard ────────────────────────────────────────────────────────────

// GuardJournalMutation decides how a change to a journal dated journalDate
// must be carried out.
func (s *ClosingPeriodService) GuardJournalMutation(ctx context.Context, journalDate time.Time) (*MutationDecision, error) {
	if !s.settings.IsModuleEnabled(ctx) {
		return &MutationDecision{Mode: MutationDirect}, nil
	}
	period, err := s.periods.FindByDate(ctx, journalDate)
	if err != nil {
		return nil, err
	}
	if period == nil || !period.Status.IsClosed() {
		return &MutationDecision{Mode: MutationDirect, Period: period}, nil
	}
	if s.settings.ClosingMode(ctx) == ClosingModeLocked {
		return &MutationDecision{Mode: MutationBlocked, Period: period}, nil
	}
	return &MutationDecision{Mode: MutationRevision, Period: period}, nil
}

// HoldPeriod locks the period a revision is being written against and
// confirms it is still in the state decision was taken on. It must run inside
// the transaction that writes the revision.
func (s *ClosingPeriodService) HoldPeriod(ctx context.Context, decision *MutationDecision) error {
	if decision == nil || decision.Period == nil {
		return nil
	}
	p, err := s.periods.GetForUpdate(ctx, decision.Period.ID)
	if err != nil {
		return err
	}
	if p.Status != decision.Period.Status {
		return errors.InvalidTransition(fmt.Sprintf("closing period %s moved from %s to %s; retry the change",
			p.PeriodCode, decision.Period.Status, p.Status))
	}
	return nil
}

// PeriodsNearCutoff returns open periods whose cutoff is within days of now.
func (s *ClosingPeriodService) PeriodsNearCutoff(ctx context.Context, days int) ([]*repository.ClosingPeriod, error) {
	return s.periods.ListOpenWithCutoffBefore(ctx, s.now().AddDate(0, 0, days))
}

func periodAudit(p *repository.ClosingPeriod, action, by string, before *repository.PeriodStatus, metadata map[string]interface{}) *repository.AuditEntry {
	after := string(p.Status)
	entry := &repository.AuditEntry{
		SubjectType: repository.AuditSubjectPeriod,
		SubjectID:   p.ID,
		Action:      action,
		PerformedBy: by,
		StatusAfter: &after,
		Metadata:    metadata,
	}
	if before != nil {
		b := string(*before)
		entry.StatusBefore = &b
	}
	return entry
}
