package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-gl-closing/internal/cache"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
	"github.com/pesio-ai/be-gl-closing/internal/service"
)

// The narrow views the reminder worker reads through. The services in
// internal/service satisfy them.

type PeriodSource interface {
	PeriodsNearCutoff(ctx context.Context, days int) ([]*repository.ClosingPeriod, error)
	Checklist(ctx context.Context, periodID string) ([]*repository.PeriodChecklist, error)
}

type ApprovalSource interface {
	ListPending(ctx context.Context, filter repository.ApprovalFilter) ([]*repository.Approval, error)
}

type RuleSource interface {
	GetRule(ctx context.Context, id string) (*repository.ApprovalRule, error)
}

type RevisionSource interface {
	ListPending(ctx context.Context, periodID string) ([]*repository.JournalRevisionLog, error)
}

type ReminderSettings interface {
	IsModuleEnabled(ctx context.Context) bool
	ReminderDaysBeforeCutoff(ctx context.Context) int
	ApprovalReminderHours(ctx context.Context) int
}

// ReminderReport counts the notifications one run sent.
type ReminderReport struct {
	CutoffReminders   int  `json:"cutoff_reminders"`
	ApprovalReminders int  `json:"approval_reminders"`
	RevisionReminders int  `json:"revision_reminders"`
	Skipped           bool `json:"skipped"`
}

// ReminderWorker periodically nudges finance users about periods nearing
// their cutoff with open checklist items, approvals about to lapse and
// revisions waiting for a decision. It never changes state. Runs take a
// distributed lock so only one replica sends a given round.
type ReminderWorker struct {
	periods   PeriodSource
	approvals ApprovalSource
	rules     RuleSource
	revisions RevisionSource
	settings  ReminderSettings
	notifier  service.Notifier
	locker    service.PeriodLocker
	log       *logger.Logger

	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReminderWorker creates a reminder worker. locker may be nil.
func NewReminderWorker(
	periods PeriodSource,
	approvals ApprovalSource,
	rules RuleSource,
	revisions RevisionSource,
	settings ReminderSettings,
	notifier service.Notifier,
	locker service.PeriodLocker,
	interval time.Duration,
	log *logger.Logger,
) *ReminderWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ReminderWorker{
		periods:   periods,
		approvals: approvals,
		rules:     rules,
		revisions: revisions,
		settings:  settings,
		notifier:  notifier,
		locker:    locker,
		log:       log.Component("reminder_worker"),
		interval:  interval,
		now:       time.Now,
	}
}

// Start launches the ticker loop. The first round runs immediately.
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("reminder worker is already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	w.log.Info().Dur("interval", w.interval).Msg("ReminderWorker started")

	go w.loop(ctx, w.done)
	return nil
}

// Stop cancels the loop and waits for the current round to finish.
func (w *ReminderWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.log.Info().Msg("ReminderWorker stopped")
}

func (w *ReminderWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runLogged(ctx)
		}
	}
}

func (w *ReminderWorker) runLogged(ctx context.Context) {
	report, err := w.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Reminder round failed")
		}
		return
	}
	w.log.Debug().
		Int("cutoff", report.CutoffReminders).
		Int("approvals", report.ApprovalReminders).
		Int("revisions", report.RevisionReminders).
		Bool("skipped", report.Skipped).
		Msg("Reminder round finished")
}

// RunOnce sends one round of reminders.
func (w *ReminderWorker) RunOnce(ctx context.Context) (*ReminderReport, error) {
	report := &ReminderReport{}
	if !w.settings.IsModuleEnabled(ctx) {
		report.Skipped = true
		return report, nil
	}

	if w.locker != nil {
		release, err := w.locker.Obtain(ctx, "reminders")
		switch {
		case stderrors.Is(err, cache.ErrLocked):
			w.log.Debug().Msg("Another replica holds the reminder lock; skipping round")
			report.Skipped = true
			return report, nil
		case err != nil:
			w.log.Warn().Err(err).Msg("Reminder lock unavailable; running unlocked")
		default:
			defer release()
		}
	}

	var err error
	if report.CutoffReminders, err = w.remindCutoffs(ctx); err != nil {
		return report, fmt.Errorf("cutoff reminders: %w", err)
	}
	if report.ApprovalReminders, err = w.remindApprovals(ctx); err != nil {
		return report, fmt.Errorf("approval reminders: %w", err)
	}
	if report.RevisionReminders, err = w.remindRevisions(ctx); err != nil {
		return report, fmt.Errorf("revision reminders: %w", err)
	}
	return report, nil
}

func (w *ReminderWorker) remindCutoffs(ctx context.Context) (int, error) {
	days := w.settings.ReminderDaysBeforeCutoff(ctx)
	periods, err := w.periods.PeriodsNearCutoff(ctx, days)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, p := range periods {
		items, err := w.periods.Checklist(ctx, p.ID)
		if err != nil {
			return sent, err
		}
		open := repository.IncompleteRequired(items, repository.PeriodStatusSoftClose)
		if len(open) == 0 {
			continue
		}
		codes := make([]string, 0, len(open))
		for _, it := range open {
			codes = append(codes, it.ItemCode)
		}

		w.notifier.SendToRoles(ctx, service.NotifyCutoffReminder, service.FinanceRoles, service.Payload{
			"title": fmt.Sprintf("Period %s cutoff on %s", p.PeriodCode, p.CutoffDate.Format("2006-01-02")),
			"message": fmt.Sprintf("%d required checklist item(s) are still open for %s",
				len(open), p.PeriodName),
			"action_url": "/closing-periods/" + p.ID,
			"data": service.Payload{
				"period_id":        p.ID,
				"period_code":      p.PeriodCode,
				"cutoff_date":      p.CutoffDate.Format("2006-01-02"),
				"incomplete_items": codes,
			},
		})
		sent++
	}
	return sent, nil
}

func (w *ReminderWorker) remindApprovals(ctx context.Context) (int, error) {
	horizon := w.now().Add(time.Duration(w.settings.ApprovalReminderHours(ctx)) * time.Hour)
	approvals, err := w.approvals.ListPending(ctx, repository.ApprovalFilter{ExpiresBefore: &horizon})
	if err != nil {
		return 0, err
	}

	roles := map[string][]string{}
	sent := 0
	for _, a := range approvals {
		if a.RuleID == nil {
			continue
		}
		ruleRoles, ok := roles[*a.RuleID]
		if !ok {
			rule, err := w.rules.GetRule(ctx, *a.RuleID)
			if err != nil {
				w.log.Warn().Err(err).Str("rule_id", *a.RuleID).Msg("Approval rule unavailable; reminder skipped")
				continue
			}
			ruleRoles = rule.ApproverRoles
			roles[*a.RuleID] = ruleRoles
		}
		if len(ruleRoles) == 0 {
			continue
		}

		w.notifier.SendToRoles(ctx, service.NotifyApprovalReminder, ruleRoles, service.Payload{
			"title": "Approval about to lapse",
			"message": fmt.Sprintf("%s %s (%s) is waiting for approval", a.Approvable.Type, a.Approvable.ID,
				a.Amount.StringFixed(2)),
			"action_url": "/approvals/" + a.ID,
			"data": service.Payload{
				"approval_id": a.ID,
				"expires_at":  a.ExpiresAt,
			},
		})
		sent++
	}
	return sent, nil
}

func (w *ReminderWorker) remindRevisions(ctx context.Context) (int, error) {
	revs, err := w.revisions.ListPending(ctx, "")
	if err != nil {
		return 0, err
	}

	byPeriod := map[string]int{}
	for _, r := range revs {
		byPeriod[r.ClosingPeriodID]++
	}
	periodIDs := make([]string, 0, len(byPeriod))
	for id := range byPeriod {
		periodIDs = append(periodIDs, id)
	}
	sort.Strings(periodIDs)

	for _, id := range periodIDs {
		w.notifier.SendToRoles(ctx, service.NotifyRevisionPending, service.FinanceRoles, service.Payload{
			"title":      "Journal revisions awaiting approval",
			"message":    fmt.Sprintf("%d revision(s) are pending", byPeriod[id]),
			"action_url": "/revisions?period_id=" + id,
			"data": service.Payload{
				"period_id": id,
				"pending":   byPeriod[id],
			},
		})
	}
	return len(periodIDs), nil
}
