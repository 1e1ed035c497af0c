package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

// The store interfaces below are satisfied by the pgx repositories in
// internal/repository. Services depend on them so tests can run against
// in-memory fakes.

// Transactor runs fn in one database transaction. Store calls made with the
// ctx passed to fn join that transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RuleStore persists approval rules.
type RuleStore interface {
	Create(ctx context.Context, rule *repository.ApprovalRule) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalRule, error)
	List(ctx context.Context, activeOnly bool) ([]*repository.ApprovalRule, error)
	ListActive(ctx context.Context, entityType repository.EntityType, approvalType repository.ApprovalType) ([]*repository.ApprovalRule, error)
	Update(ctx context.Context, rule *repository.ApprovalRule) error
	Deactivate(ctx context.Context, id string) error
}

// ApprovalStore persists approvals. The Mark* methods only move open
// approvals and fail with AlreadyResolved otherwise.
type ApprovalStore interface {
	Create(ctx context.Context, a *repository.Approval) error
	GetByID(ctx context.Context, id string) (*repository.Approval, error)
	FindOpen(ctx context.Context, ref repository.ApprovableRef, approvalType repository.ApprovalType) (*repository.Approval, error)
	ListForApprovable(ctx context.Context, ref repository.ApprovableRef) ([]*repository.Approval, error)
	List(ctx context.Context, filter repository.ApprovalFilter) ([]*repository.Approval, error)
	MarkApproved(ctx context.Context, id, approver string, notes *string, at time.Time) (*repository.Approval, error)
	MarkRejected(ctx context.Context, id, approver, reason string, at time.Time) (*repository.Approval, error)
	MarkEscalated(ctx context.Context, id, escalatedTo string, at time.Time) (*repository.Approval, error)
}

// AuditStore appends and reads the audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	ListBySubject(ctx context.Context, subjectType, subjectID string) ([]*repository.AuditEntry, error)
}

// PeriodStore persists closing periods.
type PeriodStore interface {
	Create(ctx context.Context, p *repository.ClosingPeriod, items []*repository.PeriodChecklist) error
	GetByID(ctx context.Context, id string) (*repository.ClosingPeriod, error)
	GetForUpdate(ctx context.Context, id string) (*repository.ClosingPeriod, error)
	FindByDate(ctx context.Context, d time.Time) (*repository.ClosingPeriod, error)
	Overlaps(ctx context.Context, start, end time.Time) (bool, error)
	List(ctx context.Context, filter repository.PeriodFilter) ([]*repository.ClosingPeriod, error)
	ListOpenWithCutoffBefore(ctx context.Context, before time.Time) ([]*repository.ClosingPeriod, error)
	MarkSoftClosed(ctx context.Context, id, by string, at time.Time) (*repository.ClosingPeriod, error)
	MarkHardClosed(ctx context.Context, id, by string, at time.Time) (*repository.ClosingPeriod, error)
	MarkReopened(ctx context.Context, id string, from []repository.PeriodStatus, by, reason string, at time.Time) (*repository.ClosingPeriod, error)
}

// ChecklistStore persists period checklist items.
type ChecklistStore interface {
	ListByPeriod(ctx context.Context, periodID string) ([]*repository.PeriodChecklist, error)
	SetCompleted(ctx context.Context, periodID, itemCode string, completed bool, by string, notes *string, at time.Time) (*repository.PeriodChecklist, error)
}

// TemplateStore persists period templates.
type TemplateStore interface {
	Create(ctx context.Context, t *repository.PeriodTemplate) error
	GetByID(ctx context.Context, id string) (*repository.PeriodTemplate, error)
	GetDefault(ctx context.Context) (*repository.PeriodTemplate, error)
	List(ctx context.Context) ([]*repository.PeriodTemplate, error)
}

// RevisionStore persists journal revision logs.
type RevisionStore interface {
	Create(ctx context.Context, l *repository.JournalRevisionLog) error
	GetByID(ctx context.Context, id string) (*repository.JournalRevisionLog, error)
	ListPending(ctx context.Context, periodID string) ([]*repository.JournalRevisionLog, error)
	CountPending(ctx context.Context, periodID string) (int, error)
	Resolve(ctx context.Context, id string, status repository.RevisionStatus, by string, notes *string, at time.Time) (*repository.JournalRevisionLog, error)
}

// JournalStore reads journals and applies revision mutations. Every mutation
// refuses a journal whose stored updated_at differs from the one passed in.
type JournalStore interface {
	GetByID(ctx context.Context, id string) (*repository.Journal, error)
	Replace(ctx context.Context, j *repository.Journal) error
	Delete(ctx context.Context, j *repository.Journal) error
	Unpost(ctx context.Context, j *repository.Journal) error
	Reverse(ctx context.Context, j *repository.Journal, date time.Time) (*repository.Journal, error)
}

// SettingStore persists typed settings.
type SettingStore interface {
	Get(ctx context.Context, key string) (*repository.ClosingPeriodSetting, error)
	ListGroup(ctx context.Context, group string) ([]*repository.ClosingPeriodSetting, error)
	List(ctx context.Context) ([]*repository.ClosingPeriodSetting, error)
	Upsert(ctx context.Context, s *repository.ClosingPeriodSetting) error
}

// SettingsCache is the TTL cache in front of the settings store.
type SettingsCache interface {
	GetObject(ctx context.Context, key string, dest any) (bool, error)
	SetObject(ctx context.Context, key string, obj any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// PermissionChecker answers actor.hasPermission.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// PeriodLocker serialises transitions of one period across processes.
type PeriodLocker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}

// Payload is the free-form body of a notification or event.
type Payload map[string]interface{}

// Notifier delivers notifications. Delivery is fire-and-forget: failures are
// logged by the implementation and never reach the caller.
type Notifier interface {
	SendToRoles(ctx context.Context, notificationType string, roles []string, payload Payload)
	SendToDepartment(ctx context.Context, departmentID, notificationType string, payload Payload)
}

// EventPublisher broadcasts domain events for observers.
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload Payload)
}

// Domain events.
const (
	EventApprovalRequested   = "approval_requested"
	EventApprovalApproved    = "approval_approved"
	EventApprovalRejected    = "approval_rejected"
	EventApprovalEscalated   = "approval_escalated"
	EventRevisionRequested   = "revision_requested"
	EventRevisionResolved    = "revision_resolved"
	EventPeriodStatusChanged = "period_status_changed"
)

// Notification types.
const (
	NotifyApprovalRequested = "approval_requested"
	NotifyApprovalReminder  = "approval_reminder"
	NotifyRevisionPending   = "revision_pending"
	NotifyPeriodClosed      = "period_closed"
	NotifyPeriodReopened    = "period_reopened"
	NotifyCutoffReminder    = "cutoff_reminder"
)

// FinanceRoles receive period, revision and reminder notifications.
var FinanceRoles = []string{"finance_manager", "chief_accountant"}

type nopNotifier struct{}

func (nopNotifier) SendToRoles(context.Context, string, []string, Payload)    {}
func (nopNotifier) SendToDepartment(context.Context, string, string, Payload) {}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, string, Payload) {}
