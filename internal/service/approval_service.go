package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

// Permissions checked by the workflow.
const (
	PermApproveCashTransactions = "approval.cash-transactions.approve"
	PermApproveJournalPosting   = "approval.journal-posting.approve"
	PermApproveMonthlyClosing   = "approval.monthly-closing.approve"
	PermEscalate                = "approval.escalate"
	PermApproveRevision         = "closing.revision.approve"
	PermManageConfiguration     = "closing.settings.manage"
)

// RequirePermission returns a forbidden error unless userID holds perm.
// Approval rules, period templates and settings are written only by holders
// of PermManageConfiguration.
func RequirePermission(ctx context.Context, perms PermissionChecker, userID, perm string) error {
	if userID == "" {
		return errors.Forbidden("an actor is required")
	}
	if perms == nil {
		return errors.Forbidden(fmt.Sprintf("user %s lacks %s", userID, perm))
	}
	ok, err := perms.HasPermission(ctx, userID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Forbidden(fmt.Sprintf("user %s lacks %s", userID, perm))
	}
	return nil
}

var approvalPermissions = map[repository.ApprovalType]string{
	repository.ApprovalTypeTransaction:    PermApproveCashTransactions,
	repository.ApprovalTypeJournalPosting: PermApproveJournalPosting,
	repository.ApprovalTypeMonthlyClosing: PermApproveMonthlyClosing,
}

// PermissionFor returns the permission that resolves approvals of t.
func PermissionFor(t repository.ApprovalType) (string, bool) {
	p, ok := approvalPermissions[t]
	return p, ok
}

// ApprovalService drives the approval state machine. Every transition is a
// compare-and-swap from an open status, written together with its audit row
// in one transaction; events and notifications go out after commit.
type ApprovalService struct {
	tx        Transactor
	approvals ApprovalStore
	audit     AuditStore
	rules     *RuleEngine
	perms     PermissionChecker
	settings  *SettingsService
	notifier  Notifier
	events    EventPublisher
	log       *logger.Logger
	now       func() time.Time
}

// NewApprovalService creates a new ApprovalService. notifier and events may
// be nil.
func NewApprovalService(
	tx Transactor,
	approvals ApprovalStore,
	audit AuditStore,
	rules *RuleEngine,
	perms PermissionChecker,
	settings *SettingsService,
	notifier Notifier,
	events EventPublisher,
	log *logger.Logger,
) *ApprovalService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if events == nil {
		events = nopEvents{}
	}
	return &ApprovalService{
		tx:        tx,
		approvals: approvals,
		audit:     audit,
		rules:     rules,
		perms:     perms,
		settings:  settings,
		notifier:  notifier,
		events:    events,
		log:       log,
		now:       time.Now,
	}
}

// ── Request ───────────────────────────────────────────────────────────────────

// RequestApproval creates a pending approval for entity when a rule applies.
// It returns nil, nil when no approval is needed.
func (s *ApprovalService) RequestApproval(
	ctx context.Context,
	entity Approvable,
	requestedBy string,
	approvalType repository.ApprovalType,
	notes *string,
) (*repository.Approval, error) {
	ref := entity.ApprovalRef()
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if requestedBy == "" {
		return nil, errors.InvalidInput("requested_by", "requester is required")
	}
	amount := entity.ApprovalAmount()
	if amount.IsNegative() {
		return nil, errors.InvalidInput("amount", "must not be negative")
	}

	rule, err := s.rules.FindApplicableRule(ctx, criteriaFor(entity, approvalType))
	if err != nil {
		return nil, err
	}
	if rule == nil || !rule.RequiresApproval(amount) {
		return nil, nil
	}

	now := s.now()
	expiresAt := rule.EscalationDeadline(now)
	ruleID := rule.ID
	approval := &repository.Approval{
		Approvable:       ref,
		ApprovalType:     approvalType,
		RuleID:           &ruleID,
		Status:           repository.ApprovalStatusPending,
		Amount:           amount,
		ApprovalLevel:    1,
		RequiresApproval: true,
		ExpiresAt:        &expiresAt,
		RequestedBy:      requestedBy,
		RequestNotes:     notes,
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		open, err := s.approvals.FindOpen(ctx, ref, approvalType)
		if err != nil {
			return err
		}
		if open != nil {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("%s already has an open %s approval (%s)", ref, approvalType, open.ID))
		}
		if err := s.approvals.Create(ctx, approval); err != nil {
			return err
		}
		return s.audit.Append(ctx, approvalAudit(approval, "requested", requestedBy, nil, map[string]interface{}{
			"rule_id": rule.ID,
			"amount":  amount.String(),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", approval.ID).
		Str("approvable", ref.String()).
		Str("approval_type", string(approvalType)).
		Str("amount", amount.String()).
		Msg("Approval requested")

	payload := approvalPayload(approval)
	s.events.Publish(ctx, EventApprovalRequested, payload)
	s.notifier.SendToRoles(ctx, NotifyApprovalRequested, rule.ApproverRoles, Payload{
		"title":      "Approval required",
		"message":    fmt.Sprintf("%s %s requires approval for %s", ref.Type, ref.ID, amount.StringFixed(2)),
		"action_url": "/approvals/" + approval.ID,
		"data":       payload,
	})

	return approval, nil
}

// ── Permission gate ───────────────────────────────────────────────────────────

// CanBeApprovedBy reports whether userID holds the permission mapped to the
// approval's type. Unknown types are never approvable.
func (s *ApprovalService) CanBeApprovedBy(ctx context.Context, a *repository.Approval, userID string) (bool, error) {
	perm, ok := PermissionFor(a.ApprovalType)
	if !ok || userID == "" {
		return false, nil
	}
	return s.perms.HasPermission(ctx, userID, perm)
}

func (s *ApprovalService) assertCanResolve(ctx context.Context, a *repository.Approval, userID string) error {
	ok, err := s.CanBeApprovedBy(ctx, a, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Forbidden(fmt.Sprintf("user %s may not resolve %s approvals", userID, a.ApprovalType))
	}
	return nil
}

// ── Transitions ───────────────────────────────────────────────────────────────

// Approve resolves an open approval as approved.
func (s *ApprovalService) Approve(ctx context.Context, id, userID string, notes *string) (*repository.Approval, error) {
	current, err := s.approvals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.assertCanResolve(ctx, current, userID); err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return nil, errors.AlreadyResolved("approval", id, string(current.Status))
	}

	var updated *repository.Approval
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.approvals.MarkApproved(ctx, id, userID, notes, s.now())
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, approvalAudit(updated, "approved", userID, &current.Status, nil))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", id).
		Str("approved_by", userID).
		Msg("Approval approved")

	s.events.Publish(ctx, EventApprovalApproved, approvalPayload(updated))
	return updated, nil
}

// Reject resolves an open approval as rejected. A reason is required.
func (s *ApprovalService) Reject(ctx context.Context, id, userID, reason string) (*repository.Approval, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.InvalidInput("reason", "rejection reason is required")
	}

	current, err := s.approvals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.assertCanResolve(ctx, current, userID); err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return nil, errors.AlreadyResolved("approval", id, string(current.Status))
	}

	var updated *repository.Approval
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.approvals.MarkRejected(ctx, id, userID, reason, s.now())
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, approvalAudit(updated, "rejected", userID, &current.Status,
			map[string]interface{}{"reason": reason}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", id).
		Str("rejected_by", userID).
		Msg("Approval rejected")

	s.events.Publish(ctx, EventApprovalRejected, approvalPayload(updated))
	return updated, nil
}

// Escalate hands an open approval to another approver without resolving it.
// Whether the actor needs a permission is a setting.
func (s *ApprovalService) Escalate(ctx context.Context, id, userID, escalateTo string) (*repository.Approval, error) {
	if escalateTo == "" {
		return nil, errors.InvalidInput("escalate_to", "escalation target is required")
	}

	current, err := s.approvals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.settings.EscalationRequiresPermission(ctx) {
		ok, err := s.perms.HasPermission(ctx, userID, PermEscalate)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Forbidden(fmt.Sprintf("user %s may not escalate approvals", userID))
		}
	}
	if !current.IsPending() {
		return nil, errors.AlreadyResolved("approval", id, string(current.Status))
	}

	var updated *repository.Approval
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.approvals.MarkEscalated(ctx, id, escalateTo, s.now())
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, approvalAudit(updated, "escalated", userID, &current.Status,
			map[string]interface{}{"escalated_to": escalateTo}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", id).
		Str("escalated_by", userID).
		Str("escalated_to", escalateTo).
		Msg("Approval escalated")

	s.events.Publish(ctx, EventApprovalEscalated, approvalPayload(updated))
	return updated, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// Get returns one approval.
func (s *ApprovalService) Get(ctx context.Context, id string) (*repository.Approval, error) {
	return s.approvals.GetByID(ctx, id)
}

// ListPending returns open approvals, optionally narrowed by filter.
func (s *ApprovalService) ListPending(ctx context.Context, filter repository.ApprovalFilter) ([]*repository.Approval, error) {
	if len(filter.Status) == 0 {
		filter.Status = repository.OpenApprovalStatuses
	}
	return s.approvals.List(ctx, filter)
}

// ListForApprovable returns the approvals of one owner.
func (s *ApprovalService) ListForApprovable(ctx context.Context, ref repository.ApprovableRef) ([]*repository.Approval, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return s.approvals.ListForApprovable(ctx, ref)
}

// History returns the audit trail of an approval.
func (s *ApprovalService) History(ctx context.Context, id string) ([]*repository.AuditEntry, error) {
	return s.audit.ListBySubject(ctx, repository.AuditSubjectApproval, id)
}

// Now exposes the service clock for derived-status rendering.
func (s *ApprovalService) Now() time.Time {
	return s.now()
}

// ── helpers ───────────────────────────────────────────────────────────────────

func approvalAudit(a *repository.Approval, action, by string, before *repository.ApprovalStatus, metadata map[string]interface{}) *repository.AuditEntry {
	after := string(a.Status)
	entry := &repository.AuditEntry{
		SubjectType: repository.AuditSubjectApproval,
		SubjectID:   a.ID,
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

func approvalPayload(a *repository.Approval) Payload {
	p := Payload{
		"approval_id":     a.ID,
		"approvable_type": string(a.Approvable.Type),
		"approvable_id":   a.Approvable.ID,
		"approval_type":   string(a.ApprovalType),
		"status":          string(a.Status),
		"amount":          a.Amount.String(),
		"requested_by":    a.RequestedBy,
	}
	if a.ApprovedBy != nil {
		p["approved_by"] = *a.ApprovedBy
	}
	if a.EscalatedTo != nil {
		p["escalated_to"] = *a.EscalatedTo
	}
	return p
}
