package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

// RevisionRequest proposes a mutation of a journal.
type RevisionRequest struct {
	JournalID   string
	Action      repository.RevisionAction
	Reason      string
	NewData     *repository.Journal // edit only: replacement header and lines
	RequestedBy string
}

// RevisionOutcome is the result of ProposeRevision.
type RevisionOutcome struct {
	Mode MutationMode
	// Log is nil when the change was applied directly.
	Log *repository.JournalRevisionLog
	// Applied reports whether the journal was mutated.
	Applied bool
	// Reversal is the inserted mirror journal of an applied reverse.
	Reversal *repository.Journal
}

// BulkFailure is one revision BulkApprove could not approve.
type BulkFailure struct {
	ID    string      `json:"id"`
	Code  errors.Code `json:"code"`
	Error string      `json:"error"`
}

// BulkResult collects the per-id outcome of BulkApprove.
type BulkResult struct {
	Approved []*repository.JournalRevisionLog `json:"approved"`
	Failed   []BulkFailure                    `json:"failed"`
}

// RevisionService routes journal changes inside closed periods through the
// revision log. Material changes wait for approval; the rest are applied at
// once with an auto-approved log.
type RevisionService struct {
	tx        Transactor
	revisions RevisionStore
	journals  JournalStore
	periods   *ClosingPeriodService
	audit     AuditStore
	perms     PermissionChecker
	settings  *SettingsService
	notifier  Notifier
	events    EventPublisher
	log       *logger.Logger
	now       func() time.Time
}

// NewRevisionService creates a new RevisionService. notifier and events may
// be nil.
func NewRevisionService(
	tx Transactor,
	revisions RevisionStore,
	journals JournalStore,
	periods *ClosingPeriodService,
	audit AuditStore,
	perms PermissionChecker,
	settings *SettingsService,
	notifier Notifier,
	events EventPublisher,
	log *logger.Logger,
) *RevisionService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if events == nil {
		events = nopEvents{}
	}
	return &RevisionService{
		tx:        tx,
		revisions: revisions,
		journals:  journals,
		periods:   periods,
		audit:     audit,
		perms:     perms,
		settings:  settings,
		notifier:  notifier,
		events:    events,
		log:       log,
		now:       time.Now,
	}
}

// ── Propose ──────────────────────────────────────────────────────────────────

// ProposeRevision applies, blocks or logs a journal change depending on the
// lock state of the period the journal falls in.
func (s *RevisionService) ProposeRevision(ctx context.Context, req RevisionRequest) (*RevisionOutcome, error) {
	if err := validateRevisionRequest(&req); err != nil {
		return nil, err
	}

	journal, err := s.journals.GetByID(ctx, req.JournalID)
	if err != nil {
		return nil, err
	}
	if err := checkActionApplies(journal, req.Action); err != nil {
		return nil, err
	}

	var newData *repository.Journal
	if req.Action == repository.RevisionActionEdit {
		newData = editedJournal(journal, req.NewData)
	}

	decision, err := s.guard(ctx, journal, newData)
	if err != nil {
		return nil, err
	}

	switch decision.Mode {
	case MutationBlocked:
		return nil, errors.InvalidTransition(fmt.Sprintf("closing period %s is locked", decision.Period.PeriodCode))

	case MutationDirect:
		var reversal *repository.Journal
		err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
			if err := s.periods.HoldPeriod(ctx, decision); err != nil {
				return err
			}
			var err error
			reversal, err = s.apply(ctx, req.Action, journal, newData)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.log.Info().
			Str("journal_id", journal.ID).
			Str("action", string(req.Action)).
			Msg("Journal change applied directly")
		return &RevisionOutcome{Mode: MutationDirect, Applied: true, Reversal: reversal}, nil
	}

	entry := &repository.JournalRevisionLog{
		ClosingPeriodID: decision.Period.ID,
		JournalType:     journal.JournalType,
		JournalID:       journal.ID,
		Action:          req.Action,
		Reason:          req.Reason,
		OldData:         journal,
		NewData:         newData,
		ImpactAmount:    ImpactOf(req.Action, journal, newData),
		RevisedBy:       req.RequestedBy,
		RevisedAt:       s.now(),
		ApprovalStatus:  repository.RevisionStatusPending,
	}
	if req.Action == repository.RevisionActionReverse {
		entry.NewData = journal.Reversal(journal.TransactionDate)
	}

	threshold := s.settings.MaterialThreshold(ctx)
	if !entry.NeedsApproval(threshold) {
		return s.autoApprove(ctx, decision, entry, journal, newData)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.periods.HoldPeriod(ctx, decision); err != nil {
			return err
		}
		if err := s.revisions.Create(ctx, entry); err != nil {
			return err
		}
		return s.audit.Append(ctx, revisionAudit(entry, "requested", req.RequestedBy, nil, map[string]interface{}{
			"impact_amount": entry.ImpactAmount.String(),
			"threshold":     threshold.String(),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("revision_id", entry.ID).
		Str("journal_id", journal.ID).
		Str("action", string(req.Action)).
		Str("impact", entry.ImpactAmount.String()).
		Msg("Journal revision awaiting approval")

	payload := revisionPayload(entry)
	s.events.Publish(ctx, EventRevisionRequested, payload)
	s.notifier.SendToRoles(ctx, NotifyRevisionPending, FinanceRoles, Payload{
		"title":      "Journal revision requires approval",
		"message":    fmt.Sprintf("%s of journal %s in period %s (impact %s)", req.Action, journal.JournalNumber, decision.Period.PeriodCode, entry.ImpactAmount.StringFixed(2)),
		"action_url": "/journal-revisions/" + entry.ID,
		"data":       payload,
	})

	return &RevisionOutcome{Mode: MutationRevision, Log: entry}, nil
}

func (s *RevisionService) autoApprove(ctx context.Context, decision *MutationDecision, entry *repository.JournalRevisionLog, journal, newData *repository.Journal) (*RevisionOutcome, error) {
	entry.ApprovalStatus = repository.RevisionStatusAutoApproved

	var reversal *repository.Journal
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.periods.HoldPeriod(ctx, decision); err != nil {
			return err
		}
		if err := s.revisions.Create(ctx, entry); err != nil {
			return err
		}
		var err error
		reversal, err = s.apply(ctx, entry.Action, journal, newData)
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, revisionAudit(entry, "auto_approved", entry.RevisedBy, nil, map[string]interface{}{
			"impact_amount": entry.ImpactAmount.String(),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("revision_id", entry.ID).
		Str("journal_id", journal.ID).
		Str("action", string(entry.Action)).
		Msg("Journal revision auto-approved")

	s.events.Publish(ctx, EventRevisionResolved, revisionPayload(entry))
	return &RevisionOutcome{Mode: MutationRevision, Log: entry, Applied: true, Reversal: reversal}, nil
}

// guard asks the period guard about the journal's date and, for an edit that
// moves the journal, about the new date too. The stricter answer wins.
func (s *RevisionService) guard(ctx context.Context, journal, newData *repository.Journal) (*MutationDecision, error) {
	decision, err := s.periods.GuardJournalMutation(ctx, journal.TransactionDate)
	if err != nil {
		return nil, err
	}
	if newData == nil || repository.DateOnly(newData.TransactionDate).Equal(repository.DateOnly(journal.TransactionDate)) {
		return decision, nil
	}
	target, err := s.periods.GuardJournalMutation(ctx, newData.TransactionDate)
	if err != nil {
		return nil, err
	}
	if modeRank(target.Mode) > modeRank(decision.Mode) {
		return target, nil
	}
	return decision, nil
}

func modeRank(m MutationMode) int {
	switch m {
	case MutationBlocked:
		return 2
	case MutationRevision:
		return 1
	}
	return 0
}

// ── Resolve ──────────────────────────────────────────────────────────────────

// ApproveRevision approves a pending revision and applies its mutation in the
// same transaction. A journal changed since the proposal is rejected as stale.
func (s *RevisionService) ApproveRevision(ctx context.Context, id, userID string, notes *string) (*repository.JournalRevisionLog, error) {
	if err := s.assertCanResolve(ctx, userID); err != nil {
		return nil, err
	}
	current, err := s.revisions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return nil, errors.AlreadyResolved("journal_revision", id, string(current.ApprovalStatus))
	}

	var updated *repository.JournalRevisionLog
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.revisions.Resolve(ctx, id, repository.RevisionStatusApproved, userID, notes, s.now())
		if err != nil {
			return err
		}

		journal, err := s.journals.GetByID(ctx, updated.JournalID)
		if err != nil {
			return err
		}
		if updated.OldData != nil && !journal.UpdatedAt.Equal(updated.OldData.UpdatedAt) {
			return errors.InvalidTransition(fmt.Sprintf("journal %s changed after revision %s was proposed", journal.ID, id))
		}
		if err := checkActionApplies(journal, updated.Action); err != nil {
			return err
		}

		var newData *repository.Journal
		if updated.Action == repository.RevisionActionEdit {
			newData = updated.NewData
		}
		if _, err := s.apply(ctx, updated.Action, journal, newData); err != nil {
			return err
		}
		before := repository.RevisionStatusPending
		return s.audit.Append(ctx, revisionAudit(updated, "approved", userID, &before, nil))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("revision_id", id).
		Str("approved_by", userID).
		Msg("Journal revision approved")

	s.events.Publish(ctx, EventRevisionResolved, revisionPayload(updated))
	return updated, nil
}

// RejectRevision rejects a pending revision. The journal is left untouched.
func (s *RevisionService) RejectRevision(ctx context.Context, id, userID string, notes *string) (*repository.JournalRevisionLog, error) {
	if err := s.assertCanResolve(ctx, userID); err != nil {
		return nil, err
	}
	current, err := s.revisions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return nil, errors.AlreadyResolved("journal_revision", id, string(current.ApprovalStatus))
	}

	var updated *repository.JournalRevisionLog
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.revisions.Resolve(ctx, id, repository.RevisionStatusRejected, userID, notes, s.now())
		if err != nil {
			return err
		}
		before := repository.RevisionStatusPending
		return s.audit.Append(ctx, revisionAudit(updated, "rejected", userID, &before, nil))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("revision_id", id).
		Str("rejected_by", userID).
		Msg("Journal revision rejected")

	s.events.Publish(ctx, EventRevisionResolved, revisionPayload(updated))
	return updated, nil
}

// BulkApprove approves each revision in its own transaction. Failures are
// collected and do not stop the batch.
func (s *RevisionService) BulkApprove(ctx context.Context, ids []string, userID string, notes *string) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, errors.InvalidInput("ids", "at least one revision id is required")
	}
	if err := s.assertCanResolve(ctx, userID); err != nil {
		return nil, err
	}

	result := &BulkResult{
		Approved: make([]*repository.JournalRevisionLog, 0, len(ids)),
		Failed:   []BulkFailure{},
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		l, err := s.ApproveRevision(ctx, id, userID, notes)
		if err != nil {
			result.Failed = append(result.Failed, BulkFailure{ID: id, Code: errors.CodeOf(err), Error: err.Error()})
			continue
		}
		result.Approved = append(result.Approved, l)
	}

	s.log.Info().
		Int("approved", len(result.Approved)).
		Int("failed", len(result.Failed)).
		Str("by", userID).
		Msg("Bulk revision approval finished")

	return result, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Get returns one revision log.
func (s *RevisionService) Get(ctx context.Context, id string) (*repository.JournalRevisionLog, error) {
	return s.revisions.GetByID(ctx, id)
}

// ListPending returns pending revisions of a period, or of all periods when
// periodID is empty.
func (s *RevisionService) ListPending(ctx context.Context, periodID string) ([]*repository.JournalRevisionLog, error) {
	return s.revisions.ListPending(ctx, periodID)
}

// History returns the audit trail of a revision.
func (s *RevisionService) History(ctx context.Context, id string) ([]*repository.AuditEntry, error) {
	return s.audit.ListBySubject(ctx, repository.AuditSubjectRevision, id)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *RevisionService) assertCanResolve(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.Forbidden("an actor is required to resolve revisions")
	}
	ok, err := s.perms.HasPermission(ctx, userID, PermApproveRevision)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Forbidden(fmt.Sprintf("user %s may not resolve journal revisions", userID))
	}
	return nil
}

// apply performs the journal mutation of action against the version of
// journal that was read. A concurrent writer makes it fail with
// ErrInvalidTransition.
func (s *RevisionService) apply(ctx context.Context, action repository.RevisionAction, journal, newData *repository.Journal) (*repository.Journal, error) {
	switch action {
	case repository.RevisionActionEdit:
		edit := *newData
		edit.UpdatedAt = journal.UpdatedAt
		return nil, s.journals.Replace(ctx, &edit)
	case repository.RevisionActionDelete:
		return nil, s.journals.Delete(ctx, journal)
	case repository.RevisionActionUnpost:
		return nil, s.journals.Unpost(ctx, journal)
	case repository.RevisionActionReverse:
		return s.journals.Reverse(ctx, journal, journal.TransactionDate)
	}
	return nil, errors.InvalidInput("action", "unknown revision action "+string(action))
}

// ImpactOf is the signed debit-total change a revision makes.
func ImpactOf(action repository.RevisionAction, old, updated *repository.Journal) decimal.Decimal {
	old.RecomputeTotals()
	if action == repository.RevisionActionEdit && updated != nil {
		updated.RecomputeTotals()
		return updated.TotalDebit.Sub(old.TotalDebit)
	}
	return old.TotalDebit.Neg()
}

func validateRevisionRequest(req *RevisionRequest) error {
	if req.JournalID == "" {
		return errors.InvalidInput("journal_id", "journal id is required")
	}
	if req.RequestedBy == "" {
		return errors.InvalidInput("requested_by", "requester is required")
	}
	if !req.Action.Valid() {
		return errors.InvalidInput("action", "must be one of edit, delete, unpost, reverse")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return errors.InvalidInput("reason", "revision reason is required")
	}
	if req.Action == repository.RevisionActionEdit {
		if req.NewData == nil {
			return errors.InvalidInput("new_data", "edit requires the replacement journal")
		}
		if err := req.NewData.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// checkActionApplies rejects actions the journal's status does not allow.
func checkActionApplies(j *repository.Journal, action repository.RevisionAction) error {
	switch {
	case j.Status == repository.JournalStatusDeleted:
		return errors.InvalidTransition(fmt.Sprintf("journal %s is deleted", j.ID))
	case j.Status == repository.JournalStatusReversed:
		return errors.InvalidTransition(fmt.Sprintf("journal %s is reversed", j.ID))
	case (action == repository.RevisionActionUnpost || action == repository.RevisionActionReverse) &&
		j.Status != repository.JournalStatusPosted:
		return errors.InvalidTransition(fmt.Sprintf("only posted journals can be %s", pastTense(action)))
	}
	return nil
}

func pastTense(a repository.RevisionAction) string {
	if a == repository.RevisionActionUnpost {
		return "unposted"
	}
	return "reversed"
}

// editedJournal merges the proposed header and lines onto the identity of
// the stored journal.
func editedJournal(current, proposed *repository.Journal) *repository.Journal {
	out := &repository.Journal{
		ID:              current.ID,
		JournalType:     current.JournalType,
		JournalNumber:   current.JournalNumber,
		TransactionDate: proposed.TransactionDate,
		Description:     proposed.Description,
		Status:          current.Status,
		Lines:           proposed.Lines,
	}
	if out.TransactionDate.IsZero() {
		out.TransactionDate = current.TransactionDate
	}
	if out.Description == "" {
		out.Description = current.Description
	}
	out.RecomputeTotals()
	return out
}

func revisionAudit(l *repository.JournalRevisionLog, action, by string, before *repository.RevisionStatus, metadata map[string]interface{}) *repository.AuditEntry {
	after := string(l.ApprovalStatus)
	entry := &repository.AuditEntry{
		SubjectType: repository.AuditSubjectRevision,
		SubjectID:   l.ID,
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

func revisionPayload(l *repository.JournalRevisionLog) Payload {
	p := Payload{
		"revision_id":       l.ID,
		"closing_period_id": l.ClosingPeriodID,
		"journal_id":        l.JournalID,
		"journal_type":      l.JournalType,
		"action":            string(l.Action),
		"impact_amount":     l.ImpactAmount.String(),
		"approval_status":   string(l.ApprovalStatus),
		"revised_by":        l.RevisedBy,
	}
	if l.ApprovedBy != nil {
		p["approved_by"] = *l.ApprovedBy
	}
	return p
}
