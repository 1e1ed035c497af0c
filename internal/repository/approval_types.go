package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// ── Approvable kinds ─────────────────────────────────────────────────────────

// EntityType is the discriminator of an approvable business entity. It is
// also the rule-matching key.
type EntityType string

const (
	EntityCashTransaction EntityType = "cash_transaction"
	EntityBankTransaction EntityType = "bank_transaction"
	EntityJournalPosting  EntityType = "journal_posting"
	EntityMonthlyClosing  EntityType = "monthly_closing"
)

// approvableKinds is the lookup table of entity kinds that may own approvals,
// keyed by discriminator, with the table holding the owning rows.
var approvableKinds = map[EntityType]string{
	EntityCashTransaction: "cash_transactions",
	EntityBankTransaction: "bank_transactions",
	EntityJournalPosting:  "journals",
	EntityMonthlyClosing:  "closing_periods",
}

// Valid reports whether t is a registered approvable kind.
func (t EntityType) Valid() bool {
	_, ok := approvableKinds[t]
	return ok
}

// Table returns the table that stores entities of this kind.
func (t EntityType) Table() string {
	return approvableKinds[t]
}

// ApprovalType names the kind of sign-off being requested.
type ApprovalType string

const (
	ApprovalTypeTransaction    ApprovalType = "transaction"
	ApprovalTypeJournalPosting ApprovalType = "journal_posting"
	ApprovalTypeMonthlyClosing ApprovalType = "monthly_closing"
)

// Direction of a money movement. Empty means not applicable.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ApprovableRef is the tagged reference from an approval to its owner.
type ApprovableRef struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// Validate checks the discriminator against the registered kinds.
func (r ApprovableRef) Validate() error {
	if !r.Type.Valid() {
		return errors.InvalidInput("approvable_type", fmt.Sprintf("unknown approvable type %q", r.Type))
	}
	if r.ID == "" {
		return errors.InvalidInput("approvable_id", "approvable id is required")
	}
	return nil
}

func (r ApprovableRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// ── Rules ────────────────────────────────────────────────────────────────────

// ConditionOnlyOutgoing restricts a rule to outgoing movements.
const ConditionOnlyOutgoing = "only_outgoing"

// ApprovalRule decides which entity/amount combinations require sign-off.
type ApprovalRule struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	EntityType          EntityType             `json:"entity_type"`
	ApprovalType        ApprovalType           `json:"approval_type"`
	MinAmount           *decimal.Decimal       `json:"min_amount,omitempty"` // nil = no lower bound
	MaxAmount           *decimal.Decimal       `json:"max_amount,omitempty"` // nil = no upper bound
	ApprovalLevels      int                    `json:"approval_levels"`
	ApproverRoles       []string               `json:"approver_roles"`
	EscalationHours     int                    `json:"escalation_hours"`
	AutoApproveWeekends bool                   `json:"auto_approve_weekends"`
	IsActive            bool                   `json:"is_active"`
	Conditions          map[string]interface{} `json:"conditions,omitempty"`
	Priority            int                    `json:"priority"` // lower = evaluated first
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// AppliesToAmount reports whether amount falls inside the rule's inclusive
// range.
func (r *ApprovalRule) AppliesToAmount(amount decimal.Decimal) bool {
	if r.MinAmount != nil && amount.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && amount.GreaterThan(*r.MaxAmount) {
		return false
	}
	return true
}

// RequiresApproval is false for inactive rules and out-of-range amounts.
func (r *ApprovalRule) RequiresApproval(amount decimal.Decimal) bool {
	return r.IsActive && r.AppliesToAmount(amount)
}

// EscalationDeadline returns now + escalation_hours.
func (r *ApprovalRule) EscalationDeadline(now time.Time) time.Time {
	return now.Add(time.Duration(r.EscalationHours) * time.Hour)
}

// OnlyOutgoing reads the only_outgoing condition flag.
func (r *ApprovalRule) OnlyOutgoing() bool {
	v, ok := r.Conditions[ConditionOnlyOutgoing]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// MatchesDirection filters incoming movements out of only_outgoing rules.
// An unknown direction always matches.
func (r *ApprovalRule) MatchesDirection(dir Direction) bool {
	if dir == DirectionIncoming && r.OnlyOutgoing() {
		return false
	}
	return true
}

// Validate rejects malformed rule configuration.
func (r *ApprovalRule) Validate() error {
	if !r.EntityType.Valid() {
		return errors.InvalidInput("entity_type", fmt.Sprintf("unknown entity type %q", r.EntityType))
	}
	if r.ApprovalType == "" {
		return errors.InvalidInput("approval_type", "approval type is required")
	}
	if r.MinAmount != nil && r.MinAmount.IsNegative() {
		return errors.InvalidInput("min_amount", "must not be negative")
	}
	if r.MaxAmount != nil && r.MaxAmount.IsNegative() {
		return errors.InvalidInput("max_amount", "must not be negative")
	}
	if r.MinAmount != nil && r.MaxAmount != nil && r.MinAmount.GreaterThan(*r.MaxAmount) {
		return errors.InvalidInput("min_amount", "must not exceed max_amount")
	}
	if r.ApprovalLevels < 1 {
		return errors.InvalidInput("approval_levels", "must be at least 1")
	}
	if r.EscalationHours < 0 {
		return errors.InvalidInput("escalation_hours", "must not be negative")
	}
	return nil
}

// ── Approvals ────────────────────────────────────────────────────────────────

// ApprovalStatus is the lifecycle state of an approval.
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusEscalated ApprovalStatus = "escalated"
	// ApprovalStatusExpired is derived on read and never stored.
	ApprovalStatusExpired ApprovalStatus = "expired"
)

// OpenApprovalStatuses are the stored statuses an approval can still move from.
var OpenApprovalStatuses = []ApprovalStatus{ApprovalStatusPending, ApprovalStatusEscalated}

// IsTerminal reports whether no further transition is allowed.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected
}

// Approval is one pending-or-resolved sign-off request.
type Approval struct {
	ID               string          `json:"id"`
	Approvable       ApprovableRef   `json:"approvable"`
	ApprovalType     ApprovalType    `json:"approval_type"`
	RuleID           *string         `json:"rule_id,omitempty"`
	Status           ApprovalStatus  `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	ApprovalLevel    int             `json:"approval_level"`
	RequiresApproval bool            `json:"requires_approval"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	RequestedBy      string          `json:"requested_by"`
	ApprovedBy       *string         `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	RejectedAt       *time.Time      `json:"rejected_at,omitempty"`
	RequestNotes     *string         `json:"request_notes,omitempty"`
	ApprovalNotes    *string         `json:"approval_notes,omitempty"`
	RejectionReason  *string         `json:"rejection_reason,omitempty"`
	EscalatedTo      *string         `json:"escalated_to,omitempty"`
	EscalatedAt      *time.Time      `json:"escalated_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsPending is true while the approval can still be resolved. Escalated
// approvals stay pending operationally.
func (a *Approval) IsPending() bool {
	return a.Status == ApprovalStatusPending || a.Status == ApprovalStatusEscalated
}

// IsExpired is advisory: expires_at has passed and the approval is still open.
func (a *Approval) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now) && a.IsPending()
}

// EffectiveStatus reports expired for stale open approvals.
func (a *Approval) EffectiveStatus(now time.Time) ApprovalStatus {
	if a.IsExpired(now) {
		return ApprovalStatusExpired
	}
	return a.Status
}

// ApprovalFilter narrows approval listings.
type ApprovalFilter struct {
	Status        []ApprovalStatus
	ApprovalType  *ApprovalType
	ExpiresBefore *time.Time
	Limit         int
}

// ── Audit ────────────────────────────────────────────────────────────────────

// Audit subjects.
const (
	AuditSubjectApproval = "approval"
	AuditSubjectPeriod   = "closing_period"
	AuditSubjectRevision = "journal_revision"
)

// AuditEntry is one immutable record in the audit log.
type AuditEntry struct {
	ID           string                 `json:"id"`
	SubjectType  string                 `json:"subject_type"`
	SubjectID    string                 `json:"subject_id"`
	Action       string                 `json:"action"`
	PerformedBy  string                 `json:"performed_by"`
	PerformedAt  time.Time              `json:"performed_at"`
	StatusBefore *string                `json:"status_before,omitempty"`
	StatusAfter  *string                `json:"status_after,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}
