package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// ── Closing periods ──────────────────────────────────────────────────────────

// PeriodStatus is the lock state of an accounting period.
type PeriodStatus string

const (
	PeriodStatusOpen      PeriodStatus = "open"
	PeriodStatusSoftClose PeriodStatus = "soft_close"
	PeriodStatusHardClose PeriodStatus = "hard_close"
)

// IsClosed reports whether direct journal mutations are blocked.
func (s PeriodStatus) IsClosed() bool {
	return s == PeriodStatusSoftClose || s == PeriodStatusHardClose
}

// PeriodType is the length of a period.
type PeriodType string

const (
	PeriodTypeMonthly   PeriodType = "monthly"
	PeriodTypeQuarterly PeriodType = "quarterly"
	PeriodTypeYearly    PeriodType = "yearly"
)

// Valid reports whether t is a known period type.
func (t PeriodType) Valid() bool {
	switch t {
	case PeriodTypeMonthly, PeriodTypeQuarterly, PeriodTypeYearly:
		return true
	}
	return false
}

// ClosingPeriod is one accounting period and its lock state.
type ClosingPeriod struct {
	ID            string       `json:"id"`
	PeriodCode    string       `json:"period_code"`
	PeriodName    string       `json:"period_name"`
	PeriodType    PeriodType   `json:"period_type"`
	PeriodStart   time.Time    `json:"period_start"`
	PeriodEnd     time.Time    `json:"period_end"`
	CutoffDate    time.Time    `json:"cutoff_date"`
	HardCloseDate *time.Time   `json:"hard_close_date,omitempty"`
	Status        PeriodStatus `json:"status"`
	TemplateID    *string      `json:"template_id,omitempty"`
	SoftClosedBy  *string      `json:"soft_closed_by,omitempty"`
	SoftClosedAt  *time.Time   `json:"soft_closed_at,omitempty"`
	HardClosedBy  *string      `json:"hard_closed_by,omitempty"`
	HardClosedAt  *time.Time   `json:"hard_closed_at,omitempty"`
	ReopenedBy    *string      `json:"reopened_by,omitempty"`
	ReopenedAt    *time.Time   `json:"reopened_at,omitempty"`
	ReopenReason  *string      `json:"reopen_reason,omitempty"`
	Notes         *string      `json:"notes,omitempty"`
	CreatedBy     string       `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IsPastCutoff reports now > cutoff_date.
func (p *ClosingPeriod) IsPastCutoff(now time.Time) bool {
	return now.After(p.CutoffDate)
}

// IsPastHardClose reports hard_close_date set and now > hard_close_date.
func (p *ClosingPeriod) IsPastHardClose(now time.Time) bool {
	return p.HardCloseDate != nil && now.After(*p.HardCloseDate)
}

// ContainsDate compares by calendar date, inclusive on both ends.
func (p *ClosingPeriod) ContainsDate(d time.Time) bool {
	day := DateOnly(d)
	return !day.Before(DateOnly(p.PeriodStart)) && !day.After(DateOnly(p.PeriodEnd))
}

// CanTransitionTo reports whether the state machine has an edge from the
// current status to next. Setting-dependent gates are checked by the service.
func (p *ClosingPeriod) CanTransitionTo(next PeriodStatus) bool {
	switch p.Status {
	case PeriodStatusOpen:
		return next == PeriodStatusSoftClose
	case PeriodStatusSoftClose:
		return next == PeriodStatusHardClose || next == PeriodStatusOpen
	case PeriodStatusHardClose:
		return next == PeriodStatusOpen
	}
	return false
}

// Validate checks the period bounds.
func (p *ClosingPeriod) Validate() error {
	if p.PeriodCode == "" {
		return errors.InvalidInput("period_code", "period code is required")
	}
	if !p.PeriodType.Valid() {
		return errors.InvalidInput("period_type", fmt.Sprintf("unknown period type %q", p.PeriodType))
	}
	if p.PeriodEnd.Before(p.PeriodStart) {
		return errors.InvalidInput("period_end", "must not be before period_start")
	}
	if p.CutoffDate.Before(p.PeriodEnd) {
		return errors.InvalidInput("cutoff_date", "must not be before period_end")
	}
	if p.HardCloseDate != nil && p.HardCloseDate.Before(p.CutoffDate) {
		return errors.InvalidInput("hard_close_date", "must not be before cutoff_date")
	}
	return nil
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PeriodFilter narrows period listings.
type PeriodFilter struct {
	Status []PeriodStatus
	Limit  int
}

// ── Checklists ───────────────────────────────────────────────────────────────

// ChecklistStage is the transition a checklist item gates.
type ChecklistStage string

const (
	ChecklistStageSoftClose ChecklistStage = "soft_close"
	ChecklistStageHardClose ChecklistStage = "hard_close"
)

// PeriodChecklist is one named item that may gate a period transition.
type PeriodChecklist struct {
	ID              string         `json:"id"`
	ClosingPeriodID string         `json:"closing_period_id"`
	ItemCode        string         `json:"item_code"`
	ItemName        string         `json:"item_name"`
	IsRequired      bool           `json:"is_required"`
	RequiredFor     ChecklistStage `json:"required_for"`
	SortOrder       int            `json:"sort_order"`
	IsCompleted     bool           `json:"is_completed"`
	CompletedBy     *string        `json:"completed_by,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Gates reports whether the item blocks a move to target. Hard close also
// requires every soft-close item.
func (c *PeriodChecklist) Gates(target PeriodStatus) bool {
	if !c.IsRequired {
		return false
	}
	switch target {
	case PeriodStatusSoftClose:
		return c.RequiredFor == ChecklistStageSoftClose
	case PeriodStatusHardClose:
		return c.RequiredFor == ChecklistStageSoftClose || c.RequiredFor == ChecklistStageHardClose
	}
	return false
}

// IncompleteRequired returns the items that still block a move to target.
func IncompleteRequired(items []*PeriodChecklist, target PeriodStatus) []*PeriodChecklist {
	var out []*PeriodChecklist
	for _, it := range items {
		if it.Gates(target) && !it.IsCompleted {
			out = append(out, it)
		}
	}
	return out
}

// ── Templates ────────────────────────────────────────────────────────────────

// TemplateChecklistItem is a checklist row copied into every provisioned
// period.
type TemplateChecklistItem struct {
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Required    bool           `json:"required"`
	RequiredFor ChecklistStage `json:"required_for"`
}

// PeriodTemplate holds provisioning defaults for new periods.
type PeriodTemplate struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	PeriodType     PeriodType              `json:"period_type"`
	CutoffDays     int                     `json:"cutoff_days"`
	HardCloseDays  *int                    `json:"hard_close_days,omitempty"`
	ChecklistItems []TemplateChecklistItem `json:"checklist_items"`
	IsDefault      bool                    `json:"is_default"`
	IsActive       bool                    `json:"is_active"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Validate rejects malformed template configuration.
func (t *PeriodTemplate) Validate() error {
	if t.Name == "" {
		return errors.InvalidInput("name", "template name is required")
	}
	if !t.PeriodType.Valid() {
		return errors.InvalidInput("period_type", fmt.Sprintf("unknown period type %q", t.PeriodType))
	}
	if t.CutoffDays < 0 {
		return errors.InvalidInput("cutoff_days", "must not be negative")
	}
	if t.HardCloseDays != nil && *t.HardCloseDays < t.CutoffDays {
		return errors.InvalidInput("hard_close_days", "must not be less than cutoff_days")
	}
	for i, it := range t.ChecklistItems {
		if it.Code == "" || it.Name == "" {
			return errors.InvalidInput(fmt.Sprintf("checklist_items[%d]", i), "code and name are required")
		}
		if it.RequiredFor != ChecklistStageSoftClose && it.RequiredFor != ChecklistStageHardClose {
			return errors.InvalidInput(fmt.Sprintf("checklist_items[%d].required_for", i), "must be soft_close or hard_close")
		}
	}
	return nil
}

// Bounds returns the first and last calendar day of the period that
// contains d.
func (t *PeriodTemplate) Bounds(d time.Time) (start, end time.Time) {
	day := DateOnly(d)
	switch t.PeriodType {
	case PeriodTypeQuarterly:
		q := (int(day.Month()) - 1) / 3
		start = time.Date(day.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 3, -1)
	case PeriodTypeYearly:
		start = time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		end = time.Date(day.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	default:
		start = time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, -1)
	}
	return start, end
}

// Build returns an unsaved period and its checklist for the period
// containing d.
func (t *PeriodTemplate) Build(d time.Time, createdBy string) (*ClosingPeriod, []*PeriodChecklist) {
	start, end := t.Bounds(d)
	p := &ClosingPeriod{
		PeriodCode:  periodCode(t.PeriodType, start),
		PeriodName:  periodName(t.PeriodType, start),
		PeriodType:  t.PeriodType,
		PeriodStart: start,
		PeriodEnd:   end,
		CutoffDate:  end.AddDate(0, 0, t.CutoffDays),
		Status:      PeriodStatusOpen,
		CreatedBy:   createdBy,
	}
	if t.ID != "" {
		id := t.ID
		p.TemplateID = &id
	}
	if t.HardCloseDays != nil {
		hc := end.AddDate(0, 0, *t.HardCloseDays)
		p.HardCloseDate = &hc
	}

	items := make([]*PeriodChecklist, 0, len(t.ChecklistItems))
	for i, it := range t.ChecklistItems {
		items = append(items, &PeriodChecklist{
			ItemCode:    it.Code,
			ItemName:    it.Name,
			IsRequired:  it.Required,
			RequiredFor: it.RequiredFor,
			SortOrder:   i + 1,
		})
	}
	return p, items
}

func periodCode(pt PeriodType, start time.Time) string {
	switch pt {
	case PeriodTypeQuarterly:
		return fmt.Sprintf("%d-Q%d", start.Year(), (int(start.Month())-1)/3+1)
	case PeriodTypeYearly:
		return fmt.Sprintf("%d", start.Year())
	}
	return start.Format("2006-01")
}

func periodName(pt PeriodType, start time.Time) string {
	switch pt {
	case PeriodTypeQuarterly:
		return fmt.Sprintf("Q%d %d", (int(start.Month())-1)/3+1, start.Year())
	case PeriodTypeYearly:
		return fmt.Sprintf("FY %d", start.Year())
	}
	return start.Format("January 2006")
}

// ── Journals ─────────────────────────────────────────────────────────────────

// JournalStatus is the posting state of a journal.
type JournalStatus string

const (
	JournalStatusDraft    JournalStatus = "draft"
	JournalStatusPosted   JournalStatus = "posted"
	JournalStatusReversed JournalStatus = "reversed"
	JournalStatusDeleted  JournalStatus = "deleted"
)

// JournalLine is one debit or credit line.
type JournalLine struct {
	ID          string          `json:"id,omitempty"`
	LineNumber  int             `json:"line_number"`
	AccountID   string          `json:"account_id"`
	Description string          `json:"description,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// Journal is the subset of a general-ledger journal that revisions touch.
type Journal struct {
	ID              string          `json:"id"`
	JournalType     string          `json:"journal_type"`
	JournalNumber   string          `json:"journal_number"`
	TransactionDate time.Time       `json:"transaction_date"`
	Description     string          `json:"description"`
	Status          JournalStatus   `json:"status"`
	ReversalOf      *string         `json:"reversal_of,omitempty"`
	ReversedBy      *string         `json:"reversed_by,omitempty"`
	Lines           []JournalLine   `json:"lines"`
	TotalDebit      decimal.Decimal `json:"total_debit"`
	TotalCredit     decimal.Decimal `json:"total_credit"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RecomputeTotals sums the lines into TotalDebit and TotalCredit.
func (j *Journal) RecomputeTotals() {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range j.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	j.TotalDebit = debit
	j.TotalCredit = credit
}

// IsBalanced reports debit total == credit total over the lines.
func (j *Journal) IsBalanced() bool {
	j.RecomputeTotals()
	return j.TotalDebit.Equal(j.TotalCredit)
}

// Validate rejects empty, negative or unbalanced journals.
func (j *Journal) Validate() error {
	if len(j.Lines) == 0 {
		return errors.InvalidInput("lines", "journal must have at least one line")
	}
	for i, l := range j.Lines {
		if l.AccountID == "" {
			return errors.InvalidInput(fmt.Sprintf("lines[%d].account_id", i), "account is required")
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return errors.InvalidInput(fmt.Sprintf("lines[%d]", i), "amounts must not be negative")
		}
		if !l.Debit.IsZero() && !l.Credit.IsZero() {
			return errors.InvalidInput(fmt.Sprintf("lines[%d]", i), "a line is either debit or credit")
		}
	}
	if !j.IsBalanced() {
		return errors.Unbalanced(fmt.Sprintf("debit %s does not equal credit %s",
			j.TotalDebit.StringFixed(2), j.TotalCredit.StringFixed(2)))
	}
	return nil
}

// Reversal builds the mirror journal of j with debit and credit swapped.
func (j *Journal) Reversal(date time.Time) *Journal {
	rev := &Journal{
		JournalType:     j.JournalType,
		JournalNumber:   j.JournalNumber + "-REV",
		TransactionDate: date,
		Description:     "Reversal of " + j.JournalNumber,
		Status:          JournalStatusPosted,
		Lines:           make([]JournalLine, 0, len(j.Lines)),
	}
	id := j.ID
	rev.ReversalOf = &id
	for i, l := range j.Lines {
		rev.Lines = append(rev.Lines, JournalLine{
			LineNumber:  i + 1,
			AccountID:   l.AccountID,
			Description: l.Description,
			Debit:       l.Credit,
			Credit:      l.Debit,
		})
	}
	rev.RecomputeTotals()
	return rev
}

// ── Revisions ────────────────────────────────────────────────────────────────

// RevisionAction is the mutation proposed against a journal.
type RevisionAction string

const (
	RevisionActionEdit    RevisionAction = "edit"
	RevisionActionDelete  RevisionAction = "delete"
	RevisionActionUnpost  RevisionAction = "unpost"
	RevisionActionReverse RevisionAction = "reverse"
)

// Valid reports whether a is a known action.
func (a RevisionAction) Valid() bool {
	switch a {
	case RevisionActionEdit, RevisionActionDelete, RevisionActionUnpost, RevisionActionReverse:
		return true
	}
	return false
}

// RevisionStatus is the approval state of a revision log.
type RevisionStatus string

const (
	RevisionStatusPending      RevisionStatus = "pending"
	RevisionStatusApproved     RevisionStatus = "approved"
	RevisionStatusRejected     RevisionStatus = "rejected"
	RevisionStatusAutoApproved RevisionStatus = "auto_approved"
)

// JournalRevisionLog records a proposed mutation of a journal dated inside a
// closed period.
type JournalRevisionLog struct {
	ID              string          `json:"id"`
	ClosingPeriodID string          `json:"closing_period_id"`
	JournalType     string          `json:"journal_type"`
	JournalID       string          `json:"journal_id"`
	Action          RevisionAction  `json:"action"`
	Reason          string          `json:"reason"`
	OldData         *Journal        `json:"old_data,omitempty"`
	NewData         *Journal        `json:"new_data,omitempty"`
	ImpactAmount    decimal.Decimal `json:"impact_amount"`
	RevisedBy       string          `json:"revised_by"`
	RevisedAt       time.Time       `json:"revised_at"`
	ApprovalStatus  RevisionStatus  `json:"approval_status"`
	ApprovedBy      *string         `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	ApprovalNotes   *string         `json:"approval_notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NeedsApproval is |impact_amount| >= threshold.
func (l *JournalRevisionLog) NeedsApproval(threshold decimal.Decimal) bool {
	return l.ImpactAmount.Abs().GreaterThanOrEqual(threshold)
}

// IsPending reports whether the revision still awaits a decision.
func (l *JournalRevisionLog) IsPending() bool {
	return l.ApprovalStatus == RevisionStatusPending
}

// ── Settings ─────────────────────────────────────────────────────────────────

// SettingType drives coercion of the stored string value.
type SettingType string

const (
	SettingTypeBoolean SettingType = "boolean"
	SettingTypeInteger SettingType = "integer"
	SettingTypeDecimal SettingType = "decimal"
	SettingTypeDate    SettingType = "date"
	SettingTypeString  SettingType = "string"
)

// ClosingPeriodSetting is one typed key/value row.
type ClosingPeriodSetting struct {
	Key         string      `json:"key"`
	Value       string      `json:"value"`
	Type        SettingType `json:"type"`
	Description string      `json:"description,omitempty"`
	Group       string      `json:"group"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
