package handler

import (
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

// Request bodies. Validation tags run in HTTPHandler.decode; anything the
// tags cannot express is checked by the services.

type requestApprovalRequest struct {
	ApprovableType string          `json:"approvable_type" validate:"required,oneof=cash_transaction bank_transaction journal_posting monthly_closing"`
	ApprovableID   string          `json:"approvable_id" validate:"required"`
	ApprovalType   string          `json:"approval_type" validate:"required,oneof=transaction journal_posting monthly_closing"`
	Amount         decimal.Decimal `json:"amount"`
	Direction      string          `json:"direction" validate:"omitempty,oneof=incoming outgoing"`
	Notes          *string         `json:"notes"`
}

type notesRequest struct {
	Notes *string `json:"notes"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type escalateRequest struct {
	EscalateTo string `json:"escalate_to" validate:"required"`
}

type provisionPeriodRequest struct {
	TemplateID string `json:"template_id"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
}

type reopenPeriodRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type proposeRevisionRequest struct {
	JournalID string              `json:"journal_id" validate:"required"`
	Action    string              `json:"action" validate:"required,oneof=edit delete unpost reverse"`
	Reason    string              `json:"reason" validate:"required"`
	NewData   *repository.Journal `json:"new_data"`
}

type bulkApproveRequest struct {
	IDs   []string `json:"ids" validate:"required,min=1,dive,required"`
	Notes *string  `json:"notes"`
}

type setSettingRequest struct {
	Value       interface{} `json:"value"`
	Type        string      `json:"type" validate:"required,oneof=boolean integer decimal date string"`
	Group       string      `json:"group"`
	Description string      `json:"description"`
}

// Responses that are not a single repository record.

type provisionResponse struct {
	Period    *repository.ClosingPeriod     `json:"period"`
	Checklist []*repository.PeriodChecklist `json:"checklist"`
}

type guardResponse struct {
	Mode   string                    `json:"mode"`
	Period *repository.ClosingPeriod `json:"period,omitempty"`
}

type revisionResponse struct {
	Mode     string                         `json:"mode"`
	Applied  bool                           `json:"applied"`
	Revision *repository.JournalRevisionLog `json:"revision,omitempty"`
	Reversal *repository.Journal            `json:"reversal,omitempty"`
}

type submissionResponse struct {
	RequiresApproval bool                 `json:"requires_approval"`
	NextStatus       string               `json:"next_status"`
	Approval         *repository.Approval `json:"approval,omitempty"`
}
