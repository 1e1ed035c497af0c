package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

// Approvable is implemented by any business entity that can require
// sign-off. The reference carries the rule-matching entity type.
type Approvable interface {
	ApprovalRef() repository.ApprovableRef
	ApprovalAmount() decimal.Decimal
}

// Directional is implemented by approvables that move money in or out.
type Directional interface {
	ApprovalDirection() repository.Direction
}

func criteriaFor(entity Approvable, approvalType repository.ApprovalType) RuleCriteria {
	c := RuleCriteria{
		EntityType:   entity.ApprovalRef().Type,
		ApprovalType: approvalType,
		Amount:       entity.ApprovalAmount(),
	}
	if d, ok := entity.(Directional); ok {
		c.Direction = d.ApprovalDirection()
	}
	return c
}

// CashTransaction is a cash movement awaiting a decision.
type CashTransaction struct {
	ID        string
	Amount    decimal.Decimal
	Direction repository.Direction
}

func (t CashTransaction) ApprovalRef() repository.ApprovableRef {
	return repository.ApprovableRef{Type: repository.EntityCashTransaction, ID: t.ID}
}
func (t CashTransaction) ApprovalAmount() decimal.Decimal { return t.Amount.Abs() }
func (t CashTransaction) ApprovalDirection() repository.Direction { return t.Direction }

// BankTransaction is a bank movement awaiting a decision.
type BankTransaction struct {
	ID        string
	Amount    decimal.Decimal
	Direction repository.Direction
}

func (t BankTransaction) ApprovalRef() repository.ApprovableRef {
	return repository.ApprovableRef{Type: repository.EntityBankTransaction, ID: t.ID}
}
func (t BankTransaction) ApprovalAmount() decimal.Decimal { return t.Amount.Abs() }
func (t BankTransaction) ApprovalDirection() repository.Direction { return t.Direction }

// JournalPosting is a journal about to be posted. Amount is the debit total.
type JournalPosting struct {
	ID     string
	Amount decimal.Decimal
}

func (p JournalPosting) ApprovalRef() repository.ApprovableRef {
	return repository.ApprovableRef{Type: repository.EntityJournalPosting, ID: p.ID}
}
func (p JournalPosting) ApprovalAmount() decimal.Decimal { return p.Amount }

// MonthlyClosing is the sign-off of a whole period.
type MonthlyClosing struct {
	PeriodID string
	Amount   decimal.Decimal
}

func (m MonthlyClosing) ApprovalRef() repository.ApprovableRef {
	return repository.ApprovableRef{Type: repository.EntityMonthlyClosing, ID: m.PeriodID}
}
func (m MonthlyClosing) ApprovalAmount() decimal.Decimal { return m.Amount }

// ApprovableFor builds the adapter for a reference coming off the wire.
func ApprovableFor(ref repository.ApprovableRef, amount decimal.Decimal, dir repository.Direction) (Approvable, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	switch ref.Type {
	case repository.EntityCashTransaction:
		return CashTransaction{ID: ref.ID, Amount: amount, Direction: dir}, nil
	case repository.EntityBankTransaction:
		return BankTransaction{ID: ref.ID, Amount: amount, Direction: dir}, nil
	case repository.EntityJournalPosting:
		return JournalPosting{ID: ref.ID, Amount: amount}, nil
	default:
		return MonthlyClosing{PeriodID: ref.ID, Amount: amount}, nil
	}
}

// Submission tells the caller what happened to its approval request. The
// core never changes the caller's own status field.
type Submission struct {
	Approval         *repository.Approval
	RequiresApproval bool
	// NextStatus is the status the caller should move its entity to.
	NextStatus string
}

// Caller status hints.
const (
	CallerStatusPendingApproval = "pending_approval"
	CallerStatusReady           = "ready"
)

// ApprovableService gives every approvable entity the same approval
// behaviour on top of the rule engine and the approval state machine.
type ApprovableService struct {
	rules     *RuleEngine
	approvals *ApprovalService
	settings  *SettingsService
	log       *logger.Logger
}

// NewApprovableService creates a new ApprovableService.
func NewApprovableService(rules *RuleEngine, approvals *ApprovalService, settings *SettingsService, log *logger.Logger) *ApprovableService {
	return &ApprovableService{rules: rules, approvals: approvals, settings: settings, log: log}
}

// RequiresApproval reports whether entity needs sign-off. Always false while
// the module is disabled.
func (s *ApprovableService) RequiresApproval(ctx context.Context, entity Approvable, approvalType repository.ApprovalType) (bool, error) {
	if !s.settings.IsModuleEnabled(ctx) {
		return false, nil
	}
	if err := entity.ApprovalRef().Validate(); err != nil {
		return false, err
	}
	return s.rules.RequiresApproval(ctx, criteriaFor(entity, approvalType))
}

// SubmitForApproval requests sign-off when a rule applies.
func (s *ApprovableService) SubmitForApproval(
	ctx context.Context,
	entity Approvable,
	requestedBy string,
	approvalType repository.ApprovalType,
	notes *string,
) (*Submission, error) {
	if !s.settings.IsModuleEnabled(ctx) {
		return &Submission{NextStatus: CallerStatusReady}, nil
	}

	approval, err := s.approvals.RequestApproval(ctx, entity, requestedBy, approvalType, notes)
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return &Submission{NextStatus: CallerStatusReady}, nil
	}
	return &Submission{
		Approval:         approval,
		RequiresApproval: true,
		NextStatus:       CallerStatusPendingApproval,
	}, nil
}

// ApprovalsFor returns the approvals owned by entity, newest first.
func (s *ApprovableService) ApprovalsFor(ctx context.Context, entity Approvable) ([]*repository.Approval, error) {
	return s.approvals.ListForApprovable(ctx, entity.ApprovalRef())
}

// IsCleared reports whether entity may move past guarded statuses: either
// no approval is required, or its latest approval of approvalType was
// approved.
func (s *ApprovableService) IsCleared(ctx context.Context, entity Approvable, approvalType repository.ApprovalType) (bool, error) {
	required, err := s.RequiresApproval(ctx, entity, approvalType)
	if err != nil {
		return false, err
	}
	if !required {
		return true, nil
	}

	approvals, err := s.ApprovalsFor(ctx, entity)
	if err != nil {
		return false, err
	}
	for _, a := range approvals {
		if a.ApprovalType == approvalType {
			return a.Status == repository.ApprovalStatusApproved, nil
		}
	}
	return false, nil
}
