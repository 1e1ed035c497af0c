package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-gl-closing/internal/client"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
	"github.com/pesio-ai/be-gl-closing/internal/service"
)

// ClosingServiceServer is the server side of closing.v1.ClosingService.
type ClosingServiceServer interface {
	RequestApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EscalateApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingApprovals(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProvisionPeriod(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPeriod(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SoftClosePeriod(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HardClosePeriod(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReopenPeriod(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GuardJournalMutation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProposeRevision(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveRevision(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectRevision(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingRevisions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSetting(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSetting(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(ClosingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ClosingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + client.ClosingServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ClosingServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ClosingServiceDesc describes closing.v1.ClosingService for grpc.Server.
var ClosingServiceDesc = grpc.ServiceDesc{
	ServiceName: client.ClosingServiceName,
	HandlerType: (*ClosingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("RequestApproval", ClosingServiceServer.RequestApproval),
		unaryMethod("GetApproval", ClosingServiceServer.GetApproval),
		unaryMethod("ApproveApproval", ClosingServiceServer.ApproveApproval),
		unaryMethod("RejectApproval", ClosingServiceServer.RejectApproval),
		unaryMethod("EscalateApproval", ClosingServiceServer.EscalateApproval),
		unaryMethod("ListPendingApprovals", ClosingServiceServer.ListPendingApprovals),
		unaryMethod("ProvisionPeriod", ClosingServiceServer.ProvisionPeriod),
		unaryMethod("GetPeriod", ClosingServiceServer.GetPeriod),
		unaryMethod("SoftClosePeriod", ClosingServiceServer.SoftClosePeriod),
		unaryMethod("HardClosePeriod", ClosingServiceServer.HardClosePeriod),
		unaryMethod("ReopenPeriod", ClosingServiceServer.ReopenPeriod),
		unaryMethod("GuardJournalMutation", ClosingServiceServer.GuardJournalMutation),
		unaryMethod("ProposeRevision", ClosingServiceServer.ProposeRevision),
		unaryMethod("ApproveRevision", ClosingServiceServer.ApproveRevision),
		unaryMethod("RejectRevision", ClosingServiceServer.RejectRevision),
		unaryMethod("ListPendingRevisions", ClosingServiceServer.ListPendingRevisions),
		unaryMethod("GetSetting", ClosingServiceServer.GetSetting),
		unaryMethod("SetSetting", ClosingServiceServer.SetSetting),
	},
	Metadata: "closing/v1/closing.proto",
}

// GRPCHandler implements the ClosingService gRPC interface
type GRPCHandler struct {
	svc      Services
	validate *validator.Validate
	logger   *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc Services, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		svc:      svc,
		validate: newValidator(),
		logger:   log.Component("grpc"),
	}
}

// Register mounts the handler on s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&ClosingServiceDesc, h)
}

type idRequest struct {
	ID    string  `json:"id" validate:"required"`
	Notes *string `json:"notes"`
}

type idReasonRequest struct {
	ID     string `json:"id" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

type idEscalateRequest struct {
	ID         string `json:"id" validate:"required"`
	EscalateTo string `json:"escalate_to" validate:"required"`
}

type guardRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

type pendingApprovalsRequest struct {
	ApprovalType string `json:"approval_type"`
	Limit        int    `json:"limit"`
}

type pendingRevisionsRequest struct {
	PeriodID string `json:"period_id"`
}

type settingKeyRequest struct {
	Key string `json:"key" validate:"required"`
}

type setSettingGRPCRequest struct {
	Key string `json:"key" validate:"required"`
	setSettingRequest
}

// actor returns the acting user or an Unauthenticated status.
func actor(ctx context.Context) (string, error) {
	uid := client.UserID(ctx)
	if uid == "" {
		return "", status.Error(codes.Unauthenticated, "missing "+client.UserIDMetadataKey+" metadata")
	}
	return uid, nil
}

func (h *GRPCHandler) bind(in *structpb.Struct, dst interface{}) error {
	if err := client.FromStruct(in, dst); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := h.validate.Struct(dst); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func (h *GRPCHandler) reply(method string, v interface{}, err error) (*structpb.Struct, error) {
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeInternal {
			h.logger.Error().Err(err).Str("method", method).Msg("gRPC call failed")
		}
		return nil, mapErrorToGRPC(err)
	}
	out, err := client.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ── Approvals ────────────────────────────────────────────────────────────────

// RequestApproval submits an approvable for sign-off.
func (h *GRPCHandler) RequestApproval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req requestApprovalRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}

	h.logger.Info().
		Str("approvable_type", req.ApprovableType).
		Str("approvable_id", req.ApprovableID).
		Msg("gRPC RequestApproval called")

	ref := repository.ApprovableRef{Type: repository.EntityType(req.ApprovableType), ID: req.ApprovableID}
	entity, err := service.ApprovableFor(ref, req.Amount, repository.Direction(req.Direction))
	if err != nil {
		return h.reply("RequestApproval", nil, err)
	}
	sub, err := h.svc.Approvables.SubmitForApproval(ctx, entity, uid, repository.ApprovalType(req.ApprovalType), req.Notes)
	if err != nil {
		return h.reply("RequestApproval", nil, err)
	}
	return h.reply("RequestApproval", submissionResponse{
		RequiresApproval: sub.RequiresApproval,
		NextStatus:       sub.NextStatus,
		Approval:         sub.Approval,
	}, nil)
}

// GetApproval returns one approval.
func (h *GRPCHandler) GetApproval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	a, err := h.svc.Approvals.Get(ctx, req.ID)
	return h.reply("GetApproval", a, err)
}

// ApproveApproval approves an open approval.
func (h *GRPCHandler) ApproveApproval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req idRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	a, err := h.svc.Approvals.Approve(ctx, req.ID, uid, req.Notes)
	return h.reply("ApproveApproval", a, err)
}

// RejectApproval rejects an open approval.
func (h *GRPCHandler) RejectApproval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req idReasonRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	a, err := h.svc.Approvals.Reject(ctx, req.ID, uid, req.Reason)
	return h.reply("RejectApproval", a, err)
}

// EscalateApproval hands an open approval to another approver.
func (h *GRPCHandler) EscalateApproval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req idEscalateRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	a, err := h.svc.Approvals.Escalate(ctx, req.ID, uid, req.EscalateTo)
	return h.reply("EscalateApproval", a, err)
}

// ListPendingApprovals lists open approvals.
func (h *GRPCHandler) ListPendingApprovals(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pendingApprovalsRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	filter := repository.ApprovalFilter{Limit: req.Limit}
	if req.ApprovalType != "" {
		at := repository.ApprovalType(req.ApprovalType)
		filter.ApprovalType = &at
	}
	approvals, err := h.svc.Approvals.ListPending(ctx, filter)
	return h.reply("ListPendingApprovals", map[string]interface{}{"approvals": approvals}, err)
}

// ── Periods ──────────────────────────────────────────────────────────────────

// ProvisionPeriod creates the period containing date from a template.
func (h *GRPCHandler) ProvisionPeriod(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req provisionPeriodRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return h.reply("ProvisionPeriod", nil, err)
	}
	period, items, err := h.svc.Periods.ProvisionPeriod(ctx, req.TemplateID, date, uid)
	return h.reply("ProvisionPeriod", provisionResponse{Period: period, Checklist: items}, err)
}

// GetPeriod returns one period.
func (h *GRPCHandler) GetPeriod(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	p, err := h.svc.Periods.Get(ctx, req.ID)
	return h.reply("GetPeriod", p, err)
}

// SoftClosePeriod moves an open period to soft_close.
func (h *GRPCHandler) SoftClosePeriod(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req idRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	p, err := h.svc.Periods.SoftClose(ctx, req.ID, uid)
	return h.reply("SoftClosePeriod", p, err)
}

// HardClosePeriod moves a soft-closed period to hard_close.
func (h *GRPCHandler) HardClosePeriod(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req idRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	p, err := h.svc.Periods.HardClose(ctx, req.ID, uid)
	return h.reply("HardClosePeriod", p, err)
}

// ReopenPeriod moves a closed period back to open.
func (h *GRPCHandler) ReopenPeriod(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req idReasonRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	p, err := h.svc.Periods.Reopen(ctx, req.ID, uid, req.Reason)
	return h.reply("ReopenPeriod", p, err)
}

// GuardJournalMutation tells a posting service how to change a journal.
func (h *GRPCHandler) GuardJournalMutation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req guardRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return h.reply("GuardJournalMutation", nil, err)
	}
	d, err := h.svc.Periods.GuardJournalMutation(ctx, date)
	if err != nil {
		return h.reply("GuardJournalMutation", nil, err)
	}
	return h.reply("GuardJournalMutation", guardResponse{Mode: string(d.Mode), Period: d.Period}, nil)
}

// ── Revisions ────────────────────────────────────────────────────────────────

// ProposeRevision proposes a change to a journal.
func (h *GRPCHandler) ProposeRevision(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req proposeRevisionRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	out, err := h.svc.Revisions.ProposeRevision(ctx, service.RevisionRequest{
		JournalID:   req.JournalID,
		Action:      repository.RevisionAction(req.Action),
		Reason:      req.Reason,
		NewData:     req.NewData,
		RequestedBy: uid,
	})
	if err != nil {
		return h.reply("ProposeRevision", nil, err)
	}
	return h.reply("ProposeRevision", revisionResponse{
		Mode:     string(out.Mode),
		Applied:  out.Applied,
		Revision: out.Log,
		Reversal: out.Reversal,
	}, nil)
}

// ApproveRevision approves a pending revision.
func (h *GRPCHandler) ApproveRevision(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req idRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	rev, err := h.svc.Revisions.ApproveRevision(ctx, req.ID, uid, req.Notes)
	return h.reply("ApproveRevision", rev, err)
}

// RejectRevision rejects a pending revision.
func (h *GRPCHandler) RejectRevision(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req idRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	rev, err := h.svc.Revisions.RejectRevision(ctx, req.ID, uid, req.Notes)
	return h.reply("RejectRevision", rev, err)
}

// ListPendingRevisions lists revisions awaiting a decision.
func (h *GRPCHandler) ListPendingRevisions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pendingRevisionsRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	revs, err := h.svc.Revisions.ListPending(ctx, req.PeriodID)
	return h.reply("ListPendingRevisions", map[string]interface{}{"revisions": revs}, err)
}

// ── Settings ─────────────────────────────────────────────────────────────────

// GetSetting returns one setting row.
func (h *GRPCHandler) GetSetting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req settingKeyRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	s, err := h.svc.Settings.Lookup(ctx, req.Key)
	if err == nil && s == nil {
		err = errors.NotFound("setting", req.Key)
	}
	return h.reply("GetSetting", s, err)
}

// SetSetting writes one setting.
func (h *GRPCHandler) SetSetting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req setSettingGRPCRequest
	if err := h.bind(in, &req); err != nil {
		return nil, err
	}
	if err := service.RequirePermission(ctx, h.svc.Permissions, uid, service.PermManageConfiguration); err != nil {
		return h.reply("SetSetting", nil, err)
	}
	s, err := h.svc.Settings.Set(ctx, req.Key, req.Value, repository.SettingType(req.Type), req.Group, req.Description)
	return h.reply("SetSetting", s, err)
}

// mapErrorToGRPC maps application errors to gRPC status codes
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	msg := err.Error()
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInvalidInput, errors.ErrCodeUnbalanced:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeConflict:
		if errors.Is(err, errors.ErrAlreadyResolved) || errors.Is(err, errors.ErrInvalidTransition) {
			return status.Error(codes.FailedPrecondition, msg)
		}
		return status.Error(codes.AlreadyExists, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
