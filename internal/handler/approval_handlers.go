package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-gl-closing/internal/repository"
	"github.com/pesio-ai/be-gl-closing/internal/service"
)

// RequestApproval submits an approvable for sign-off. The response tells the
// caller which status to move its record to.
func (h *HTTPHandler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	var req requestApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}

	ref := repository.ApprovableRef{Type: repository.EntityType(req.ApprovableType), ID: req.ApprovableID}
	entity, err := service.ApprovableFor(ref, req.Amount, repository.Direction(req.Direction))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sub, err := h.svc.Approvables.SubmitForApproval(r.Context(), entity, userID(r), repository.ApprovalType(req.ApprovalType), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if sub.Approval != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, submissionResponse{
		RequiresApproval: sub.RequiresApproval,
		NextStatus:       sub.NextStatus,
		Approval:         sub.Approval,
	})
}

// GetApproval returns one approval.
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Approvals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListPendingApprovals lists open approvals. Supports approval_type,
// expires_before (YYYY-MM-DD) and limit.
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ApprovalFilter{Limit: queryLimit(r)}
	if t := q.Get("approval_type"); t != "" {
		at := repository.ApprovalType(t)
		filter.ApprovalType = &at
	}
	if raw := q.Get("expires_before"); raw != "" {
		d, err := parseDate("expires_before", raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.ExpiresBefore = &d
	}

	approvals, err := h.svc.Approvals.ListPending(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": approvals,
		"total":     len(approvals),
	})
}

// ApprovalsForApprovable lists every approval owned by one record.
func (h *HTTPHandler) ApprovalsForApprovable(w http.ResponseWriter, r *http.Request) {
	ref := repository.ApprovableRef{
		Type: repository.EntityType(chi.URLParam(r, "type")),
		ID:   chi.URLParam(r, "id"),
	}
	if err := ref.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	approvals, err := h.svc.Approvals.ListForApprovable(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": approvals})
}

// ApprovalHistory returns the audit trail of one approval.
func (h *HTTPHandler) ApprovalHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Approvals.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// ApproveApproval approves an open approval.
func (h *HTTPHandler) ApproveApproval(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	a, err := h.svc.Approvals.Approve(r.Context(), chi.URLParam(r, "id"), userID(r), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RejectApproval rejects an open approval. A reason is required.
func (h *HTTPHandler) RejectApproval(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.Approvals.Reject(r.Context(), chi.URLParam(r, "id"), userID(r), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// EscalateApproval hands an open approval to another approver.
func (h *HTTPHandler) EscalateApproval(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.Approvals.Escalate(r.Context(), chi.URLParam(r, "id"), userID(r), req.EscalateTo)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ── Rules ────────────────────────────────────────────────────────────────────

// ListRules lists approval rules. active=true narrows to active ones.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.Rules.ListRules(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// GetRule returns one approval rule.
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.Rules.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule stores a new approval rule.
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule repository.ApprovalRule
	if !h.decode(w, r, &rule) {
		return
	}
	rule.ID = ""
	if err := h.svc.Rules.CreateRule(r.Context(), &rule); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &rule)
}

// UpdateRule replaces an approval rule.
func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule repository.ApprovalRule
	if !h.decode(w, r, &rule) {
		return
	}
	rule.ID = chi.URLParam(r, "id")
	if err := h.svc.Rules.UpdateRule(r.Context(), &rule); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &rule)
}

// DeactivateRule switches a rule off. Rules are never hard-deleted.
func (h *HTTPHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Rules.DeactivateRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
