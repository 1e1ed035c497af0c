package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
	"github.com/pesio-ai/be-gl-closing/internal/service"
)

// ── Templates ────────────────────────────────────────────────────────────────

// ListTemplates lists period templates.
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.svc.Periods.ListTemplates(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": templates})
}

// CreateTemplate stores a period template.
func (h *HTTPHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t repository.PeriodTemplate
	if !h.decode(w, r, &t) {
		return
	}
	t.ID = ""
	if err := h.svc.Periods.CreateTemplate(r.Context(), &t); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &t)
}

// ── Periods ──────────────────────────────────────────────────────────────────

// ListPeriods lists closing periods. status takes a comma separated list.
func (h *HTTPHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	filter := repository.PeriodFilter{Limit: queryLimit(r)}
	for _, s := range splitList(r.URL.Query().Get("status")) {
		filter.Status = append(filter.Status, repository.PeriodStatus(s))
	}
	periods, err := h.svc.Periods.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"periods": periods})
}

// ProvisionPeriod creates the period containing date from a template.
func (h *HTTPHandler) ProvisionPeriod(w http.ResponseWriter, r *http.Request) {
	var req provisionPeriodRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	period, items, err := h.svc.Periods.ProvisionPeriod(r.Context(), req.TemplateID, date, userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, provisionResponse{Period: period, Checklist: items})
}

// GetPeriod returns one period.
func (h *HTTPHandler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Periods.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PeriodHistory returns the audit trail of one period.
func (h *HTTPHandler) PeriodHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Periods.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// PeriodChecklist returns the checklist of one period.
func (h *HTTPHandler) PeriodChecklist(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Periods.Checklist(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"checklist": items})
}

// CompleteChecklistItem ticks off a checklist item.
func (h *HTTPHandler) CompleteChecklistItem(w http.ResponseWriter, r *http.Request) {
	h.setChecklistItem(w, r, h.svc.Periods.CompleteChecklistItem)
}

// ReopenChecklistItem un-ticks a checklist item.
func (h *HTTPHandler) ReopenChecklistItem(w http.ResponseWriter, r *http.Request) {
	h.setChecklistItem(w, r, h.svc.Periods.ReopenChecklistItem)
}

type checklistFunc func(ctx context.Context, periodID, itemCode, userID string, notes *string) (*repository.PeriodChecklist, error)

func (h *HTTPHandler) setChecklistItem(w http.ResponseWriter, r *http.Request, fn checklistFunc) {
	var req notesRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	item, err := fn(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "code"), userID(r), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// SoftClosePeriod moves an open period to soft_close.
func (h *HTTPHandler) SoftClosePeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Periods.SoftClose(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HardClosePeriod moves a soft-closed period to hard_close.
func (h *HTTPHandler) HardClosePeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Periods.HardClose(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ReopenPeriod moves a closed period back to open. A reason is required.
func (h *HTTPHandler) ReopenPeriod(w http.ResponseWriter, r *http.Request) {
	var req reopenPeriodRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.svc.Periods.Reopen(r.Context(), chi.URLParam(r, "id"), userID(r), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GuardJournalMutation reports how a change to a journal dated date must be
// carried out.
func (h *HTTPHandler) GuardJournalMutation(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.svc.Periods.GuardJournalMutation(r.Context(), date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, guardResponse{Mode: string(d.Mode), Period: d.Period})
}

// ── Revisions ────────────────────────────────────────────────────────────────

// ProposeRevision proposes a change to a journal. Depending on the period
// it is applied directly, auto-approved, queued or refused.
func (h *HTTPHandler) ProposeRevision(w http.ResponseWriter, r *http.Request) {
	var req proposeRevisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.Revisions.ProposeRevision(r.Context(), service.RevisionRequest{
		JournalID:   req.JournalID,
		Action:      repository.RevisionAction(req.Action),
		Reason:      req.Reason,
		NewData:     req.NewData,
		RequestedBy: userID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if !out.Applied {
		status = http.StatusAccepted
	}
	writeJSON(w, status, revisionResponse{
		Mode:     string(out.Mode),
		Applied:  out.Applied,
		Revision: out.Log,
		Reversal: out.Reversal,
	})
}

// ListPendingRevisions lists revisions awaiting a decision. period_id
// narrows to one period.
func (h *HTTPHandler) ListPendingRevisions(w http.ResponseWriter, r *http.Request) {
	revs, err := h.svc.Revisions.ListPending(r.Context(), r.URL.Query().Get("period_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"revisions": revs,
		"total":     len(revs),
	})
}

// GetRevision returns one revision log entry.
func (h *HTTPHandler) GetRevision(w http.ResponseWriter, r *http.Request) {
	rev, err := h.svc.Revisions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// RevisionHistory returns the audit trail of one revision.
func (h *HTTPHandler) RevisionHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Revisions.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// ApproveRevision approves a pending revision and applies it.
func (h *HTTPHandler) ApproveRevision(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	rev, err := h.svc.Revisions.ApproveRevision(r.Context(), chi.URLParam(r, "id"), userID(r), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// RejectRevision rejects a pending revision.
func (h *HTTPHandler) RejectRevision(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	rev, err := h.svc.Revisions.RejectRevision(r.Context(), chi.URLParam(r, "id"), userID(r), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// BulkApproveRevisions approves several revisions. Failures are reported
// per id and do not stop the batch.
func (h *HTTPHandler) BulkApproveRevisions(w http.ResponseWriter, r *http.Request) {
	var req bulkApproveRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Revisions.BulkApprove(r.Context(), req.IDs, userID(r), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ── Settings ─────────────────────────────────────────────────────────────────

// ListSettings returns every stored setting.
func (h *HTTPHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings.All(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": settings})
}

// SettingsGroup returns the typed values of one settings group.
func (h *HTTPHandler) SettingsGroup(w http.ResponseWriter, r *http.Request) {
	values, err := h.svc.Settings.Group(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// GetSetting returns one setting with its typed value.
func (h *HTTPHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s, err := h.svc.Settings.Lookup(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if s == nil {
		h.writeError(w, r, errors.NotFound("setting", key))
		return
	}
	value, err := service.Coerce(s.Type, s.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":         s.Key,
		"value":       value,
		"type":        s.Type,
		"group":       s.Group,
		"description": s.Description,
		"updated_at":  s.UpdatedAt,
	})
}

// SetSetting writes one setting.
func (h *HTTPHandler) SetSetting(w http.ResponseWriter, r *http.Request) {
	var req setSettingRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.svc.Settings.Set(r.Context(), chi.URLParam(r, "key"), req.Value,
		repository.SettingType(req.Type), req.Group, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
