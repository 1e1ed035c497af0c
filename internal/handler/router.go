package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pesio-ai/be-gl-closing/internal/service"
)

// RouterConfig carries the HTTP options read from config.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter mounts every endpoint of h on a chi router.
func NewRouter(h *HTTPHandler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", UserIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/", h.RequestApproval)
			r.Get("/pending", h.ListPendingApprovals)
			r.Get("/{id}", h.GetApproval)
			r.Get("/{id}/history", h.ApprovalHistory)
			r.Post("/{id}/approve", h.ApproveApproval)
			r.Post("/{id}/reject", h.RejectApproval)
			r.Post("/{id}/escalate", h.EscalateApproval)
		})

		r.Get("/approvables/{type}/{id}/approvals", h.ApprovalsForApprovable)

		manage := h.requirePermission(service.PermManageConfiguration)

		r.Route("/approval-rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.With(manage).Post("/", h.CreateRule)
			r.Get("/{id}", h.GetRule)
			r.With(manage).Put("/{id}", h.UpdateRule)
			r.With(manage).Delete("/{id}", h.DeactivateRule)
		})

		r.Route("/period-templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.With(manage).Post("/", h.CreateTemplate)
		})

		r.Route("/closing-periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.ProvisionPeriod)
			r.Get("/guard", h.GuardJournalMutation)
			r.Get("/{id}", h.GetPeriod)
			r.Get("/{id}/history", h.PeriodHistory)
			r.Get("/{id}/checklist", h.PeriodChecklist)
			r.Post("/{id}/checklist/{code}/complete", h.CompleteChecklistItem)
			r.Post("/{id}/checklist/{code}/reopen", h.ReopenChecklistItem)
			r.Post("/{id}/soft-close", h.SoftClosePeriod)
			r.Post("/{id}/hard-close", h.HardClosePeriod)
			r.Post("/{id}/reopen", h.ReopenPeriod)
		})

		r.Route("/revisions", func(r chi.Router) {
			r.Post("/", h.ProposeRevision)
			r.Get("/pending", h.ListPendingRevisions)
			r.Post("/bulk-approve", h.BulkApproveRevisions)
			r.Get("/{id}", h.GetRevision)
			r.Get("/{id}/history", h.RevisionHistory)
			r.Post("/{id}/approve", h.ApproveRevision)
			r.Post("/{id}/reject", h.RejectRevision)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.ListSettings)
			r.Get("/groups/{group}", h.SettingsGroup)
			r.Get("/{key}", h.GetSetting)
			r.With(manage).Put("/{key}", h.SetSetting)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]errorBody{"error": {Code: "not_found", Message: "route not found"}})
	})

	return r
}
