package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/service"
)

// UserIDHeader names the acting user on HTTP requests. The gateway sets it
// after authenticating the caller.
const UserIDHeader = "X-User-ID"

// Services bundles the services exposed over HTTP and gRPC.
type Services struct {
	Approvals   *service.ApprovalService
	Approvables *service.ApprovableService
	Rules       *service.RuleEngine
	Periods     *service.ClosingPeriodService
	Revisions   *service.RevisionService
	Settings    *service.SettingsService
	Permissions service.PermissionChecker
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	svc      Services
	validate *validator.Validate
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc:      svc,
		validate: newValidator(),
		log:      log,
	}
}

// newValidator reports fields under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Code    errors.Code       `json:"code"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor maps an error code to its HTTP status.
func statusFor(code errors.Code) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnbalanced:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	body := errorBody{Code: code, Message: err.Error()}

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Field = appErr.Field
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		body.Message = "internal error"
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// decode reads the JSON body into dst and runs the struct validators.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {
			Code:    errors.ErrCodeInvalidInput,
			Message: "invalid request body",
		}})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {
			Code:    errors.ErrCodeInvalidInput,
			Message: "validation failed",
			Fields:  validationFields(err),
		}})
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *HTTPHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, dst)
}

func validationFields(err error) map[string]string {
	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["_"] = err.Error()
		return fields
	}
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

// requireUser rejects requests that carry no acting user.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(UserIDHeader)) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]errorBody{"error": {
				Code:    errors.ErrCodeUnauthorized,
				Message: "missing " + UserIDHeader + " header",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requirePermission refuses the request unless the caller holds perm.
func (h *HTTPHandler) requirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := service.RequirePermission(r.Context(), h.svc.Permissions, userID(r), perm); err != nil {
				h.writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

func parseDate(field, raw string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.InvalidInput(field, "expected YYYY-MM-DD")
	}
	return d, nil
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return limit
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
