// Package http exposes the license validator to UI collaborators over
// a local HTTP API.
package http

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	licenseErrors "xtcli/internal/errors"
	"xtcli/internal/infrastructure"
	"xtcli/internal/license"
)

var validate = validator.New()

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	validator *license.Validator
	limiter   *license.AttemptLimiter
	metrics   *license.Metrics
	logger    *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(v *license.Validator, limiter *license.AttemptLimiter, metrics *license.Metrics, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		validator: v,
		limiter:   limiter,
		metrics:   metrics,
		logger:    logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the activate/validate request payload
type ActivationRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,min=10"`
}

// Bind implements render.Binder
func (a *ActivationRequest) Bind(r *http.Request) error {
	return validate.Struct(a)
}

// ActivationResponse is the activate/validate response payload
type ActivationResponse struct {
	Success   bool                     `json:"success"`
	Message   string                   `json:"message"`
	Status    license.ValidationStatus `json:"status"`
	TraceID   string                   `json:"traceId"`
	Timestamp time.Time                `json:"timestamp"`
}

// Routes returns a chi router for the license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Get("/connection", h.TestConnection)
	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	r.Delete("/", h.Clear)

	return r
}

// GetStatus returns the current validation status snapshot
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.validator.Status())
}

// TestConnection probes license server reachability
func (h *LicenseHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.validator.TestConnection(r.Context()))
}

// Activate validates a key with the server and persists it as the
// active license on success.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.GetTraceID(ctx)

	if h.limiter != nil && !h.limiter.Allow(clientAddr(r)) {
		if h.metrics != nil {
			h.metrics.RateLimitHits.Add(ctx, 1)
		}
		render.Render(w, r, licenseErrors.ProblemFromError(licenseErrors.ErrRateLimited, traceID))
		return
	}

	req := &ActivationRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, licenseErrors.NewProblemDetails(http.StatusBadRequest,
			"/errors/invalid-request", "Invalid Request", err.Error(), ""))
		return
	}

	valid, err := h.validator.ActivateLicense(ctx, req.LicenseKey)
	h.respond(w, r, valid, err, "License activated successfully", "License activation failed")
}

// Validate validates a key without making it the active license
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	req := &ActivationRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, licenseErrors.NewProblemDetails(http.StatusBadRequest,
			"/errors/invalid-request", "Invalid Request", err.Error(), ""))
		return
	}

	valid, err := h.validator.ValidateLicense(r.Context(), req.LicenseKey)
	h.respond(w, r, valid, err, "License is valid", "License is invalid")
}

// Clear removes the active license
func (h *LicenseHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.validator.ClearLicense(ctx); err != nil {
		h.logger.ErrorContext(ctx, "failed to clear license", slog.String("error", err.Error()))
		render.Render(w, r, licenseErrors.ProblemFromError(err, infrastructure.GetTraceID(ctx)))
		return
	}
	render.JSON(w, r, h.validator.Status())
}

func (h *LicenseHandler) respond(w http.ResponseWriter, r *http.Request, valid bool, err error, okMsg, rejectedMsg string) {
	ctx := r.Context()
	traceID := infrastructure.GetTraceID(ctx)

	if err != nil {
		h.logger.WarnContext(ctx, "license operation failed", slog.String("error", err.Error()))
		render.Render(w, r, licenseErrors.ProblemFromError(err, traceID))
		return
	}

	message := okMsg
	status := http.StatusOK
	if !valid {
		message = rejectedMsg
		// A server rejection carries a reason; map it to the specific
		// user-facing message instead of the generic one.
		if reason := h.validator.RejectionReason(); reason != "" {
			message = licenseErrors.UserMessage(licenseErrors.NewServerRejection(reason))
		}
		status = http.StatusForbidden
	}
	render.Status(r, status)
	render.JSON(w, r, ActivationResponse{
		Success:   valid,
		Message:   message,
		Status:    h.validator.Status(),
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TraceMiddleware assigns a trace ID to every request context
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := infrastructure.EnsureTraceID(r.Context())
		w.Header().Set("X-Trace-Id", infrastructure.GetTraceID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
