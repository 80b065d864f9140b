package http

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "keywarden/internal/errors"
	"keywarden/internal/exporter"
	"keywarden/internal/middleware"
	"keywarden/internal/services"
	api "keywarden/pkg/contracts/api/v1"
	"keywarden/pkg/contracts/domain"
)

// validate checks request structs against the tags declared on the contract
// types. Shared across handlers; validator instances cache struct metadata.
var validate = validator.New()

// LicenseHandler serves the public validation endpoints and the admin
// lifecycle endpoints.
type LicenseHandler struct {
	service      services.LicenseService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *LicenseHandler {
	return &LicenseHandler{
		service:      service,
		logger:       logger.With(slog.String("handler", "license")),
		errorHandler: errorHandler,
	}
}

// LicenseActivationResponse carries the activated record plus whether the
// key was provisioned on the fly.
type LicenseActivationResponse struct {
	License *domain.License `json:"license"`
	Created bool            `json:"created"`
}

// Routes returns the public license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	r.Get("/{key}/info", h.Info)
	return r
}

// AdminRoutes returns the license lifecycle endpoints. The caller is
// expected to wrap them with admin authentication.
func (h *LicenseHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Post("/activate", h.Activate)
	r.Post("/renew", h.Renew)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/unbind", h.Unbind)
	r.Get("/export", h.Export)
	r.Get("/{key}", h.Get)
	r.Delete("/{key}", h.Delete)
	return r
}

// decodeAndValidate decodes a JSON body into dst and runs struct validation.
// A nil return means dst is ready to use.
func decodeAndValidate(r *http.Request, dst interface{}) *apierrors.APIError {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return apierrors.InvalidRequestWithError(err)
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]apierrors.ValidationError, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, apierrors.ValidationError{
					Field:   fe.Field(),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
			return apierrors.NewValidationErrors(fields)
		}
		return apierrors.InvalidRequestWithError(err)
	}

	return nil
}

// Validate handles POST /api/v1/license/validate. Every decision is a 200,
// valid or not; error statuses mean the check itself could not run.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseValidateRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.errorHandler.HandleError(w, r, apiErr)
		return
	}

	result, err := h.service.Validate(r.Context(), req.LicenseKey, middleware.ClientIP(r))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, result)
}

// Info handles GET /api/v1/license/{key}/info. The response is the redacted
// view, owner contact details stay behind admin auth.
func (h *LicenseHandler) Info(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Info(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, view)
}

// Create handles POST /api/v1/admin/licenses.
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseCreateRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.errorHandler.HandleError(w, r, apiErr)
		return
	}

	lic, err := h.service.Create(r.Context(), req.Tier, req.OwnerEmail, req.Days)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "license issued",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("tier", req.Tier),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, lic)
}

// Activate handles POST /api/v1/admin/licenses/activate. Activating an
// unknown key provisions it, signalled by a 201 and the created flag.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseActivateRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.errorHandler.HandleError(w, r, apiErr)
		return
	}

	lic, created, err := h.service.Activate(r.Context(), req.LicenseKey, req.Days, req.OwnerEmail)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, LicenseActivationResponse{License: lic, Created: created})
}

// Renew handles POST /api/v1/admin/licenses/renew. Unknown keys are a 404,
// renewal never provisions.
func (h *LicenseHandler) Renew(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseRenewRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.errorHandler.HandleError(w, r, apiErr)
		return
	}

	lic, err := h.service.Renew(r.Context(), req.LicenseKey, req.Days)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, lic)
}

// Deactivate handles POST /api/v1/admin/licenses/deactivate. Responds 200
// whether or not the key existed.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseDeactivateRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.errorHandler.HandleError(w, r, apiErr)
		return
	}

	if err := h.service.Deactivate(r.Context(), req.LicenseKey); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status":      "deactivated",
		"license_key": req.LicenseKey,
	})
}

// Unbind handles POST /api/v1/admin/licenses/unbind, clearing the machine
// binding so the next validation can bind afresh.
func (h *LicenseHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseUnbindRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.errorHandler.HandleError(w, r, apiErr)
		return
	}

	lic, err := h.service.Unbind(r.Context(), req.LicenseKey)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, lic)
}

// List handles GET /api/v1/admin/licenses.
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.service.List(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   licenses,
		"count":  len(licenses),
	})
}

// Get handles GET /api/v1/admin/licenses/{key}.
func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	lic, err := h.service.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, lic)
}

// Delete handles DELETE /api/v1/admin/licenses/{key}.
func (h *LicenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.NoContent(w, r)
}

// Export handles GET /api/v1/admin/licenses/export?format=csv|xlsx. The
// report is rendered before any header is written so store failures still
// produce a proper error response.
func (h *LicenseHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = exporter.FormatCSV
	}
	if !exporter.Supported(format) {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("format",
			fmt.Sprintf("unsupported report format %q", format)))
		return
	}

	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf, format); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", exporter.ContentType(format))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", exporter.Filename(format)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))

	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.WarnContext(r.Context(), "license export interrupted",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("format", format),
			slog.String("error", err.Error()),
		)
	}
}
