package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iago/section-writer-back/internal/catalog"
	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/logger"
	"github.com/iago/section-writer-back/internal/policy"
	"github.com/iago/section-writer-back/internal/service"
)

const (
	statusProcessing = "processing"
	statusReady      = "ready"
	statusError      = "error"
	statusOK         = "ok"

	maxBodyBytes = 4 << 20
)

var errInvalidPayload = errors.New("invalid JSON body")

// JobsAPI is the submission and polling surface the handlers depend on.
type JobsAPI interface {
	Submit(ctx context.Context, kind domain.JobKind, request domain.JobRequest, idempotencyKey string) (domain.Job, error)
	Poll(ctx context.Context, jobID string) (domain.Job, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type API struct {
	jobs     JobsAPI
	catalog  *catalog.Catalog
	validate *validator.Validate
	checks   []HealthCheck
}

var _ JobsAPI = (*service.JobsService)(nil)

func NewAPI(jobs JobsAPI, sections *catalog.Catalog, checks ...HealthCheck) *API {
	if sections == nil {
		sections = catalog.Default()
	}
	return &API{
		jobs:     jobs,
		catalog:  sections,
		validate: newValidator(sections),
		checks:   checks,
	}
}

// envelope is the single response shape of the API.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorData struct {
	ErrorCode domain.ErrorCode `json:"error_code"`
	Path      string           `json:"path"`
	Details   []fieldError     `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code domain.ErrorCode, message string, details ...fieldError) {
	writeJSON(w, statusCode, envelope{
		Status:  statusError,
		Message: message,
		Data: errorData{
			ErrorCode: code,
			Path:      r.URL.Path,
			Details:   details,
		},
	})
}

// writeServiceError maps a tagged service error onto its HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := statusForCode(code)

	var violation *policy.PolicyViolationError
	if errors.As(err, &violation) {
		details := make([]fieldError, 0, len(violation.Violations))
		for _, item := range violation.Violations {
			details = append(details, fieldError{Field: item.Field, Message: item.Message})
		}
		writeError(w, r, status, code, joinDetails(details), details...)
		return
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).WithError(err).WithField("error_code", string(code)).Error("request failed")
		message = "Internal server error"
	}
	writeError(w, r, status, code, message)
}

func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.ErrCodeBadRequest, domain.ErrCodeInvalidSection:
		return http.StatusBadRequest
	case domain.ErrCodeInvalidAPIKey:
		return http.StatusUnauthorized
	case domain.ErrCodeJobNotFound, domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeIdempotency:
		return http.StatusConflict
	case domain.ErrCodeValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}

func newValidator(sections *catalog.Catalog) *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("report_type", func(fl validator.FieldLevel) bool {
		_, err := sections.Report(fl.Field().String())
		return err == nil
	})
	return validate
}

// validationDetails turns validator output into field/message pairs.
func (api *API) validationDetails(err error) []fieldError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []fieldError{{Field: "body", Message: err.Error()}}
	}
	details := make([]fieldError, 0, len(validationErrors))
	for _, item := range validationErrors {
		details = append(details, fieldError{Field: item.Field(), Message: api.describe(item)})
	}
	return details
}

func (api *API) describe(item validator.FieldError) string {
	switch item.Tag() {
	case "required":
		return "Field required"
	case "report_type":
		return fmt.Sprintf("Unsupported type. Allowed: %s", strings.Join(api.catalog.ReportTypes(), ", "))
	case "max":
		return fmt.Sprintf("Must be at most %s characters", item.Param())
	default:
		return "Invalid value"
	}
}

func joinDetails(details []fieldError) string {
	parts := make([]string, 0, len(details))
	for _, item := range details {
		parts = append(parts, item.Field+": "+item.Message)
	}
	return strings.Join(parts, " ; ")
}
