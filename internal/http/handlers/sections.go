package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/http/middleware"
)

type generateRequest struct {
	Type          string `json:"type" validate:"required,report_type"`
	CustomerID    string `json:"customer_id" validate:"required"`
	OpportunityID string `json:"opportunity_id" validate:"required"`
	SectionTitle  string `json:"section_title" validate:"required"`
}

// refineRequest takes original_text as a pointer so an empty string is
// accepted while a missing field is not.
type refineRequest struct {
	Type          string  `json:"type" validate:"required,report_type"`
	CustomerID    string  `json:"customer_id" validate:"required"`
	OpportunityID string  `json:"opportunity_id" validate:"required"`
	SectionTitle  string  `json:"section_title" validate:"required"`
	OriginalText  *string `json:"original_text" validate:"required"`
	Prompt        string  `json:"prompt" validate:"required"`
}

type acceptedData struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

func (api *API) Generate(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}

	var request generateRequest
	if !api.decodeAndValidate(w, r, &request) {
		return
	}

	api.submit(w, r, domain.JobKindGenerate, domain.JobRequest{
		SessionID:     sessionID,
		ReportType:    request.Type,
		CustomerID:    strings.TrimSpace(request.CustomerID),
		OpportunityID: strings.TrimSpace(request.OpportunityID),
		SectionTitle:  strings.TrimSpace(request.SectionTitle),
	})
}

func (api *API) Refine(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}

	var request refineRequest
	if !api.decodeAndValidate(w, r, &request) {
		return
	}

	originalText, err := decodeBase64Text(*request.OriginalText)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, domain.ErrCodeBadRequest, "original_text must be valid base64 encoded text")
		return
	}

	api.submit(w, r, domain.JobKindRefine, domain.JobRequest{
		SessionID:     sessionID,
		ReportType:    request.Type,
		CustomerID:    strings.TrimSpace(request.CustomerID),
		OpportunityID: strings.TrimSpace(request.OpportunityID),
		SectionTitle:  strings.TrimSpace(request.SectionTitle),
		OriginalText:  originalText,
		Instruction:   request.Prompt,
	})
}

func (api *API) submit(w http.ResponseWriter, r *http.Request, kind domain.JobKind, request domain.JobRequest) {
	idempotencyKey := r.Header.Get(middleware.HeaderIdempotencyKey)
	job, err := api.jobs.Submit(r.Context(), kind, request, idempotencyKey)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, envelope{
		Status:  statusProcessing,
		Message: "Job queued",
		Data:    acceptedData{JobID: job.ID, Status: domain.JobStatusPending},
	})
}

func requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := strings.TrimSpace(r.Header.Get(middleware.HeaderSessionID))
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, domain.ErrCodeBadRequest, "Session-Id is required")
		return "", false
	}
	return sessionID, true
}

func (api *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, value any) bool {
	if err := decodeJSON(r, value); err != nil {
		writeError(w, r, http.StatusBadRequest, domain.ErrCodeBadRequest, err.Error())
		return false
	}
	if err := api.validate.Struct(value); err != nil {
		details := api.validationDetails(err)
		writeError(w, r, http.StatusUnprocessableEntity, domain.ErrCodeValidation, joinDetails(details), details...)
		return false
	}
	return true
}

var errNotText = errors.New("decoded payload is not UTF-8 text")

func decodeBase64Text(encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return "", err
		}
	}
	if !utf8.Valid(decoded) {
		return "", errNotText
	}
	return string(decoded), nil
}
