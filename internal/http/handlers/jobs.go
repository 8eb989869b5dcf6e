package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/iago/section-writer-back/internal/domain"
)

type jobStatusData struct {
	JobID  string            `json:"job_id"`
	Status domain.JobStatus  `json:"status"`
	Result map[string]string `json:"result,omitempty"`
	Error  *domain.JobError  `json:"error,omitempty"`
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("job_id"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, domain.ErrCodeBadRequest, "job_id is required")
		return
	}

	job, err := api.jobs.Poll(r.Context(), jobID)
	if err != nil {
		if domain.CodeOf(err) == domain.ErrCodeJobNotFound {
			writeError(w, r, http.StatusNotFound, domain.ErrCodeJobNotFound, "Job "+jobID+" not found")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusEnvelope(job))
}

// statusEnvelope renders a known job. Every known job is reported with 200.
func statusEnvelope(job domain.Job) envelope {
	data := jobStatusData{JobID: job.ID, Status: job.Status}

	switch job.Status {
	case domain.JobStatusCompleted:
		data.Result = resultPayload(job)
		return envelope{Status: statusReady, Message: "Job completed", Data: data}
	case domain.JobStatusFailed:
		data.Error = job.Error
		if data.Error == nil {
			data.Error = &domain.JobError{Code: domain.ErrCodeInternalError, Message: "job failed without an error record"}
		}
		return envelope{Status: statusError, Message: "Job failed", Data: data}
	case domain.JobStatusProcessing:
		return envelope{Status: statusProcessing, Message: "Job processing", Data: data}
	default:
		return envelope{Status: statusProcessing, Message: "Job pending", Data: data}
	}
}

func resultPayload(job domain.Job) map[string]string {
	result := domain.JobResult{
		CustomerID:    job.Request.CustomerID,
		OpportunityID: job.Request.OpportunityID,
		SectionTitle:  job.Request.SectionTitle,
	}
	if job.Result != nil {
		result = *job.Result
	}

	contentKey := "generated_section_b64"
	if job.Kind == domain.JobKindRefine {
		contentKey = "refined_section_b64"
	}
	return map[string]string{
		"customer_id":    result.CustomerID,
		"opportunity_id": result.OpportunityID,
		"section_title":  result.SectionTitle,
		contentKey:       base64.StdEncoding.EncodeToString([]byte(result.Content)),
	}
}
