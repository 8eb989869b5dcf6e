package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/policy"
)

func TestStatusEnvelope(t *testing.T) {
	now := time.Now().UTC()
	request := domain.JobRequest{CustomerID: "C1", OpportunityID: "O1", SectionTitle: "Technology Stack"}

	pending := domain.NewJob("job-1", domain.JobKindGenerate, request, now)
	env := statusEnvelope(pending)
	assert.Equal(t, "processing", env.Status)
	assert.Equal(t, "Job pending", env.Message)

	processing := pending.Clone()
	require.NoError(t, processing.Start(now))
	env = statusEnvelope(processing)
	assert.Equal(t, "processing", env.Status)
	assert.Equal(t, domain.JobStatusProcessing, env.Data.(jobStatusData).Status)

	refined := processing.Clone()
	refined.Kind = domain.JobKindRefine
	require.NoError(t, refined.Complete(domain.JobResult{CustomerID: "C1", OpportunityID: "O1", SectionTitle: "Technology Stack", Content: "Go"}, now))
	env = statusEnvelope(refined)
	assert.Equal(t, "ready", env.Status)
	result := env.Data.(jobStatusData).Result
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("Go")), result["refined_section_b64"])
	assert.NotContains(t, result, "generated_section_b64")

	failed := processing.Clone()
	require.NoError(t, failed.Fail(domain.ErrCodePersistError, "write failed", now))
	env = statusEnvelope(failed)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, domain.ErrCodePersistError, env.Data.(jobStatusData).Error.Code)
}

func TestDecodeBase64Text(t *testing.T) {
	text, err := decodeBase64Text(base64.StdEncoding.EncodeToString([]byte("## Scope\nAll of it")))
	require.NoError(t, err)
	assert.Equal(t, "## Scope\nAll of it", text)

	text, err = decodeBase64Text(base64.RawStdEncoding.EncodeToString([]byte("unpadded")))
	require.NoError(t, err)
	assert.Equal(t, "unpadded", text)

	text, err = decodeBase64Text("")
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = decodeBase64Text(base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe}))
	assert.ErrorIs(t, err, errNotText)
}

func TestStatusForCode(t *testing.T) {
	cases := map[domain.ErrorCode]int{
		domain.ErrCodeBadRequest:     http.StatusBadRequest,
		domain.ErrCodeInvalidSection: http.StatusBadRequest,
		domain.ErrCodeValidation:     http.StatusUnprocessableEntity,
		domain.ErrCodeIdempotency:    http.StatusConflict,
		domain.ErrCodeJobNotFound:    http.StatusNotFound,
		domain.ErrCodePersistError:   http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, statusForCode(code), code)
	}
}

type stubJobs struct {
	err error
}

func (s stubJobs) Submit(context.Context, domain.JobKind, domain.JobRequest, string) (domain.Job, error) {
	return domain.Job{}, s.err
}

func (s stubJobs) Poll(context.Context, string) (domain.Job, error) {
	return domain.Job{}, s.err
}

func TestServiceErrorsHideInternalDetail(t *testing.T) {
	api := NewAPI(stubJobs{err: domain.WrapError(domain.ErrCodePersistError, errors.New("dial tcp 10.0.0.3:6379"))}, nil)
	request := httptest.NewRequest(http.MethodPost, "/generate", nil)
	request.Header.Set("Session-Id", "s1")
	recorder := httptest.NewRecorder()

	api.submit(recorder, request, domain.JobKindGenerate, domain.JobRequest{})

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.NotContains(t, recorder.Body.String(), "10.0.0.3")
	assert.Contains(t, recorder.Body.String(), "PERSIST_ERROR")
}

func TestPolicyViolationsBecomeDetails(t *testing.T) {
	violation := &policy.PolicyViolationError{Violations: []policy.Violation{{Field: "prompt", Code: "blocked_instruction", Message: "instruction is not allowed"}}}
	api := NewAPI(stubJobs{err: domain.WrapError(domain.ErrCodeValidation, fmt.Errorf("refine: %w", violation))}, nil)
	recorder := httptest.NewRecorder()

	api.submit(recorder, httptest.NewRequest(http.MethodPost, "/refine", nil), domain.JobKindRefine, domain.JobRequest{})

	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	assert.JSONEq(t, `{"status":"error","message":"prompt: instruction is not allowed","data":{"error_code":"VALIDATION_ERROR","path":"/refine","details":[{"field":"prompt","message":"instruction is not allowed"}]}}`, recorder.Body.String())
}
