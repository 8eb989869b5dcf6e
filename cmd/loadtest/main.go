// Command loadtest drives generate jobs through the HTTP API and reports
// submission and end-to-end latency percentiles.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iago/section-writer-back/internal/ai"
	"github.com/iago/section-writer-back/internal/cache"
	"github.com/iago/section-writer-back/internal/catalog"
	"github.com/iago/section-writer-back/internal/domain"
	httpserver "github.com/iago/section-writer-back/internal/http"
	"github.com/iago/section-writer-back/internal/http/handlers"
	"github.com/iago/section-writer-back/internal/repository"
	"github.com/iago/section-writer-back/internal/service"
	"github.com/iago/section-writer-back/internal/session"
	"github.com/iago/section-writer-back/internal/worker"
)

const localAPIKey = "loadtest"

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type target struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func main() {
	baseURL := flag.String("target", "", "base URL of a running API; empty starts an in-process server with a canned model")
	apiKey := flag.String("api-key", os.Getenv("API_KEY"), "X-API-Key sent with every request")
	submitTotal := flag.Int("submit-total", 300, "total generate submissions")
	submitConcurrency := flag.Int("submit-concurrency", 24, "concurrency for generate submissions")
	roundtripTotal := flag.Int("roundtrip-total", 60, "total generate jobs polled to completion")
	roundtripConcurrency := flag.Int("roundtrip-concurrency", 12, "concurrency for polled jobs")
	pollTimeout := flag.Duration("poll-timeout", 2*time.Minute, "maximum wait for one job to finish")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	environment := "remote"
	tgt := target{baseURL: *baseURL, apiKey: *apiKey, client: &http.Client{Timeout: 10 * time.Second}}
	if tgt.baseURL == "" {
		server, shutdown := startLocalEnvironment()
		defer shutdown()
		tgt.baseURL = server.URL
		tgt.apiKey = localAPIKey
		environment = "local-httptest"
	}

	titles := technicalScopeTitles()

	submitScenario := runScenario("generate_submit", *submitTotal, *submitConcurrency, func(index int) error {
		_, err := tgt.submit(index, titles)
		return err
	})

	roundtripScenario := runScenario("generate_roundtrip", *roundtripTotal, *roundtripConcurrency, func(index int) error {
		jobID, err := tgt.submit(index, titles)
		if err != nil {
			return err
		}
		return tgt.waitReady(jobID, *pollTimeout)
	})

	notFoundScenario := runScenario("status_unknown", *submitTotal/2, *submitConcurrency, func(int) error {
		_, err := tgt.get("/status/"+uuid.NewString(), http.StatusNotFound)
		return err
	})

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    environment,
		Results:        []scenarioResult{submitScenario, roundtripScenario, notFoundScenario},
		SLOEvaluation: map[string]bool{
			"submit_p95_le_200ms": submitScenario.P95MS <= 200,
			"status_p95_le_100ms": notFoundScenario.P95MS <= 100,
		},
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logrus.Fatalf("failed to marshal benchmark report: %v", err)
	}
	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			logrus.Fatalf("failed to write output file: %v", err)
		}
	}
	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

// cannedModel answers instantly so the local run measures the service itself.
type cannedModel struct{}

func (cannedModel) Available() bool { return true }

func (cannedModel) Generate(_ context.Context, request ai.GenerateRequest) (ai.GenerateResult, error) {
	return ai.GenerateResult{Text: "The solution runs on managed Go services with a Postgres store.", ModelID: request.Model}, nil
}

type cannedTranscripts struct{}

func (cannedTranscripts) Fetch(context.Context, domain.SessionKey) ([]domain.Transcript, error) {
	return []domain.Transcript{{Key: "kickoff", Text: "Kickoff call notes."}}, nil
}

func startLocalEnvironment() (*httptest.Server, func()) {
	jobs := repository.NewMemoryJobStore()
	sections := repository.NewMemorySectionsRepository()
	contentCache := cache.NewContentCache(cache.ContentCacheDeps{
		Transcripts: cannedTranscripts{},
		Sections:    sections,
	})
	executor := worker.NewExecutor(worker.ExecutorDeps{
		Jobs:     jobs,
		Sessions: session.NewBuilder(contentCache, nil),
		Writer:   service.NewSectionWriter(service.SectionWriterDeps{Client: cannedModel{}}),
		Sections: sections,
		Cache:    contentCache,
		Locker:   session.NewKeyedLocker(),
	})
	jobsService := service.NewJobsService(service.JobsServiceDeps{Store: jobs, Dispatcher: executor})
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            handlers.NewAPI(jobsService, nil),
		APIKey:         localAPIKey,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	server := httptest.NewServer(router)
	return server, func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = executor.Wait(ctx)
	}
}

func technicalScopeTitles() []string {
	report, err := catalog.Default().Report(catalog.ReportTechnicalScope)
	if err != nil {
		return []string{"Technology Stack"}
	}
	titles := make([]string, 0, len(report.Sections))
	for _, section := range report.Sections {
		titles = append(titles, section.Title)
	}
	return titles
}

type envelope struct {
	Status string `json:"status"`
	Data   struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	} `json:"data"`
}

func (t target) submit(index int, titles []string) (string, error) {
	payload := map[string]any{
		"type":           catalog.ReportTechnicalScope,
		"customer_id":    fmt.Sprintf("customer-%d", index%16),
		"opportunity_id": fmt.Sprintf("opportunity-%d", index%32),
		"section_title":  titles[index%len(titles)],
	}
	body, err := t.post("/generate", payload, map[string]string{"Session-Id": fmt.Sprintf("load-%d", index%32)}, http.StatusAccepted)
	if err != nil {
		return "", err
	}
	var decoded envelope
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if decoded.Data.JobID == "" {
		return "", errors.New("submit response has no job_id")
	}
	return decoded.Data.JobID, nil
}

func (t target) waitReady(jobID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		body, err := t.get("/status/"+jobID, http.StatusOK)
		if err != nil {
			return err
		}
		var decoded envelope
		if err := json.Unmarshal(body, &decoded); err != nil {
			return fmt.Errorf("decode status response: %w", err)
		}
		switch decoded.Status {
		case "ready":
			return nil
		case "error":
			return fmt.Errorf("job %s failed: %s", jobID, string(body))
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("job %s did not finish within %s", jobID, timeout)
}

func (t target) post(path string, payload any, headers map[string]string, expectedStatus int) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	request, err := http.NewRequest(http.MethodPost, t.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	return t.do(request, expectedStatus)
}

func (t target) get(path string, expectedStatus int) ([]byte, error) {
	request, err := http.NewRequest(http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	return t.do(request, expectedStatus)
}

func (t target) do(request *http.Request, expectedStatus int) ([]byte, error) {
	request.Header.Set("Accept", "application/json")
	request.Header.Set("X-API-Key", t.apiKey)

	response, err := t.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if response.StatusCode != expectedStatus {
		return nil, fmt.Errorf("unexpected status %d (expected %d): %.512s", response.StatusCode, expectedStatus, string(body))
	}
	return body, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
