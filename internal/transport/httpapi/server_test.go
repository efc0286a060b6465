package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"promptgate/internal/cache"
	"promptgate/internal/fanout"
	"promptgate/internal/jobs"
	"promptgate/internal/metrics"
	"promptgate/internal/optimize"
	"promptgate/internal/orchestrator"
	"promptgate/internal/ratelimit"
	"promptgate/internal/storage"
	"promptgate/pkg/logx"
)

type stubBackend struct {
	failWith error
}

func (s *stubBackend) Optimize(ctx context.Context, req optimize.Request) (*optimize.Result, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	return &optimize.Result{OriginalPrompt: req.Prompt, OptimizedPrompt: "better " + req.Prompt}, nil
}

func (s *stubBackend) Score(ctx context.Context, req optimize.ScoreRequest) (*optimize.Score, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	return &optimize.Score{Overall: 0.7}, nil
}

func (s *stubBackend) Compare(ctx context.Context, req optimize.CompareRequest) (*optimize.Comparison, error) {
	return &optimize.Comparison{ID: "cmp"}, nil
}

func (s *stubBackend) HealthCheck(ctx context.Context) error { return s.failWith }

type testAPI struct {
	srv     *httptest.Server
	backend *stubBackend
	orch    *orchestrator.Orchestrator
}

func newAPI(t *testing.T, auth AuthConfig, rateMax int) *testAPI {
	t.Helper()
	log := logx.Nop()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	backend := &stubBackend{}
	jm := jobs.NewManager(jobs.Config{}, log)
	hub := fanout.NewHub(log)
	cs := cache.New(cache.Config{TTL: time.Hour}, st, log)
	orch := orchestrator.New(orchestrator.Config{}, orchestrator.Deps{
		Jobs:    jm,
		Cache:   cs,
		Limiter: ratelimit.New(ratelimit.Config{MaxRequests: rateMax, Window: time.Hour}, st, log),
		Hub:     hub,
		Backend: backend,
		Log:     log,
	})
	orch.Start(context.Background())
	t.Cleanup(func() { orch.Stop(context.Background()) })

	mc := metrics.NewCollector(metrics.Sources{Jobs: jm, Cache: cs, Hub: hub, Backend: backend})
	server := NewServer(Config{Auth: auth}, orch, mc, []HealthChecker{
		{Name: "optimizer", Check: backend.HealthCheck},
		{Name: "cache", Check: cs.HealthCheck},
	}, log)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testAPI{srv: ts, backend: backend, orch: orch}
}

func (a *testAPI) post(t *testing.T, path string, body any, hdr map[string]string) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, a.srv.URL+path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestOptimizeSyncFlow(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{}, 100)

	resp := api.post(t, "/api/v1/optimize", optimize.Request{Prompt: "hello", Task: "greet"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "100" {
		t.Fatalf("X-RateLimit-Limit = %q", got)
	}
	out := decode[submitResponse](t, resp)
	if out.Status != "completed" || out.Result == nil {
		t.Fatalf("response = %+v", out)
	}

	// Same body again: served from cache, no rate headers consumed.
	resp = api.post(t, "/api/v1/optimize", optimize.Request{Prompt: "hello", Task: "greet"}, nil)
	cached := decode[submitResponse](t, resp)
	if !cached.Cached {
		t.Fatalf("second call = %+v, want cached", cached)
	}
}

func TestOptimizeAsyncFlow(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{}, 100)

	resp := api.post(t, "/api/v1/optimize",
		optimize.Request{Prompt: strings.Repeat("x", 3000), Task: "long"}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	out := decode[submitResponse](t, resp)
	if out.JobID == "" {
		t.Fatal("async response must carry a job id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		sr, err := http.Get(api.srv.URL + "/api/v1/status/" + out.JobID)
		if err != nil {
			t.Fatalf("status poll: %v", err)
		}
		job := decode[jobResponse](t, sr)
		if job.Status == "completed" {
			if job.Result == nil || job.Progress != 100 {
				t.Fatalf("completed job = %+v", job)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck at %+v", job)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusNotFound(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{}, 100)
	resp, err := http.Get(api.srv.URL + "/api/v1/status/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	out := decode[errorResponse](t, resp)
	if out.Error.Code != "not_found" {
		t.Fatalf("error = %+v", out)
	}
}

func TestValidationError(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{}, 100)
	resp := api.post(t, "/api/v1/optimize", optimize.Request{Prompt: "", Task: "x"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	out := decode[errorResponse](t, resp)
	if out.Error.Code != "validation_error" {
		t.Fatalf("error = %+v", out)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{}, 100)
	resp := api.post(t, "/api/v1/optimize", map[string]any{"prompt": "p", "task": "t", "bogus": 1}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRateLimitHeaders(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{}, 1)

	resp := api.post(t, "/api/v1/optimize", optimize.Request{Prompt: "one", Task: "t"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first call status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post(t, "/api/v1/optimize", optimize.Request{Prompt: "two", Task: "t"}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("429 X-RateLimit-Limit = %q, want 1", got)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("429 X-RateLimit-Remaining = %q, want 0", got)
	}
	if resp.Header.Get("X-RateLimit-Reset") == "" {
		t.Fatal("429 must carry X-RateLimit-Reset")
	}
	resp.Body.Close()
}

func TestScoreCarriesRateHeaders(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{}, 10)

	resp := api.post(t, "/api/v1/score", optimize.ScoreRequest{Prompt: "rate me"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("X-RateLimit-Limit = %q, want 10", got)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "9" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 9", got)
	}
	resp.Body.Close()

	// Cached repeat consumes no quota and sends no rate headers.
	resp = api.post(t, "/api/v1/score", optimize.ScoreRequest{Prompt: "rate me"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cached status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "" {
		t.Fatalf("cached score X-RateLimit-Limit = %q, want unset", got)
	}
	resp.Body.Close()
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{Enabled: true, APIKeys: map[string]string{"good-key": "alice"}}, 100)

	resp := api.post(t, "/api/v1/score", optimize.ScoreRequest{Prompt: "p"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post(t, "/api/v1/score", optimize.ScoreRequest{Prompt: "p"},
		map[string]string{"X-API-Key": "good-key"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with key = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post(t, "/api/v1/compare", optimize.CompareRequest{Original: "a", Optimized: "b"},
		map[string]string{"Authorization": "Bearer good-key"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthDegrades(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{}, 100)

	resp, err := http.Get(api.srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthy status = %d", resp.StatusCode)
	}
	out := decode[healthResponse](t, resp)
	if out.Status != "healthy" || out.Services["optimizer"] != "healthy" {
		t.Fatalf("health = %+v", out)
	}

	api.backend.failWith = errors.New("upstream down")
	resp, err = http.Get(api.srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", resp.StatusCode)
	}
	out = decode[healthResponse](t, resp)
	if out.Status != "degraded" {
		t.Fatalf("health = %+v", out)
	}
}

func TestStatsAndMetricsEndpoints(t *testing.T) {
	t.Parallel()
	api := newAPI(t, AuthConfig{}, 100)
	api.post(t, "/api/v1/optimize", optimize.Request{Prompt: "hello", Task: "t"}, nil).Body.Close()

	resp, err := http.Get(api.srv.URL + "/api/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	snap := decode[metrics.Snapshot](t, resp)
	if snap.Jobs.Total != 1 {
		t.Fatalf("stats jobs = %+v, want 1 job", snap.Jobs)
	}

	resp, err = http.Get(api.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "promptgate_requests_total") {
		t.Fatal("prometheus endpoint missing gateway series")
	}
}
