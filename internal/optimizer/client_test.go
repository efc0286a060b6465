package optimizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"promptgate/internal/optimize"
	"promptgate/pkg/logx"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key", RatePerSec: 100}, logx.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestOptimizeRoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/optimize" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req optimize.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(optimize.Result{
			OriginalPrompt:  req.Prompt,
			OptimizedPrompt: "improved " + req.Prompt,
		})
	}))

	res, err := c.Optimize(context.Background(), optimize.Request{Prompt: "hello", Task: "greet"})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if res.OptimizedPrompt != "improved hello" {
		t.Fatalf("optimized = %q", res.OptimizedPrompt)
	}
	if st := c.Stats(); st.Calls != 1 || st.Failures != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestUpstreamErrorKind(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine exploded", http.StatusInternalServerError)
	}))

	_, err := c.Score(context.Background(), optimize.ScoreRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("want error from 500 response")
	}
	if kind := optimize.KindOf(err); kind != optimize.KindOptimizerFailure {
		t.Fatalf("kind = %v, want optimizer failure", kind)
	}
	if st := c.Stats(); st.Failures != 1 {
		t.Fatalf("stats = %+v, want 1 failure", st)
	}
}

func TestTimeoutKind(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Compare(ctx, optimize.CompareRequest{Original: "a", Optimized: "b"})
	if err == nil {
		t.Fatal("want timeout error")
	}
	if kind := optimize.KindOf(err); kind != optimize.KindTimeout {
		t.Fatalf("kind = %v, want timeout", kind)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	ok := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	if err := ok.HealthCheck(context.Background()); err != nil {
		t.Fatalf("healthy upstream: %v", err)
	}

	bad := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	if err := bad.HealthCheck(context.Background()); err == nil {
		t.Fatal("unhealthy upstream should error")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(ClientConfig{}, logx.Nop()); err == nil {
		t.Fatal("empty base URL must be rejected")
	}
}
