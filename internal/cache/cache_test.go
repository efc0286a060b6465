package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"promptgate/internal/optimize"
	"promptgate/internal/storage"
	"promptgate/pkg/logx"
)

// flakyStore wraps a real store and fails on demand.
type flakyStore struct {
	storage.Store
	fail bool
}

func (f *flakyStore) GetEntry(ctx context.Context, key string) ([]byte, bool, error) {
	if f.fail {
		return nil, false, errors.New("store down")
	}
	return f.Store.GetEntry(ctx, key)
}

func (f *flakyStore) PutEntry(ctx context.Context, key string, value []byte, until time.Time) error {
	if f.fail {
		return errors.New("store down")
	}
	return f.Store.PutEntry(ctx, key, value, until)
}

func newFileStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := New(Config{TTL: time.Hour}, newFileStore(t), logx.Nop())

	req := optimize.Request{Prompt: "write a poem", Task: "poetry", TargetModel: "gpt-4"}
	if _, ok := svc.Get(ctx, req); ok {
		t.Fatal("empty cache should miss")
	}

	want := &optimize.Result{OptimizedPrompt: "write a sonnet"}
	svc.Set(ctx, req, want)
	got, ok := svc.Get(ctx, req)
	if !ok || got.OptimizedPrompt != want.OptimizedPrompt {
		t.Fatalf("got %+v ok=%v", got, ok)
	}

	st := svc.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit 1 miss", st)
	}
}

func TestScoreNamespaceIsDistinct(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := New(Config{TTL: time.Hour}, newFileStore(t), logx.Nop())

	opt := optimize.Request{Prompt: "same prompt", Task: "same task", TargetModel: "gpt-4"}
	svc.Set(ctx, opt, &optimize.Result{OptimizedPrompt: "x"})

	sc := optimize.ScoreRequest{Prompt: "same prompt", Task: "same task"}
	if _, ok := svc.GetScore(ctx, sc); ok {
		t.Fatal("score lookup must not hit the optimization namespace")
	}

	svc.SetScore(ctx, sc, &optimize.Score{Overall: 0.8})
	got, ok := svc.GetScore(ctx, sc)
	if !ok || got.Overall != 0.8 {
		t.Fatalf("score round trip: got %+v ok=%v", got, ok)
	}
}

func TestStoreFailureIsAMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := &flakyStore{Store: newFileStore(t)}
	svc := New(Config{TTL: time.Hour}, fs, logx.Nop())

	req := optimize.Request{Prompt: "p", Task: "t"}
	svc.Set(ctx, req, &optimize.Result{OptimizedPrompt: "x"})

	fs.fail = true
	if _, ok := svc.Get(ctx, req); ok {
		t.Fatal("store failure must degrade to a miss")
	}
	// writes while down must not panic or error out
	svc.Set(ctx, req, &optimize.Result{OptimizedPrompt: "y"})

	fs.fail = false
	got, ok := svc.Get(ctx, req)
	if !ok || got.OptimizedPrompt != "x" {
		t.Fatalf("recovered lookup: got %+v ok=%v", got, ok)
	}
}

func TestNilStoreDisablesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := New(Config{}, nil, logx.Nop())

	req := optimize.Request{Prompt: "p", Task: "t"}
	svc.Set(ctx, req, &optimize.Result{})
	if _, ok := svc.Get(ctx, req); ok {
		t.Fatal("disabled cache must always miss")
	}
	if err := svc.HealthCheck(ctx); err != nil {
		t.Fatalf("disabled cache should be healthy: %v", err)
	}
}
