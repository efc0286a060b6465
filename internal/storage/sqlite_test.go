package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "promptgate/pkg/logx"
)

func openSQLiteStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "store.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteEntryRoundTrip(t *testing.T) {
	t.Parallel()
	st := openSQLiteStore(t)
	ctx := context.Background()

	if err := st.PutEntry(ctx, "k1", []byte(`{"v":1}`), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	got, ok, err := st.GetEntry(ctx, "k1")
	if err != nil || !ok || string(got) != `{"v":1}` {
		t.Fatalf("GetEntry: ok=%v err=%v got=%s", ok, err, got)
	}

	// Upsert replaces the value and the expiry.
	if err := st.PutEntry(ctx, "k1", []byte(`{"v":2}`), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	got, ok, _ = st.GetEntry(ctx, "k1")
	if !ok || string(got) != `{"v":2}` {
		t.Fatalf("expected overwritten value, got ok=%v %s", ok, got)
	}

	if _, ok, err := st.GetEntry(ctx, "absent"); err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteEntryExpiry(t *testing.T) {
	t.Parallel()
	st := openSQLiteStore(t)
	ctx := context.Background()

	if err := st.PutEntry(ctx, "gone", []byte("x"), time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	if _, ok, err := st.GetEntry(ctx, "gone"); err != nil || ok {
		t.Fatalf("expected miss for expired entry, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteTakeRateWindow(t *testing.T) {
	t.Parallel()
	st := openSQLiteStore(t)
	ctx := context.Background()

	now := time.Now()
	window := time.Minute

	for i := 0; i < 3; i++ {
		d, err := st.TakeRate(ctx, "client", now.Add(-window), now, 3)
		if err != nil {
			t.Fatalf("TakeRate #%d: %v", i+1, err)
		}
		if !d.Allowed || d.Count != i {
			t.Fatalf("request %d: allowed=%v count=%d", i+1, d.Allowed, d.Count)
		}
	}

	d, err := st.TakeRate(ctx, "client", now.Add(-window), now, 3)
	if err != nil {
		t.Fatalf("TakeRate: %v", err)
	}
	if d.Allowed || d.Oldest.IsZero() {
		t.Fatalf("4th request: allowed=%v oldest=%v", d.Allowed, d.Oldest)
	}

	// Sliding forward past the recorded events empties the window.
	later := now.Add(window + time.Second)
	d, err = st.TakeRate(ctx, "client", later.Add(-window), later, 3)
	if err != nil {
		t.Fatalf("TakeRate: %v", err)
	}
	if !d.Allowed || d.Count != 0 {
		t.Fatalf("expected fresh window, got allowed=%v count=%d", d.Allowed, d.Count)
	}
}

func TestSQLitePruneExpired(t *testing.T) {
	t.Parallel()
	st := openSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := st.PutEntry(ctx, "old", []byte("x"), now.Add(-time.Hour)); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	if err := st.PutEntry(ctx, "fresh", []byte("y"), now.Add(time.Hour)); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}

	removed, err := st.PruneExpired(ctx, now)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if removed < 1 {
		t.Fatalf("removed = %d, want at least the expired entry", removed)
	}
	if _, ok, _ := st.GetEntry(ctx, "fresh"); !ok {
		t.Fatal("live entry must survive pruning")
	}
}
