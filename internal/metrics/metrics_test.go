package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"promptgate/internal/fanout"
	"promptgate/internal/jobs"
	"promptgate/internal/optimize"
	"promptgate/pkg/logx"
)

func TestSnapshotAndScrape(t *testing.T) {
	t.Parallel()
	jm := jobs.NewManager(jobs.Config{}, logx.Nop())
	hub := fanout.NewHub(logx.Nop())
	c := NewCollector(Sources{Jobs: jm, Hub: hub})

	j := jm.Create(optimize.Request{Prompt: "p"})
	jm.Complete(j.ID, &optimize.Result{})
	c.ObserveRequest("optimize", "ok", 12*time.Millisecond)

	snap := c.Snapshot()
	if snap.Jobs.Total != 1 || snap.Jobs.ByStatus[jobs.StatusCompleted] != 1 {
		t.Fatalf("snapshot jobs = %+v", snap.Jobs)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"promptgate_requests_total",
		"promptgate_jobs",
		`status="completed"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape output missing %q", want)
		}
	}
}

func TestTwoCollectorsCoexist(t *testing.T) {
	t.Parallel()
	a := NewCollector(Sources{})
	b := NewCollector(Sources{})
	a.ObserveRequest("score", "ok", time.Millisecond)
	b.ObserveRequest("score", "error", time.Millisecond)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), `outcome="error"`) {
		t.Fatal("registries must be isolated")
	}
}
