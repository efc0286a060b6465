package httpapi

import (
	"context"
	"net/http"
	"time"

	"promptgate/internal/optimize"
)

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req optimize.Request
	if err := decodeBody(r, &req); err != nil {
		s.observe("optimize", "invalid", start)
		writeCoreError(w, err)
		return
	}
	sub, err := s.orch.Submit(r.Context(), identityFrom(r.Context()), req)
	if err != nil {
		s.observe("optimize", optimize.KindOf(err).String(), start)
		writeCoreError(w, err)
		return
	}
	setRateHeaders(w, sub.Rate)
	status := http.StatusOK
	if sub.Async {
		status = http.StatusAccepted
	}
	s.observe("optimize", "ok", start)
	writeJSON(w, status, toSubmitResponse(sub))
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req optimize.ScoreRequest
	if err := decodeBody(r, &req); err != nil {
		s.observe("score", "invalid", start)
		writeCoreError(w, err)
		return
	}
	sc, dec, err := s.orch.Score(r.Context(), identityFrom(r.Context()), req)
	if err != nil {
		s.observe("score", optimize.KindOf(err).String(), start)
		writeCoreError(w, err)
		return
	}
	setRateHeaders(w, dec)
	s.observe("score", "ok", start)
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req optimize.CompareRequest
	if err := decodeBody(r, &req); err != nil {
		s.observe("compare", "invalid", start)
		writeCoreError(w, err)
		return
	}
	cmp, dec, err := s.orch.Compare(r.Context(), identityFrom(r.Context()), req)
	if err != nil {
		s.observe("compare", optimize.KindOf(err).String(), start)
		writeCoreError(w, err)
		return
	}
	setRateHeaders(w, dec)
	s.observe("compare", "ok", start)
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	j, err := s.orch.Status(r.PathValue("id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	j, err := s.orch.Cancel(r.PathValue("id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// handleHealth probes every registered dependency with a short budget.
// Any failure flips the composite to degraded with a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out := healthResponse{Status: "healthy", Services: make(map[string]string, len(s.health))}
	status := http.StatusOK
	for _, hc := range s.health {
		if err := hc.Check(ctx); err != nil {
			out.Services[hc.Name] = "unhealthy: " + err.Error()
			out.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			out.Services[hc.Name] = "healthy"
		}
	}
	writeJSON(w, status, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) observe(operation, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(operation, outcome, time.Since(start))
	}
}
