package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"promptgate/internal/jobs"
	"promptgate/internal/optimize"
	"promptgate/internal/orchestrator"
	"promptgate/internal/ratelimit"
)

// ---- wire shapes ----

type submitResponse struct {
	JobID   string           `json:"job_id,omitempty"`
	Status  string           `json:"status"`
	Cached  bool             `json:"cached,omitempty"`
	Result  *optimize.Result `json:"result,omitempty"`
	Message string           `json:"message,omitempty"`
}

type jobResponse struct {
	JobID       string           `json:"job_id"`
	Status      string           `json:"status"`
	Progress    int              `json:"progress"`
	CurrentStep string           `json:"current_step,omitempty"`
	Result      *optimize.Result `json:"result,omitempty"`
	Error       *errorBody       `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func toSubmitResponse(sub *orchestrator.Submission) submitResponse {
	switch {
	case sub.Cached:
		return submitResponse{Status: "completed", Cached: true, Result: sub.Result}
	case sub.Async:
		return submitResponse{JobID: sub.Job.ID, Status: string(sub.Job.Status),
			Message: "optimization scheduled; poll status or subscribe for progress"}
	default:
		return submitResponse{JobID: sub.Job.ID, Status: string(sub.Job.Status), Result: sub.Result}
	}
}

func toJobResponse(j jobs.Job) jobResponse {
	out := jobResponse{
		JobID:       j.ID,
		Status:      string(j.Status),
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		Result:      j.Result,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if j.Error != nil {
		out.Error = &errorBody{Code: j.Error.Kind.String(), Message: j.Error.Error()}
	}
	return out
}

// ---- error and header plumbing ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeCoreError maps the core error taxonomy onto HTTP statuses.
func writeCoreError(w http.ResponseWriter, err error) {
	var typed *optimize.Error
	if !errors.As(err, &typed) {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	status := http.StatusInternalServerError
	switch typed.Kind {
	case optimize.KindValidation:
		status = http.StatusBadRequest
	case optimize.KindRateLimit:
		status = http.StatusTooManyRequests
		if typed.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(typed.Limit))
		}
		w.Header().Set("X-RateLimit-Remaining", "0")
		if !typed.ResetAt.IsZero() {
			retry := time.Until(typed.ResetAt).Seconds()
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retry)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(typed.ResetAt.Unix(), 10))
		}
	case optimize.KindNotFound:
		status = http.StatusNotFound
	case optimize.KindOptimizerFailure:
		status = http.StatusBadGateway
	case optimize.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	msg := typed.Error()
	if typed.Kind == optimize.KindInternal {
		// Never leak orchestration internals.
		msg = "internal server error"
	}
	writeError(w, status, typed.Kind.String(), msg)
}

func setRateHeaders(w http.ResponseWriter, dec ratelimit.Decision) {
	if dec.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
}

// decodeBody parses a JSON request body into dst with unknown fields
// rejected, mirroring the strictness of the config loader.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return optimize.Wrap(optimize.KindValidation, err, "invalid request body")
	}
	return nil
}
