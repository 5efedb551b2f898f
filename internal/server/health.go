package server

import (
	"context"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// its context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and a non-nil error describing the failure otherwise.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// healthResult is the JSON response body for the health endpoints.
type healthResult struct {
	Status       string            `json:"status"`
	SessionState string            `json:"session_state,omitempty"`
	Checks       map[string]string `json:"checks,omitempty"`
}

// handleHealthz is a liveness probe that always returns 200 OK. A running
// process that can serve HTTP is considered alive. The current session state
// is included for quick operator triage.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{
		Status:       "ok",
		SessionState: s.sessionState(),
	})
}

// handleReadyz is a readiness probe that returns 200 only when every checker
// registered via [WithChecker] passes. Each checker is given a context with a
// checkTimeout deadline derived from the request context.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	allOK := true

	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := healthResult{
		Status:       "ok",
		SessionState: s.sessionState(),
		Checks:       checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

func (s *Server) sessionState() string {
	if s.coord == nil {
		return ""
	}
	return s.coord.State().String()
}
