// Package health serves liveness and readiness probes on the metrics mux.
//
//   - /healthz: liveness; answers 200 whenever the process can serve HTTP.
//   - /readyz: readiness; answers 200 only while every registered [Checker]
//     passes, 503 otherwise.
//
// Bodies are JSON with a top-level "status" ("ok" or "fail") and, for
// readiness, a "checks" map carrying each checker's result.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness probe.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil while the dependency
// is usable and must honour context cancellation.
type Checker struct {
	// Name labels the check in the response body (e.g. "store", "stt").
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// Handler answers both probe routes. The checker list is fixed at
// construction, so the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] that evaluates checkers in order on every readiness
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds both probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness. No checkers run here.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, "ok", nil)
}

// Readyz runs every checker and reports 503 if any of them fail.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	status, code := "ok", http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			status, code = "fail", http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	h.respond(w, code, status, checks)
}

func (h *Handler) respond(w http.ResponseWriter, code int, status string, checks map[string]string) {
	body := struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks,omitempty"`
	}{Status: status, Checks: checks}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
