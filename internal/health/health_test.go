package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) (string, map[string]string) {
	t.Helper()
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body.Status, body.Checks
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "broken", Check: func(context.Context) error {
		return errors.New("down")
	}})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	// Liveness ignores readiness checkers entirely.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if status, _ := decode(t, rec); status != "ok" {
		t.Errorf("body status = %q, want ok", status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	t.Run("all checks pass", func(t *testing.T) {
		t.Parallel()
		h := New(
			Checker{Name: "store", Check: func(context.Context) error { return nil }},
			Checker{Name: "stt", Check: func(context.Context) error { return nil }},
		)

		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		status, checks := decode(t, rec)
		if status != "ok" {
			t.Errorf("body status = %q, want ok", status)
		}
		if checks["store"] != "ok" || checks["stt"] != "ok" {
			t.Errorf("checks = %v", checks)
		}
	})

	t.Run("one check fails", func(t *testing.T) {
		t.Parallel()
		h := New(
			Checker{Name: "store", Check: func(context.Context) error { return nil }},
			Checker{Name: "stt", Check: func(context.Context) error {
				return errors.New("connection refused")
			}},
		)

		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
		status, checks := decode(t, rec)
		if status != "fail" {
			t.Errorf("body status = %q, want fail", status)
		}
		if checks["store"] != "ok" {
			t.Errorf("store check = %q", checks["store"])
		}
		if !strings.HasPrefix(checks["stt"], "fail: ") || !strings.Contains(checks["stt"], "connection refused") {
			t.Errorf("stt check = %q", checks["stt"])
		}
	})

	t.Run("no checkers is ready", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		New().Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New().Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
