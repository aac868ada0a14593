package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var res result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "broken", Check: func(context.Context) error {
		return errors.New("down")
	}})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if res := decode(t, rec); res.Status != "ok" {
		t.Errorf("status field = %q, want ok", res.Status)
	}
}

func TestReadyz_AllPass(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "pipeline", Check: func(context.Context) error { return nil }},
		Checker{Name: "capture", Check: func(context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	res := decode(t, rec)
	if res.Status != "ok" {
		t.Errorf("status field = %q, want ok", res.Status)
	}
	if res.Checks["pipeline"] != "ok" || res.Checks["capture"] != "ok" {
		t.Errorf("checks = %v", res.Checks)
	}
}

func TestReadyz_FailureReported(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "pipeline", Check: func(context.Context) error { return nil }},
		Checker{Name: "capture", Check: func(context.Context) error {
			return errors.New("source closed")
		}},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	res := decode(t, rec)
	if res.Status != "fail" {
		t.Errorf("status field = %q, want fail", res.Status)
	}
	if res.Checks["capture"] != "fail: source closed" {
		t.Errorf("capture check = %q", res.Checks["capture"])
	}
	if res.Checks["pipeline"] != "ok" {
		t.Errorf("pipeline check = %q", res.Checks["pipeline"])
	}
}

func TestRegister_Routes(t *testing.T) {
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
			t.Errorf("GET %s: status = %d, want 200", path, resp.StatusCode)
		}
	}
}
