package adminhttp

import (
	"errors"
	"net/http/httptest"
	"testing"
)

type fakeReadiness struct{ err error }

func (f fakeReadiness) Ready() error { return f.err }

func TestHealthz_AlwaysOK(t *testing.T) {
	r := Router("node-a", fakeReadiness{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestReadyz_ReflectsReadinessChecker(t *testing.T) {
	r := Router("node-a", fakeReadiness{err: errors.New("db down")})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/readyz", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != 503 {
		t.Fatalf("want 503 when not ready, got %d", rec.Code)
	}
}

func TestReadyz_OKWhenReady(t *testing.T) {
	r := Router("node-a", fakeReadiness{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/readyz", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("want 200 when ready, got %d", rec.Code)
	}
}
