package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestRequireAPIKey_RejectsMissingKey(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/apis/app1/widgets", nil)
	rec := httptest.NewRecorder()
	requireAPIKey(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Error("expected downstream handler not to be called without a key")
	}
}

func TestRequireAPIKey_AcceptsBearerHeader(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/apis/app1/widgets", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	requireAPIKey(next).ServeHTTP(rec, req)

	if !called {
		t.Error("expected downstream handler to be called with a bearer token present")
	}
}

func TestRequireAPIKey_AcceptsQueryParam(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/apis/app1/widgets?api_key=secret-key", nil)
	rec := httptest.NewRecorder()
	requireAPIKey(next).ServeHTTP(rec, req)

	if !called {
		t.Error("expected downstream handler to be called with an api_key query param present")
	}
}

func TestHandleHealthz(t *testing.T) {
	s := New(":0", http.NotFoundHandler(), http.NotFoundHandler(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
