package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, origins []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	handler := CORS(origins, "X-TruthGuard-Session-ID")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(method, "/api/session/messages", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, reached
}

func TestCORSExplicitOrigin(t *testing.T) {
	rec, reached := corsRequest(t, []string{"http://localhost:3000"}, http.MethodGet, "http://localhost:3000")

	if !reached {
		t.Fatal("expected request to reach handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials for explicit origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-TruthGuard-Session-ID" {
		t.Fatalf("unexpected allow headers %q", got)
	}
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	rec, _ := corsRequest(t, []string{"*"}, http.MethodGet, "http://evil.example")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://evil.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("wildcard must not allow credentials, got %q", got)
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	rec, reached := corsRequest(t, []string{"http://localhost:3000"}, http.MethodGet, "http://other.example")

	if !reached {
		t.Fatal("expected request to reach handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin, got %q", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec, reached := corsRequest(t, []string{"http://localhost:3000"}, http.MethodOptions, "http://localhost:3000")

	if reached {
		t.Fatal("preflight must not reach handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
