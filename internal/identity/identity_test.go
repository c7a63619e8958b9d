package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithIdentity(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var userID, sessionID string
	handler := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		sessionID = SessionIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, userID, sessionID
}

func TestMiddlewareIssuesAnonCookie(t *testing.T) {
	rec, userID, sessionID := serveWithIdentity(t, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	if !isValidAnonID(userID) {
		t.Fatalf("expected generated anon id, got %q", userID)
	}
	if sessionID != DefaultSessionIDValue {
		t.Fatalf("expected default session, got %q", sessionID)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != userID {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}
	if cookies[0].Secure {
		t.Fatal("cookie should not be secure in development")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	existing := "anon_0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})

	_, userID, _ := serveWithIdentity(t, req)
	if userID != existing {
		t.Fatalf("expected %q, got %q", existing, userID)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin"})

	_, userID, _ := serveWithIdentity(t, req)
	if userID == "admin" || !isValidAnonID(userID) {
		t.Fatalf("expected fresh anon id, got %q", userID)
	}
}

func TestSessionIDSources(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "header", header: "tab-1", want: "tab-1"},
		{name: "query", query: "tab-2", want: "tab-2"},
		{name: "header wins", header: "tab-1", query: "tab-2", want: "tab-1"},
		{name: "invalid chars", header: "a b<c>", want: DefaultSessionIDValue},
		{name: "colon rejected", header: "x:y", want: DefaultSessionIDValue},
		{name: "missing", want: DefaultSessionIDValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/session/messages"
			if tt.query != "" {
				target += "?" + SessionQueryParam + "=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set(SessionHeaderName, tt.header)
			}

			_, _, got := serveWithIdentity(t, req)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestWithIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), "cli", "  ")
	if UserIDFromContext(ctx) != "cli" {
		t.Fatalf("unexpected user id %q", UserIDFromContext(ctx))
	}
	if SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Fatalf("unexpected session id %q", SessionIDFromContext(ctx))
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := IPFromRequest(req); got != "10.0.0.7" {
		t.Fatalf("expected 10.0.0.7, got %q", got)
	}
	req.RemoteAddr = "pipe"
	if got := IPFromRequest(req); got != "pipe" {
		t.Fatalf("expected raw addr, got %q", got)
	}
}
