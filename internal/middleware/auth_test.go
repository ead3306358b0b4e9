package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mmeshcher/inntektsmelding-service/internal/service"
)

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		caller, ok := GetCallerFromContext(r.Context())
		if !ok {
			t.Fatalf("caller not in context")
		}
		if caller.Ident != "974760673" {
			t.Fatalf("ident from context = %s, want 974760673", caller.Ident)
		}
		if caller.Channel != service.ChannelEmployer {
			t.Fatalf("channel from context = %s, want EMPLOYER", caller.Channel)
		}
	})

	token := m.IssueToken(service.CallerIdentity{Ident: "974760673", Channel: service.ChannelEmployer})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_TamperedToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token := m.IssueToken(service.CallerIdentity{Ident: "fpsak", Channel: service.ChannelSystem})
	tampered := strings.Replace(token, ".SYSTEM.", ".EMPLOYER.", 1)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+tampered)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_UnknownChannel(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	if _, ok := m.parseToken("ident.OTHER.deadbeef"); ok {
		t.Fatalf("token with unknown channel must be rejected")
	}
}
