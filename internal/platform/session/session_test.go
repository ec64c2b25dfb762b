package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/nilemarket/storefront/internal/platform/config"
	"github.com/nilemarket/storefront/internal/platform/requestctx"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(config.SessionConfig{SigningKey: testKey, TTL: time.Hour, CookieName: "sf_session", Secure: true}, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerValidatesConfig(t *testing.T) {
	cases := []config.SessionConfig{
		{SigningKey: "short", TTL: time.Hour, CookieName: "sf_session"},
		{SigningKey: testKey, CookieName: "sf_session"},
		{SigningKey: testKey, TTL: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager(t)
	token, sessionID, err := m.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != sessionID {
		t.Fatalf("expected %s, got %s", sessionID, got)
	}
}

func TestVerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	m := newTestManager(t)

	other, err := NewManager(config.SessionConfig{SigningKey: strings.Repeat("z", 32), TTL: time.Hour, CookieName: "sf_session"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	foreign, _, _ := other.Issue()
	if _, err := m.Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign token to be rejected, got %v", err)
	}

	past := newTestManager(t, WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }))
	expired, _, _ := past.Issue()
	if _, err := m.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	nonUUID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testKey))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(nonUUID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected non-uuid subject to be rejected, got %v", err)
	}

	none := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiIxIn0."
	if _, err := m.Verify(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg=none to be rejected, got %v", err)
	}
}

func TestMiddlewareResolvesHeaderAndCookie(t *testing.T) {
	m := newTestManager(t)
	token, sessionID, _ := m.Issue()

	var seen string
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestctx.SessionID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(HeaderName, token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != sessionID {
		t.Fatalf("expected header session %s, got %q", sessionID, seen)
	}

	seen = ""
	req = httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: "sf_session", Value: token})
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != sessionID {
		t.Fatalf("expected cookie session %s, got %q", sessionID, seen)
	}

	seen = "unset"
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if seen != "" {
		t.Fatalf("expected no session without token, got %q", seen)
	}
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	m := newTestManager(t)
	handler := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(HeaderName, "tampered")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatalf("expected cookie to be cleared, got %q", rec.Header().Get("Set-Cookie"))
	}
}

func TestEnsureIssuesOnce(t *testing.T) {
	m := newTestManager(t, WithIDGenerator(func() string { return "6f1b2a52-4c0e-4f3a-9a55-3b0f7d9d2a11" }))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil)
	req = req.WithContext(requestctx.WithSessionSlot(req.Context()))
	rec := httptest.NewRecorder()

	sessionID, err := m.Ensure(rec, req)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sessionID != "6f1b2a52-4c0e-4f3a-9a55-3b0f7d9d2a11" {
		t.Fatalf("unexpected session id %s", sessionID)
	}
	token := rec.Header().Get(HeaderName)
	if token == "" {
		t.Fatalf("expected token header")
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "sf_session=") {
		t.Fatalf("expected session cookie")
	}
	if requestctx.SessionID(req.Context()) != sessionID {
		t.Fatalf("expected issued session recorded on request context")
	}

	again := httptest.NewRecorder()
	if id, _ := m.Ensure(again, req); id != sessionID {
		t.Fatalf("expected existing session to be reused")
	}
	if again.Header().Get(HeaderName) != "" {
		t.Fatalf("expected no new token for existing session")
	}
}
