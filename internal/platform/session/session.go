// Package session issues and verifies the long-lived shopper session tokens that key carts,
// saved addresses and orders. Tokens are HS256 JWTs whose subject is a random UUID; the subject is
// the session ID used everywhere else.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/nilemarket/storefront/internal/platform/config"
	"github.com/nilemarket/storefront/internal/platform/httpx"
	"github.com/nilemarket/storefront/internal/platform/requestctx"
)

const (
	// HeaderName carries the session token on requests and on responses that issue one.
	HeaderName = "X-Session-Token"
	issuer     = "storefront"
	minKeySize = 32
)

var (
	// ErrInvalidToken covers malformed, expired, or foreign-signed tokens.
	ErrInvalidToken = errors.New("session: invalid token")
)

// Manager issues and verifies session tokens.
type Manager struct {
	key        []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
	newID      func() string
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager validates cfg and constructs a Manager.
func NewManager(cfg config.SessionConfig, opts ...Option) (*Manager, error) {
	if len(cfg.SigningKey) < minKeySize {
		return nil, fmt.Errorf("session: signing key must be at least %d bytes", minKeySize)
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	cookie := strings.TrimSpace(cfg.CookieName)
	if cookie == "" {
		return nil, errors.New("session: cookie name is required")
	}
	m := &Manager{
		key:        []byte(cfg.SigningKey),
		ttl:        cfg.TTL,
		cookieName: cookie,
		secure:     cfg.Secure,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Issue creates a new session and returns its signed token and ID.
func (m *Manager) Issue() (token string, sessionID string, err error) {
	sessionID = m.newID()
	now := m.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", "", fmt.Errorf("session: sign token: %w", err)
	}
	return token, sessionID, nil
}

// Verify returns the session ID carried by token.
func (m *Manager) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !claims.VerifyIssuer(issuer, true) {
		return "", fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}
	if !claims.VerifyExpiresAt(m.now(), true) {
		return "", fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: subject is not a session id", ErrInvalidToken)
	}
	return id.String(), nil
}

// Middleware resolves the session token from the header or cookie. A missing token continues with
// no session; a present but invalid token is rejected with 401.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.tokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		sessionID, err := m.Verify(token)
		if err != nil {
			m.expireCookie(w)
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_session", "session token is invalid or expired", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithSessionID(r.Context(), sessionID)))
	})
}

// Ensure returns the request's session, issuing one when the caller has none yet. Newly issued
// tokens are returned in the response header and cookie, so call it before writing the body.
func (m *Manager) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if sessionID := requestctx.SessionID(r.Context()); sessionID != "" {
		return sessionID, nil
	}
	token, sessionID, err := m.Issue()
	if err != nil {
		return "", err
	}
	w.Header().Set(HeaderName, token)
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  m.now().Add(m.ttl),
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	// Fills the slot installed by the observability middleware, if any.
	_ = requestctx.WithSessionID(r.Context(), sessionID)
	return sessionID, nil
}

func (m *Manager) tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(HeaderName)); token != "" {
		return token
	}
	if cookie, err := r.Cookie(m.cookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func (m *Manager) expireCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
