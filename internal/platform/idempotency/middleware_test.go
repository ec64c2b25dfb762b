package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nilemarket/storefront/internal/platform/requestctx"
)

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newOrderRequest(t *testing.T, sessionID, key, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if sessionID != "" {
		req = req.WithContext(requestctx.WithSessionID(req.Context(), sessionID))
	}
	return req
}

func TestMiddlewareRequiresKey(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run without a key")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest(t, "sess-1", "", `{"paymentMethod":"cod"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"orderId":"ord_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest(t, "sess-1", "key-1", `{"paymentMethod":"cod"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newOrderRequest(t, "sess-1", "key-1", `{"paymentMethod":"cod"}`))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical body, got %s vs %s", second.Body.String(), first.Body.String())
	}
}

func TestMiddlewareScopesKeysPerSession(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, session := range []string{"sess-1", "sess-2"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newOrderRequest(t, session, "shared-key", `{"paymentMethod":"cod"}`))
		if rr.Code != http.StatusCreated {
			t.Fatalf("session %s: expected 201, got %d", session, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected each session to run the handler, got %d calls", calls)
	}
}

func TestMiddlewareWithoutSessionPassesThrough(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
	}))

	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest(t, "", "key-1", `{}`))
	}
	if calls != 2 {
		t.Fatalf("expected no replay without a session, got %d calls", calls)
	}
}

func TestMiddlewareConflictingFingerprint(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest(t, "sess-1", "same-key", `{"paymentMethod":"cod"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest(t, "sess-1", "same-key", `{"paymentMethod":"card"}`))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservation(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run while the key is pending")
	}))

	req := newOrderRequest(t, "sess-1", "pending-key", `{"paymentMethod":"cod"}`)
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if _, err := store.Reserve(context.Background(), scopedKey("pending-key", "sess-1"), requestFingerprint(req, body, "sess-1"), fixedTime, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest(t, "sess-1", "retry-key", `{}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newOrderRequest(t, "sess-1", "retry-key", `{}`))

	if first.Code != http.StatusServiceUnavailable || second.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry after 503, got %d then %d (%d calls)", first.Code, second.Code, calls)
	}
}

func TestMiddlewareSaveFailureReleasesReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest(t, "sess-1", "fail-key", `{}`))

	if rr.Code != http.StatusCreated {
		t.Fatalf("handler response should still reach the client, got %d", rr.Code)
	}
	if !store.released {
		t.Fatalf("expected reservation to be released")
	}
}

func TestMiddlewareDoesNotReplaySessionToken(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Session-Token", "token")
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest(t, "sess-1", "key-1", `{}`))
	if first.Header().Get("X-Session-Token") != "token" {
		t.Fatalf("expected token on the original response")
	}
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newOrderRequest(t, "sess-1", "key-1", `{}`))
	if second.Header().Get("X-Session-Token") != "" {
		t.Fatalf("replayed response must not carry the session token")
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string) error {
	s.released = true
	return nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Success || body.Error != expected {
		t.Fatalf("expected error code %s, got %+v", expected, body)
	}
}
