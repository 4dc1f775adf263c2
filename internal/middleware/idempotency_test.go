package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func depositHandler(calls *int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Call", string(rune('0'+n)))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})
}

func post(key, account, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/positions", bytes.NewReader([]byte(body)))
	req.RemoteAddr = "10.0.0.1:5000"
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if account != "" {
		req = req.WithContext(context.WithValue(req.Context(), AccountKey, account))
	}
	return req
}

// ============================================================================
// Key Tests
// ============================================================================

func TestGenerateKey(t *testing.T) {
	t.Parallel()

	base := generateKey("alice", "k1", http.MethodPost, "/v1/positions", []byte(`{"amount":"10"}`))
	if base != generateKey("alice", "k1", http.MethodPost, "/v1/positions", []byte(`{"amount":"10"}`)) {
		t.Error("same inputs must produce the same key")
	}
	if len(base) != 64 {
		t.Errorf("expected 32-byte hex digest, got %d chars", len(base))
	}

	variants := []string{
		generateKey("bob", "k1", http.MethodPost, "/v1/positions", []byte(`{"amount":"10"}`)),
		generateKey("alice", "k2", http.MethodPost, "/v1/positions", []byte(`{"amount":"10"}`)),
		generateKey("alice", "k1", http.MethodPatch, "/v1/positions", []byte(`{"amount":"10"}`)),
		generateKey("alice", "k1", http.MethodPost, "/v1/pods", []byte(`{"amount":"10"}`)),
		generateKey("alice", "k1", http.MethodPost, "/v1/positions", []byte(`{"amount":"11"}`)),
		// field boundaries are separated
		generateKey("alicek", "1", http.MethodPost, "/v1/positions", []byte(`{"amount":"10"}`)),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base key", i)
		}
	}
}

// ============================================================================
// Middleware Tests
// ============================================================================

func TestIdempotency_ReplaysCachedResponse(t *testing.T) {
	t.Parallel()
	store := NewIdempotencyStore(IdempotencyConfig{TTL: time.Hour})
	defer store.Stop()

	var calls int32
	handler := Idempotency(store)(depositHandler(&calls))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, post("dep-1", "alice", `{"amount":"10"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, post("dep-1", "alice", `{"amount":"10"}`))

	if calls != 1 {
		t.Fatalf("deposit should run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != `{"amount":"10"}` {
		t.Errorf("replay mismatch: %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Error("replay should be flagged")
	}
	if second.Header().Get("X-Call") != "1" {
		t.Error("replay should carry the original headers")
	}
}

func TestIdempotency_PassThrough(t *testing.T) {
	t.Parallel()
	store := NewIdempotencyStore(IdempotencyConfig{TTL: time.Hour})
	defer store.Stop()

	var calls int32
	handler := Idempotency(store)(depositHandler(&calls))

	// no key
	handler.ServeHTTP(httptest.NewRecorder(), post("", "alice", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), post("", "alice", `{}`))
	// GET is never cached
	get := httptest.NewRequest(http.MethodGet, "/v1/positions", nil)
	get.Header.Set("Idempotency-Key", "k")
	handler.ServeHTTP(httptest.NewRecorder(), get)
	handler.ServeHTTP(httptest.NewRecorder(), get)

	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestIdempotency_ScopedPerAccount(t *testing.T) {
	t.Parallel()
	store := NewIdempotencyStore(IdempotencyConfig{TTL: time.Hour})
	defer store.Stop()

	var calls int32
	handler := Idempotency(store)(depositHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), post("same", "alice", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), post("same", "bob", `{}`))
	// Anonymous callers fall back to remote address
	handler.ServeHTTP(httptest.NewRecorder(), post("same", "", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), post("same", "", `{}`))

	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestIdempotency_RestoresBody(t *testing.T) {
	t.Parallel()
	store := NewIdempotencyStore(IdempotencyConfig{TTL: time.Hour})
	defer store.Stop()

	var calls int32
	rr := httptest.NewRecorder()
	Idempotency(store)(depositHandler(&calls)).ServeHTTP(rr, post("k", "alice", `{"plan":"6m"}`))

	if rr.Body.String() != `{"plan":"6m"}` {
		t.Errorf("handler should see the full body, got %q", rr.Body.String())
	}
}

func TestIdempotency_InFlightWaits(t *testing.T) {
	t.Parallel()
	store := NewIdempotencyStore(IdempotencyConfig{TTL: time.Hour})
	defer store.Stop()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		w.WriteHeader(http.StatusCreated)
	})
	handler := Idempotency(store)(slow)

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, 2)
	for i := range results {
		results[i] = httptest.NewRecorder()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		handler.ServeHTTP(results[0], post("claim-1", "alice", `{}`))
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		handler.ServeHTTP(results[1], post("claim-1", "alice", `{}`))
	}()
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("claim should run once, ran %d", calls)
	}
	if results[1].Code != http.StatusCreated || results[1].Header().Get("X-Idempotency-Replayed") != "true" {
		t.Errorf("waiting request should replay, got %d", results[1].Code)
	}
}

func TestIdempotency_ExpiredEntryRunsAgain(t *testing.T) {
	t.Parallel()
	store := NewIdempotencyStore(IdempotencyConfig{TTL: time.Millisecond})
	defer store.Stop()

	var calls int32
	handler := Idempotency(store)(depositHandler(&calls))
	handler.ServeHTTP(httptest.NewRecorder(), post("k", "alice", `{}`))
	time.Sleep(5 * time.Millisecond)
	handler.ServeHTTP(httptest.NewRecorder(), post("k", "alice", `{}`))

	if calls != 2 {
		t.Errorf("expired entry should not replay, got %d calls", calls)
	}

	time.Sleep(5 * time.Millisecond)
	store.cleanup()
	store.mu.RLock()
	defer store.mu.RUnlock()
	if len(store.entries) != 0 {
		t.Errorf("cleanup should drop expired entries, %d left", len(store.entries))
	}
}
