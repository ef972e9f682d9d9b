package speech

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestWarmFiresOnceAndForgets(t *testing.T) {
	var mu sync.Mutex
	var requests []synthesizeRequest
	done := make(chan struct{}, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		var sr synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&sr); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		mu.Lock()
		requests = append(requests, sr)
		mu.Unlock()
		done <- struct{}{}
	}))
	defer srv.Close()

	c := NewWithBaseURL("key", "nova", srv.URL)

	c.Warm("call-1", 1, "Could I get your full name, please?")
	c.Warm("call-1", 1, "Could I get your full name, please?") // duplicate, skipped

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("synthesis request never arrived")
	}

	// Allow a duplicate request a moment to (wrongly) arrive.
	select {
	case <-done:
		t.Fatal("duplicate warm fired a second request")
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	if len(requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(requests))
	}
	if requests[0].Voice != "nova" || requests[0].Text == "" {
		t.Fatalf("request = %+v", requests[0])
	}
	mu.Unlock()

	c.Forget("call-1")
	c.Warm("call-1", 1, "Could I get your full name, please?")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warm after Forget never fired")
	}
}

func TestWarmNoopWithoutKey(t *testing.T) {
	c := NewWithBaseURL("", "nova", "http://127.0.0.1:1")
	c.Warm("call-1", 1, "hello")
	if len(c.warmed) != 0 {
		t.Fatal("warm recorded a key with no api key configured")
	}
}

func TestCacheKeyStableAndDistinct(t *testing.T) {
	a := CacheKey("call-1", 2, "hello")
	if a != CacheKey("call-1", 2, "hello") {
		t.Fatal("cache key not stable")
	}
	for _, other := range []string{
		CacheKey("call-2", 2, "hello"),
		CacheKey("call-1", 3, "hello"),
		CacheKey("call-1", 2, "goodbye"),
	} {
		if a == other {
			t.Fatalf("cache key collision: %q", a)
		}
	}
}
