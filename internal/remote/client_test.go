package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:         srv.URL,
		APIKey:          "test-key",
		ProfileID:       "abc123",
		CallTimeout:     2 * time.Second,
		RetryMax:        3,
		RateLimitCount:  1000,
		RateLimitWindow: time.Second,
		CacheTTL:        50 * time.Millisecond,
	})
	return c, &calls
}

func TestGetDenylist_CachesAndInvalidatesOnMutation(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/profiles/abc123/denylist":
			json.NewEncoder(w).Encode(listResponse{Data: []listItem{{ID: "reddit.com", Active: true}}})
		case r.Method == http.MethodPost && r.URL.Path == "/profiles/abc123/denylist":
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()
	list, err := c.GetDenylist(ctx)
	if err != nil {
		t.Fatalf("GetDenylist: %v", err)
	}
	if len(list) != 1 || list[0] != "reddit.com" {
		t.Fatalf("unexpected list: %v", list)
	}

	if _, err := c.GetDenylist(ctx); err != nil {
		t.Fatalf("second GetDenylist: %v", err)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected cached second read, got %d calls", atomic.LoadInt32(calls))
	}

	if err := c.AddDeny(ctx, "bumble.com"); err != nil {
		t.Fatalf("AddDeny: %v", err)
	}
	if _, err := c.GetDenylist(ctx); err != nil {
		t.Fatalf("GetDenylist after invalidation: %v", err)
	}
	if atomic.LoadInt32(calls) != 3 {
		t.Fatalf("expected a fresh GET after invalidation, got %d calls", atomic.LoadInt32(calls))
	}
}

func TestAddDeny_RejectsInvalidDomain(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := c.AddDeny(context.Background(), "not a domain"); err == nil {
		t.Fatal("expected invalid domain error")
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("expected no HTTP call for an invalid domain, got %d", atomic.LoadInt32(calls))
	}
}

func TestDo_PermanentOn404(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	err := c.AddDeny(context.Background(), "x.com")
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *PermanentError
	if !asPermanentError(err, &pe) {
		t.Fatalf("expected *PermanentError, got %v (%T)", err, err)
	}
}

func asPermanentError(err error, target **PermanentError) bool {
	if pe, ok := err.(*PermanentError); ok {
		*target = pe
		return true
	}
	return false
}

func TestDo_RetriesThenSucceedsOn500(t *testing.T) {
	var attempt int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempt, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	start := time.Now()
	err := c.AddDeny(context.Background(), "x.com")
	if err != nil {
		t.Fatalf("AddDeny: %v", err)
	}
	if atomic.LoadInt32(calls) != 3 {
		t.Fatalf("expected 2 failed attempts + 1 success, got %d calls", atomic.LoadInt32(calls))
	}
	if time.Since(start) < 1*time.Second {
		t.Errorf("expected backoff to introduce delay between retries")
	}
}

func TestDo_TransientAfterExhaustingRetries(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := c.AddDeny(context.Background(), "x.com")
	if err == nil {
		t.Fatal("expected error")
	}
	var te *TransientError
	if !asTransientError(err, &te) {
		t.Fatalf("expected *TransientError, got %v (%T)", err, err)
	}
	if atomic.LoadInt32(calls) != 4 {
		t.Fatalf("expected RetryMax=3 retries (4 attempts total), got %d", atomic.LoadInt32(calls))
	}
}

func asTransientError(err error, target **TransientError) bool {
	if te, ok := err.(*TransientError); ok {
		*target = te
		return true
	}
	return false
}

func TestRateLimiter_BlocksOverCapacity(t *testing.T) {
	l := NewLimiter(2, 200*time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Error("expected the third acquisition to block for roughly one window")
	}
}

func TestRateLimiter_RespectsContextCancellation(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(cctx); err == nil {
		t.Fatal("expected context deadline to abort the wait")
	}
}
