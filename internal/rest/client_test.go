package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-token", WithBaseURL(srv.URL))
	t.Cleanup(c.Close)
	return c
}

func writeRateLimitHeaders(w http.ResponseWriter, bucket string, remaining, limit int, resetAfter float64) {
	w.Header().Set("X-Ratelimit-Bucket", bucket)
	w.Header().Set("X-Ratelimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-Ratelimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-Ratelimit-Reset-After", strconv.FormatFloat(resetAfter, 'f', -1, 64))
}

func TestClientCreateMessage(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody CreateMessageParams

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)

		writeRateLimitHeaders(w, "abcd1234", 4, 5, 2.0)
		json.NewEncoder(w).Encode(Message{
			ID:        "111",
			ChannelID: "222",
			Content:   gotBody.Content,
		})
	})

	msg, err := c.CreateMessage(context.Background(), "222", CreateMessageParams{Content: "hello"})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if gotAuth != "Bot test-token" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotMethod != http.MethodPost || gotPath != "/channels/222/messages" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotBody.Content != "hello" {
		t.Errorf("request content = %q", gotBody.Content)
	}
	if msg.ID != "111" || msg.Content != "hello" {
		t.Errorf("response message = %+v", msg)
	}
}

func TestClientHonoursBucketHeaders(t *testing.T) {
	var hits atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		// Quota of 2 per 100ms window.
		writeRateLimitHeaders(w, "bkt", 2-int(n), 2, 0.1)
		json.NewEncoder(w).Encode(Message{ID: "m"})
	})

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.CreateMessage(ctx, "c1", CreateMessageParams{Content: "x"}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	if got := hits.Load(); got != 3 {
		t.Fatalf("server hits = %d, want 3", got)
	}
	// The third request only proceeds after the window reset.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("three requests against a quota of two finished in %v", elapsed)
	}
}

func TestClientRetriesLocal429(t *testing.T) {
	var hits atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			writeRateLimitHeaders(w, "bkt", 0, 5, 0.05)
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"message":     "You are being rate limited.",
				"retry_after": 0.05,
				"global":      false,
			})
			return
		}
		writeRateLimitHeaders(w, "bkt", 4, 5, 1.0)
		json.NewEncoder(w).Encode(Message{ID: "m2"})
	})

	start := time.Now()
	msg, err := c.CreateMessage(context.Background(), "c1", CreateMessageParams{Content: "x"})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID != "m2" {
		t.Errorf("message id = %q", msg.ID)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("retry after 429 came back in %v, want >= ~50ms", elapsed)
	}
}

func TestClientGlobal429DelaysEverything(t *testing.T) {
	var hits atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"message":     "You are being rate limited.",
				"retry_after": 0.1,
				"global":      true,
			})
			return
		}
		writeRateLimitHeaders(w, "bkt", 4, 5, 1.0)
		json.NewEncoder(w).Encode(User{ID: "u1"})
	})

	start := time.Now()
	user, err := c.GetCurrentUser(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentUser: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user id = %q", user.ID)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("globally limited request came back in %v, want >= ~100ms", elapsed)
	}
}

func TestClientAPIErrorNotRetried(t *testing.T) {
	var hits atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeRateLimitHeaders(w, "bkt", 4, 5, 1.0)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"message": "Unknown Channel",
			"code":    10003,
		})
	})

	_, err := c.GetChannel(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != 10003 || apiErr.Message != "Unknown Channel" {
		t.Errorf("api error = %+v", apiErr)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1 (4xx must not retry)", got)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeRateLimitHeaders(w, "bkt", 4, 5, 1.0)
		json.NewEncoder(w).Encode(GatewayInfo{URL: "wss://gateway.example"})
	})

	info, err := c.GetGateway(context.Background())
	if err != nil {
		t.Fatalf("GetGateway: %v", err)
	}
	if info.URL != "wss://gateway.example" {
		t.Errorf("gateway url = %q", info.URL)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-token", WithBaseURL(srv.URL), WithRetries(1))
	t.Cleanup(c.Close)

	_, err := c.GetGateway(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("unexpected error: %v", err)
	}
}
