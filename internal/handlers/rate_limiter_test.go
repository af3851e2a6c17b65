package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFixedWindowLimiter(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("customer:c1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, wait := limiter.Allow("customer:c1")
	if ok {
		t.Fatalf("third request should be limited")
	}
	if wait != time.Minute {
		t.Fatalf("expected full window wait, got %s", wait)
	}
	if ok, _ := limiter.Allow("customer:c2"); !ok {
		t.Fatalf("other keys have their own window")
	}

	now = now.Add(time.Minute)
	if ok, _ := limiter.Allow("customer:c1"); !ok {
		t.Fatalf("window should reset")
	}
}

func TestNewSimpleRateLimiter_Disabled(t *testing.T) {
	if newSimpleRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("zero limit should disable the limiter")
	}
	if newSimpleRateLimiter(5, 0, nil) != nil {
		t.Fatalf("zero window should disable the limiter")
	}
}

func TestWebhookRateLimit(t *testing.T) {
	handler := WebhookRateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/carrier/delivery", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected first delivery to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/carrier/delivery", nil)
	req.RemoteAddr = "10.0.0.1:5001"
	handler.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	other := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/carrier/delivery", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	handler.ServeHTTP(other, req)
	if other.Code != http.StatusNoContent {
		t.Fatalf("expected other client to pass, got %d", other.Code)
	}
}
