package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestRateLimitByIP_EnforcesLimit verifies the per-IP request budget
func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	middleware := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 5})

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Make 5 successful requests
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "192.0.2.1:5000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)

		if recorder.Code != http.StatusOK {
			t.Errorf("request %d failed with status %d, expected 200", i+1, recorder.Code)
		}
	}

	// 6th request should be rate limited
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d (too many requests), got %d", http.StatusTooManyRequests, recorder.Code)
	}

	if contentType := recorder.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}
}

// TestRateLimitByIP_IsolatesClientBuckets verifies separate budgets per IP
func TestRateLimitByIP_IsolatesClientBuckets(t *testing.T) {
	middleware := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 3})

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// First client exhausts its budget
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Errorf("client A request %d failed", i+1)
		}
	}

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.10:5000"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("client A should be limited, got %d", recorder.Code)
	}

	// A different client still gets through
	req = httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.20:5000"
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Errorf("client B should have an independent budget, got status %d", recorder.Code)
	}
}

// TestRateLimitDefaults verifies OTP dispatch is limited harder than login
func TestRateLimitDefaults(t *testing.T) {
	auth := DefaultAuthRateLimit()
	otp := DefaultOTPRateLimit()

	if auth.RequestsPerMinute != 10 {
		t.Errorf("auth limit: got %d, want 10", auth.RequestsPerMinute)
	}
	if otp.RequestsPerMinute != 3 {
		t.Errorf("otp limit: got %d, want 3", otp.RequestsPerMinute)
	}
	if otp.RequestsPerMinute >= auth.RequestsPerMinute {
		t.Error("otp dispatch should be limited harder than the auth surface")
	}
}
