package ratelimit

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/testutil"
)

func newTestClock() *testutil.MockClock {
	return testutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestCheckSearch_MemberLimit(t *testing.T) {
	clock := newTestClock()
	limiter := New(&Config{
		SearchMaxPerMinute:   3,
		SearchMaxIPPerMinute: 100,
		Clock:                clock,
	})
	defer limiter.Close()

	member := "member-1"
	ip := "192.168.1.1"

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		result := limiter.Allow(KindSearch, member, ip)
		if !result.Allowed {
			t.Fatalf("Request %d should be allowed, got blocked: %s", i+1, result.Reason)
		}
	}

	clock.Advance(time.Second)
	result := limiter.Allow(KindSearch, member, ip)
	if result.Allowed {
		t.Fatal("4th search should be blocked")
	}
	if result.Reason != "minute_limit" {
		t.Errorf("Expected reason 'minute_limit', got '%s'", result.Reason)
	}
	// Window opened at the first request, 3s before the blocked one.
	if result.RetryAfter != 57*time.Second {
		t.Errorf("Expected RetryAfter 57s, got %v", result.RetryAfter)
	}

	clock.Advance(time.Minute)
	if result := limiter.Allow(KindSearch, member, ip); !result.Allowed {
		t.Errorf("Search after window should be allowed, got blocked: %s", result.Reason)
	}
}

func TestCheckWrite_IPLimit(t *testing.T) {
	clock := newTestClock()
	limiter := New(&Config{
		WriteMaxPerHour:   100,
		WriteMaxIPPerHour: 2,
		Clock:             clock,
	})
	defer limiter.Close()

	ip := "192.168.1.3"
	for i, member := range []string{"a", "b"} {
		if result := limiter.Allow(KindWrite, member, ip); !result.Allowed {
			t.Fatalf("Write %d should be allowed, got blocked: %s", i+1, result.Reason)
		}
	}

	result := limiter.Allow(KindWrite, "c", ip)
	if result.Allowed {
		t.Fatal("3rd write from the same IP should be blocked")
	}
	if result.Reason != "ip_hourly_limit" {
		t.Errorf("Expected reason 'ip_hourly_limit', got '%s'", result.Reason)
	}

	if result := limiter.Allow(KindWrite, "c", "192.168.1.4"); !result.Allowed {
		t.Errorf("Write from another IP should be allowed, got blocked: %s", result.Reason)
	}
}

func TestKindsAreIndependent(t *testing.T) {
	limiter := New(&Config{
		SearchMaxPerMinute:   1,
		SearchMaxIPPerMinute: 100,
		WriteMaxPerHour:      1,
		WriteMaxIPPerHour:    100,
		Clock:                newTestClock(),
	})
	defer limiter.Close()

	if !limiter.Allow(KindSearch, "m", "1.2.3.4").Allowed {
		t.Fatal("first search blocked")
	}
	if limiter.Allow(KindSearch, "m", "1.2.3.4").Allowed {
		t.Fatal("second search allowed")
	}
	if !limiter.Allow(KindWrite, "m", "1.2.3.4").Allowed {
		t.Fatal("search traffic consumed write quota")
	}
}

func TestMemberNormalization(t *testing.T) {
	limiter := New(&Config{
		SearchMaxPerMinute:   1,
		SearchMaxIPPerMinute: 100,
		Clock:                newTestClock(),
	})
	defer limiter.Close()

	limiter.Record(KindSearch, "  Member-7 ", "10.0.0.1")
	if result := limiter.Check(KindSearch, "member-7", "10.0.0.2"); result.Allowed {
		t.Error("Normalized member should share a counter")
	}
}

func TestZeroLimitDisablesRule(t *testing.T) {
	limiter := New(&Config{Clock: newTestClock()})
	defer limiter.Close()

	for i := 0; i < 50; i++ {
		if result := limiter.Allow(KindWrite, "m", "10.0.0.1"); !result.Allowed {
			t.Fatalf("Request %d blocked with limits disabled: %s", i+1, result.Reason)
		}
	}
}

func TestGetClientIP_TrustProxy(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trustProxy bool
		expected   string
	}{
		{
			name:       "TrustProxy=true, XFF rightmost public IP",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.1"},
			remoteAddr: "10.0.0.1:12345",
			trustProxy: true,
			expected:   "203.0.113.50",
		},
		{
			name:       "TrustProxy=true, XFF all private",
			headers:    map[string]string{"X-Forwarded-For": "192.168.1.1, 10.0.0.1"},
			remoteAddr: "10.0.0.1:12345",
			trustProxy: true,
			expected:   "10.0.0.1",
		},
		{
			name:       "TrustProxy=true, X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.51"},
			remoteAddr: "10.0.0.1:12345",
			trustProxy: true,
			expected:   "203.0.113.51",
		},
		{
			name:       "TrustProxy=false, ignores XFF",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50"},
			remoteAddr: "192.168.1.100:54321",
			trustProxy: false,
			expected:   "192.168.1.100",
		},
		{
			name:       "RemoteAddr without port",
			headers:    map[string]string{},
			remoteAddr: "192.168.1.100",
			trustProxy: false,
			expected:   "192.168.1.100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			got := GetClientIP(r, tt.trustProxy)
			if got != tt.expected {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"fc00::1", true},
		{"fe80::1", true},
		{"::ffff:192.168.1.1", true},
		{"::ffff:8.8.8.8", false},
		{"203.0.113.50", false},
		{"2001:4860:4860::8888", false},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isPrivateIP(tt.ip); got != tt.expected {
				t.Errorf("isPrivateIP(%q) = %v, want %v", tt.ip, got, tt.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	limiter := New(nil)
	defer limiter.Close()

	cfg := limiter.config
	if cfg.SearchMaxPerMinute != 60 || cfg.SearchMaxIPPerMinute != 120 {
		t.Errorf("search limits = %d/%d, want 60/120", cfg.SearchMaxPerMinute, cfg.SearchMaxIPPerMinute)
	}
	if cfg.WriteMaxPerHour != 30 || cfg.WriteMaxIPPerHour != 100 {
		t.Errorf("write limits = %d/%d, want 30/100", cfg.WriteMaxPerHour, cfg.WriteMaxIPPerHour)
	}
}

func TestLimiter_Close(t *testing.T) {
	limiter := New(nil)
	limiter.Check(KindSearch, "m", "1.2.3.4")

	done := make(chan struct{})
	go func() {
		limiter.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Close() should not hang")
	}
}

func TestConcurrentAccess(t *testing.T) {
	limiter := New(&Config{
		SearchMaxPerMinute:   1000,
		SearchMaxIPPerMinute: 1000,
		WriteMaxPerHour:      1000,
		WriteMaxIPPerHour:    1000,
		Clock:                newTestClock(),
	})
	defer limiter.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := KindSearch
			if i%2 == 0 {
				kind = KindWrite
			}
			for j := 0; j < 100; j++ {
				limiter.Allow(kind, "member", "192.168.1.1")
			}
		}(i)
	}
	wg.Wait()
	limiter.cleanup()
}
