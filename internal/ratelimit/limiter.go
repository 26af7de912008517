// Package ratelimit throttles member search and reservation writes on the club
// simulator.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

// realClock implements Clock using the system time.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Kind separates request classes so search traffic cannot starve bookings.
type Kind string

const (
	KindSearch Kind = "search"
	KindWrite  Kind = "write"
)

// Config holds rate limit configuration.
type Config struct {
	// Search limits, per minute
	SearchMaxPerMinute   int // Max member searches per member (default: 60)
	SearchMaxIPPerMinute int // Max member searches per IP (default: 120)

	// Write limits, per hour
	WriteMaxPerHour   int // Max reservation creates/cancels per member (default: 30)
	WriteMaxIPPerHour int // Max reservation creates/cancels per IP (default: 100)

	// Clock for testing (nil uses real time)
	Clock Clock
}

// DefaultConfig returns the simulator defaults.
func DefaultConfig() *Config {
	return &Config{
		SearchMaxPerMinute:   60,
		SearchMaxIPPerMinute: 120,
		WriteMaxPerHour:      30,
		WriteMaxIPPerHour:    100,
	}
}

// LimitResult contains the result of a rate limit check.
type LimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string // For logging
}

// entry tracks request counts in a fixed window.
type entry struct {
	count   int
	firstAt time.Time
	lastAt  time.Time
}

type rule struct {
	window      time.Duration
	perMember   int
	perIP       int
	memberLabel string
	ipLabel     string
}

// Limiter counts requests per member and per client IP in fixed windows.
type Limiter struct {
	config *Config
	clock  Clock
	mu     sync.RWMutex
	// Keyed by kind, then member or IP
	byMember map[Kind]map[string]*entry
	byIP     map[Kind]map[string]*entry

	// Cleanup goroutine management
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupOnce   sync.Once
	cleanupWg     sync.WaitGroup
}

// New creates a new rate limiter with the given config.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Limiter{
		config:        cfg,
		clock:         clock,
		byMember:      map[Kind]map[string]*entry{KindSearch: {}, KindWrite: {}},
		byIP:          map[Kind]map[string]*entry{KindSearch: {}, KindWrite: {}},
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
}

// Close stops the cleanup goroutine and releases resources.
func (l *Limiter) Close() {
	l.cleanupCancel()
	l.cleanupWg.Wait()
}

func (l *Limiter) rule(kind Kind) rule {
	if kind == KindWrite {
		return rule{
			window:      time.Hour,
			perMember:   l.config.WriteMaxPerHour,
			perIP:       l.config.WriteMaxIPPerHour,
			memberLabel: "hourly_limit",
			ipLabel:     "ip_hourly_limit",
		}
	}
	return rule{
		window:      time.Minute,
		perMember:   l.config.SearchMaxPerMinute,
		perIP:       l.config.SearchMaxIPPerMinute,
		memberLabel: "minute_limit",
		ipLabel:     "ip_minute_limit",
	}
}

// Check reports whether a request of kind is allowed. It does not record the
// request; call Record once the request was accepted.
func (l *Limiter) Check(kind Kind, member, ip string) LimitResult {
	l.startCleanup()
	now := l.clock.Now()
	r := l.rule(kind)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if e := l.byMember[kind][normalizeMember(member)]; e != nil && r.perMember > 0 {
		if now.Sub(e.firstAt) < r.window && e.count >= r.perMember {
			return LimitResult{RetryAfter: r.window - now.Sub(e.firstAt), Reason: r.memberLabel}
		}
	}
	if e := l.byIP[kind][ip]; e != nil && r.perIP > 0 {
		if now.Sub(e.firstAt) < r.window && e.count >= r.perIP {
			return LimitResult{RetryAfter: r.window - now.Sub(e.firstAt), Reason: r.ipLabel}
		}
	}
	return LimitResult{Allowed: true}
}

// Record counts one request of kind.
func (l *Limiter) Record(kind Kind, member, ip string) {
	now := l.clock.Now()
	r := l.rule(kind)

	l.mu.Lock()
	defer l.mu.Unlock()

	bump(l.byMember[kind], normalizeMember(member), now, r.window)
	bump(l.byIP[kind], ip, now, r.window)
}

// Allow checks and, when allowed, records in one step.
func (l *Limiter) Allow(kind Kind, member, ip string) LimitResult {
	result := l.Check(kind, member, ip)
	if result.Allowed {
		l.Record(kind, member, ip)
	}
	return result
}

func bump(entries map[string]*entry, key string, now time.Time, window time.Duration) {
	if key == "" {
		return
	}
	e := entries[key]
	if e == nil || now.Sub(e.firstAt) >= window {
		entries[key] = &entry{count: 1, firstAt: now, lastAt: now}
		return
	}
	e.count++
	e.lastAt = now
}

func normalizeMember(member string) string {
	return strings.ToLower(strings.TrimSpace(member))
}

func (l *Limiter) startCleanup() {
	l.cleanupOnce.Do(func() {
		l.cleanupWg.Add(1)
		go func() {
			defer l.cleanupWg.Done()
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-l.cleanupCtx.Done():
					return
				case <-ticker.C:
					l.cleanup()
				}
			}
		}()
	})
}

func (l *Limiter) cleanup() {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, kind := range []Kind{KindSearch, KindWrite} {
		window := l.rule(kind).window
		for k, e := range l.byMember[kind] {
			if now.Sub(e.lastAt) > window {
				delete(l.byMember[kind], k)
			}
		}
		for k, e := range l.byIP[kind] {
			if now.Sub(e.lastAt) > window {
				delete(l.byIP[kind], k)
			}
		}
	}
}

// GetClientIP extracts the client IP from a request.
// When trustProxy is true, uses the rightmost public IP from X-Forwarded-For.
// When trustProxy is false, ignores X-Forwarded-For entirely.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !isPrivateIP(ip) {
					return ip
				}
			}
			return strings.TrimSpace(parts[len(parts)-1])
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

var privateNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid private CIDR: " + cidr)
		}
		out = append(out, network)
	}
	return out
}

// isPrivateIP handles IPv4, IPv6 and IPv4-mapped IPv6 addresses.
func isPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// LogRateLimitExceeded logs a rate limit event.
func LogRateLimitExceeded(kind Kind, member, ip, reason string) {
	log.Warn().
		Str("event", "rate_limit_exceeded").
		Str("type", string(kind)).
		Str("member", member).
		Str("ip", ip).
		Str("reason", reason).
		Msg("Club simulator rate limit exceeded")
}
