package middleware

import (
	"sync"
	"time"
)

const (
	authMaxFailures    = 5
	authWindowDuration = time.Minute
	authCleanupPeriod  = 5 * time.Minute
)

type authFailures struct {
	count       int
	windowStart time.Time
}

// AuthFailureLimiter locks a client out after repeated bad operator tokens.
// Successful requests are never counted.
type AuthFailureLimiter struct {
	mu          sync.Mutex
	failures    map[string]*authFailures
	lastCleanup time.Time
	now         func() time.Time
}

func NewAuthFailureLimiter() *AuthFailureLimiter {
	return &AuthFailureLimiter{
		failures:    make(map[string]*authFailures),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *AuthFailureLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < authCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, f := range l.failures {
		if now.Sub(f.windowStart) > authWindowDuration {
			delete(l.failures, ip)
		}
	}
}

// Blocked reports whether ip has used up its failures for the current window.
func (l *AuthFailureLimiter) Blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	f, ok := l.failures[ip]
	if !ok || now.Sub(f.windowStart) > authWindowDuration {
		return false
	}
	return f.count >= authMaxFailures
}

func (l *AuthFailureLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	f, ok := l.failures[ip]
	if !ok || now.Sub(f.windowStart) > authWindowDuration {
		l.failures[ip] = &authFailures{count: 1, windowStart: now}
		return
	}
	f.count++
}
