package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const loginLimiterEntryTTL = 15 * time.Minute

type loginLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// loginLimiter throttles failed login attempts per key. Only failures spend
// tokens, so successful logins never count against a key. Idle entries are
// evicted on access.
type loginLimiter struct {
	perMinute int
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*loginLimiterEntry
}

// newLoginLimiter returns nil when perMinute is zero; a nil limiter allows
// everything.
func newLoginLimiter(perMinute int) *loginLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &loginLimiter{
		perMinute: perMinute,
		now:       time.Now,
		entries:   map[string]*loginLimiterEntry{},
	}
}

// loginLimiterKey scopes attempts to one identifier from one client address.
func loginLimiterKey(identifier, clientAddr string) string {
	return NormalizeEmail(identifier) + "|" + clientAddr
}

// allow reports whether key may attempt a login. It spends nothing.
func (l *loginLimiter) allow(key string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	entry, ok := l.entries[key]
	if !ok {
		return true
	}
	entry.lastSeen = now
	return entry.limiter.TokensAt(now) >= 1
}

// fail records a failed attempt for key.
func (l *loginLimiter) fail(key string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok {
		entry = &loginLimiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute),
		}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	entry.limiter.AllowN(now, 1)
}

func (l *loginLimiter) prune(now time.Time) {
	for k, v := range l.entries {
		if now.Sub(v.lastSeen) > loginLimiterEntryTTL {
			delete(l.entries, k)
		}
	}
}
