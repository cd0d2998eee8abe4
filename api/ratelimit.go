package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// ipMaxFailures is the number of consecutive failures before lockout.
	ipMaxFailures = 5
	// ipBaseLockout is the lockout after ipMaxFailures is reached.
	ipBaseLockout = 30 * time.Second
	// ipMaxLockout caps the exponential backoff.
	ipMaxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure a record is kept.
	attemptExpiry = time.Hour
)

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// ipRateLimiter tracks failed password and verification checks per source
// IP and enforces exponential backoff.
type ipRateLimiter struct {
	now func() time.Time

	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

func newIPRateLimiter(now func() time.Time) *ipRateLimiter {
	return &ipRateLimiter{
		now:      now,
		attempts: make(map[string]*attemptRecord),
	}
}

// check reports whether ip is locked out and for how long.
func (rl *ipRateLimiter) check(ip string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, ip)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure counts a failure and applies exponential backoff once
// ipMaxFailures is reached.
func (rl *ipRateLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[ip] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= ipMaxFailures {
		// ipBaseLockout * 2^(failures - ipMaxFailures)
		lockout := ipBaseLockout
		for i := 0; i < rec.failures-ipMaxFailures; i++ {
			lockout *= 2
			if lockout > ipMaxLockout {
				lockout = ipMaxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (rl *ipRateLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

// sweep removes expired records.
func (rl *ipRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(rl.attempts, ip)
		}
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	mapError(w, ErrRateLimited)
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (a *API) clientIP(r *http.Request) string {
	return extractClientIP(r, a.trustedProxies)
}

// extractClientIP returns the client IP. X-Forwarded-For and X-Real-IP are
// honored only when RemoteAddr is inside one of trustedProxies.
func extractClientIP(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	trusted := false
	if addr, err := netip.ParseAddr(remoteIP); err == nil {
		for _, prefix := range trustedProxies {
			if prefix.Contains(addr) {
				trusted = true
				break
			}
		}
	}

	if trusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}
		if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	return remoteIP
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.String(), true
}
