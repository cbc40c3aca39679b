package middleware

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RemoteIP returns the host part of the socket address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IPResolver finds the client address of a request. Forwarding headers are
// only read when the socket peer is one of the trusted proxies; with none
// configured every request is keyed by RemoteIP.
type IPResolver struct {
	trusted []netip.Prefix
}

func NewIPResolver(trusted []netip.Prefix) *IPResolver {
	return &IPResolver{trusted: trusted}
}

func (p *IPResolver) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address a request came from. Behind a trusted proxy
// CF-Connecting-IP wins, then X-Real-IP, then the nearest X-Forwarded-For
// hop that is not itself a trusted proxy.
func (p *IPResolver) ClientIP(r *http.Request) string {
	peer := RemoteIP(r)
	if !p.trusts(peer) {
		return peer
	}
	for _, h := range []string{"CF-Connecting-IP", "X-Real-IP"} {
		if ip := strings.TrimSpace(r.Header.Get(h)); validIP(ip) {
			return ip
		}
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if !validIP(hop) {
			break
		}
		client = hop
		if !p.trusts(hop) {
			break
		}
	}
	return client
}

func validIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

type bucket struct {
	used    int
	resetAt time.Time
}

// Limiter counts requests per key in fixed windows, in memory.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Take spends one request of key's budget. When the budget is used up it
// returns false and the time left until the window resets.
func (l *Limiter) Take(key string, limit int, window time.Duration) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		l.buckets[key] = &bucket{used: 1, resetAt: now.Add(window)}
		return true, 0
	}
	if b.used >= limit {
		return false, b.resetAt.Sub(now)
	}
	b.used++
	return true, 0
}

// Sweep drops buckets whose window has passed and returns how many it
// removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// RateLimit allows limit requests per window for each key. Buckets are per
// route pattern, so two routes behind one Limiter keep separate budgets.
func RateLimit(l *Limiter, key func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Take(r.Pattern+"|"+key(r), limit, window)
			if !ok {
				secs := max(1, int(math.Ceil(wait.Seconds())))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
