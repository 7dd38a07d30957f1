package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-IP token-bucket rate limiter with stale-entry cleanup.
// It is a coarse flood guard in front of the per-identity counters.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	r        rate.Limit
	burst    int
}

// NewRateLimiter creates a per-IP limiter: r requests/second, burst up to burst requests.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		r:        r,
		burst:    burst,
	}
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, ok := rl.limiters[ip]; ok {
		v.lastSeen = time.Now()
		return v.limiter
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.limiters[ip] = &ipLimiter{limiter: l, lastSeen: time.Now()}
	return l
}

// Run removes entries idle for more than 10 minutes, every 5 minutes, until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.limiters {
				if time.Since(v.lastSeen) > 10*time.Minute {
					delete(rl.limiters, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Limit is the middleware handler that enforces the rate limit per client IP.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.get(ClientIP(r)).Allow() {
			writeJSONError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// trustedProxies holds the peers whose forwarding headers are believed.
// Nil trusts every peer.
var trustedProxies atomic.Pointer[[]netip.Prefix]

// SetTrustedProxies limits forwarding headers to requests whose direct peer
// falls in one of cidrs. An empty list or "*" trusts every peer. A bare
// address is treated as a single-host prefix.
func SetTrustedProxies(cidrs []string) error {
	var prefixes []netip.Prefix
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		switch {
		case c == "":
			continue
		case c == "*":
			trustedProxies.Store(nil)
			return nil
		case strings.Contains(c, "/"):
			p, err := netip.ParsePrefix(c)
			if err != nil {
				return fmt.Errorf("trusted proxy %q: %w", c, err)
			}
			prefixes = append(prefixes, p.Masked())
		default:
			a, err := netip.ParseAddr(c)
			if err != nil {
				return fmt.Errorf("trusted proxy %q: %w", c, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	if len(prefixes) == 0 {
		trustedProxies.Store(nil)
		return nil
	}
	trustedProxies.Store(&prefixes)
	return nil
}

func trustsPeer(host string) bool {
	p := trustedProxies.Load()
	if p == nil {
		return true
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, prefix := range *p {
		if prefix.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIP resolves the request origin: first X-Forwarded-For hop, then
// X-Real-Ip, then CF-Connecting-IP, then the RemoteAddr host, else "unknown".
// The headers are only read when the peer is a trusted proxy.
func ClientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if trustsPeer(peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
				return first
			}
		}
		for _, h := range []string{"X-Real-Ip", "CF-Connecting-IP"} {
			if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
				return v
			}
		}
	}
	if peer != "" {
		return peer
	}
	return "unknown"
}
