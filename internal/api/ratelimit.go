package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter housekeeping.
const (
	limiterIdleTTL       = 5 * time.Minute
	limiterPruneInterval = time.Minute
)

// ipLimiter is a token bucket per client IP.
//
// Thread Safety: safe for concurrent use.
type ipLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*ipBucket
}

type ipBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newIPLimiter allows perMinute requests per IP with the given burst.
func newIPLimiter(perMinute, burst int) *ipLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		buckets: make(map[string]*ipBucket),
	}
}

// allow consumes a token for ip and reports whether one was available.
func (l *ipLimiter) allow(ip string) bool {
	return l.allowAt(ip, time.Now())
}

func (l *ipLimiter) allowAt(ip string, now time.Time) bool {
	if ip == "" {
		ip = "unknown"
	}

	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// prune drops buckets idle for longer than limiterIdleTTL.
func (l *ipLimiter) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, ip)
		}
	}
}

// size returns the number of tracked IPs.
func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// pruneLoop runs prune periodically until the context is cancelled.
func (l *ipLimiter) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.prune(now)
		}
	}
}

// clientIP returns the host part of the connection's remote address.
// Forwarding headers are ignored since any client can set them.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
