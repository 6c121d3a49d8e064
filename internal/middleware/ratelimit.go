package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// userIDHeader is set by the gateway for authenticated traffic. When
// present it keys the limiter per submitter, so a burst of sprite
// submissions from one user cannot starve others behind the same NAT or
// proxy address.
const userIDHeader = "X-User-ID"

// tokenBucket refills continuously at limit tokens per window, holding at
// most a full window's worth as burst.
type tokenBucket struct {
	tokens   float64
	lastFill time.Time
}

// RateLimit bounds each submitter to limit requests per window, admitting
// up to the full limit as an initial burst. Buckets idle for two windows
// are swept so one-off clients do not accumulate.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var mu sync.Mutex
	buckets := make(map[string]*tokenBucket)
	rate := float64(limit) / per.Seconds()
	lastSweep := time.Now()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := submitterKey(r)
			now := time.Now()

			mu.Lock()
			if now.Sub(lastSweep) > per {
				for k, b := range buckets {
					if now.Sub(b.lastFill) > 2*per {
						delete(buckets, k)
					}
				}
				lastSweep = now
			}

			b, ok := buckets[key]
			if !ok {
				b = &tokenBucket{tokens: float64(limit), lastFill: now}
				buckets[key] = b
			}
			b.tokens += now.Sub(b.lastFill).Seconds() * rate
			if b.tokens > float64(limit) {
				b.tokens = float64(limit)
			}
			b.lastFill = now

			if b.tokens < 1 {
				mu.Unlock()
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			b.tokens--
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// submitterKey identifies the caller: the gateway-supplied user id when
// present, otherwise the client IP.
func submitterKey(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get(userIDHeader)); uid != "" {
		return "user:" + uid
	}
	return "ip:" + clientIP(r)
}

// clientIP resolves the originating address, preferring the first valid
// X-Forwarded-For entry over the transport peer.
func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
