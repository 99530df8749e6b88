package transport

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// ConnectionRateLimiter admits new websocket subscribes by IP and
// globally, guarding the upgrade boundary against a burst of connects
// from one source or the whole fleet at once.
type ConnectionRateLimiter struct {
	mu     sync.Mutex
	perIP  map[string]*rate.Limiter
	global *rate.Limiter

	ipBurst int
	ipRate  rate.Limit
}

// NewConnectionRateLimiter creates a limiter with the given per-IP and
// global burst/sustained rates.
func NewConnectionRateLimiter(ipBurst int, ipRatePerSec float64, globalBurst int, globalRatePerSec float64) *ConnectionRateLimiter {
	return &ConnectionRateLimiter{
		perIP:   make(map[string]*rate.Limiter),
		global:  rate.NewLimiter(rate.Limit(globalRatePerSec), globalBurst),
		ipBurst: ipBurst,
		ipRate:  rate.Limit(ipRatePerSec),
	}
}

// Allow reports whether a new connection attempt from r should be
// admitted.
func (c *ConnectionRateLimiter) Allow(r *http.Request) bool {
	if !c.global.Allow() {
		return false
	}
	return c.ipLimiter(clientIP(r)).Allow()
}

func (c *ConnectionRateLimiter) ipLimiter(ip string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.perIP[ip]
	if !ok {
		l = rate.NewLimiter(c.ipRate, c.ipBurst)
		c.perIP[ip] = l
	}
	return l
}

// clientIP extracts the caller's address, preferring X-Forwarded-For
// (load balancer/proxy deployments) over RemoteAddr.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

