package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/freekieb7/usermanager/internal/config"
	apperrors "github.com/freekieb7/usermanager/internal/errors"
)

// RateLimit defines rate limiting parameters for a specific endpoint
type RateLimit struct {
	Requests int           // Number of requests allowed
	Window   time.Duration // Time window for the requests
	KeyFunc  KeyFunction   // Function to generate the rate limiting key
	// Exceeded answers limited requests. Defaults to a plain 429.
	Exceeded http.Handler
}

// KeyFunction defines how to generate the rate limiting key from the request
type KeyFunction func(r *http.Request) string

// KeyByIP generates keys based on the address of the direct peer
var KeyByIP KeyFunction = func(r *http.Request) string {
	return GetClientIP(r)
}

// LoginRateLimit limits login attempts per client IP.
func LoginRateLimit(cfg config.RateLimit, clientIP *ClientIPResolver, exceeded http.Handler) RateLimit {
	return RateLimit{
		Requests: cfg.LoginRequests,
		Window:   cfg.WindowDuration,
		KeyFunc:  clientIP.LoginKey,
		Exceeded: exceeded,
	}
}

// ClientIPResolver finds the client address of a request. X-Forwarded-For and
// X-Real-IP are only read when the direct peer is one of the trusted proxies.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver accepts addresses ("10.0.0.1") and networks ("10.0.0.0/8").
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			prefix, err := netip.ParsePrefix(proxy)
			if err != nil {
				return nil, apperrors.ConfigError(fmt.Sprintf("invalid trusted proxy %q", proxy), err)
			}
			resolver.trusted = append(resolver.trusted, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(proxy)
		if err != nil {
			return nil, apperrors.ConfigError(fmt.Sprintf("invalid trusted proxy %q", proxy), err)
		}
		addr = addr.Unmap()
		resolver.trusted = append(resolver.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return resolver, nil
}

func (c *ClientIPResolver) isTrusted(ip string) bool {
	if c == nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the peer address, or the nearest untrusted hop of the forwarding
// headers when the peer is a trusted proxy.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	peer := GetClientIP(r)
	if !c.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			if !c.isTrusted(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if _, err := netip.ParseAddr(xri); err == nil {
			return xri
		}
	}

	return peer
}

// LoginKey is the rate limiting key of login attempts.
func (c *ClientIPResolver) LoginKey(r *http.Request) string {
	return "login:" + c.ClientIP(r)
}

// GetClientIP returns the host of RemoteAddr. Forwarding headers are ignored.
func GetClientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func setRateLimitHeaders(w http.ResponseWriter, limit RateLimit, remaining int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Window", limit.Window.String())
}

// RateLimitMiddleware creates a rate limiting middleware. Limiter failures let the
// request through.
func RateLimitMiddleware(rateLimiter RateLimiter, limit RateLimit, logger *slog.Logger) func(http.Handler) http.Handler {
	keyFunc := limit.KeyFunc
	if keyFunc == nil {
		keyFunc = KeyByIP
	}

	exceeded := limit.Exceeded
	if exceeded == nil {
		exceeded = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key := keyFunc(r)
			if key == "" {
				key = "unknown"
			}

			allowed, err := rateLimiter.Allow(ctx, key, limit.Requests, limit.Window)
			if err != nil {
				logger.WarnContext(ctx, "Rate limiter unavailable", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}

			remaining, err := rateLimiter.GetRemaining(ctx, key, limit.Requests, limit.Window)
			if err != nil {
				remaining = 0
			}
			setRateLimitHeaders(w, limit, remaining)

			if !allowed {
				logger.WarnContext(ctx, "Rate limit exceeded", "key", key, "path", r.URL.Path)
				exceeded.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
