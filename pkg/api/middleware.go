package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// corsMiddleware allows the configured dashboard origins. A "*" entry
// allows any origin.
func corsMiddleware(origins []string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if origin != "" && (allowed["*"] || allowed[origin]) {
				h := c.Response().Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				if c.Request().Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					h.Set("Access-Control-Max-Age", "600")
					return c.NoContent(http.StatusNoContent)
				}
			}
			return next(c)
		}
	}
}

// apiKeyAuth rejects requests that do not carry the configured key.
// Accepted carriers: X-API-Key header, Authorization bearer token, or an
// api_key query parameter (browser WebSocket clients cannot set headers).
func apiKeyAuth(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			presented := clientAPIKey(c)
			if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
		}
	}
}

func clientAPIKey(c *echo.Context) string {
	if k := c.Request().Header.Get("X-API-Key"); k != "" {
		return k
	}
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.QueryParam("api_key")
}

// rateLimiter is a fixed-window per-client counter. Windows are one
// minute; state for idle clients is swept when the map grows.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*clientWindow
}

type clientWindow struct {
	start time.Time
	count int
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		limit:   perMinute,
		window:  time.Minute,
		clients: make(map[string]*clientWindow),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w := rl.clients[key]
	if w == nil || now.Sub(w.start) >= rl.window {
		if len(rl.clients) > 1024 {
			rl.sweepLocked(now)
		}
		rl.clients[key] = &clientWindow{start: now, count: 1}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

func (rl *rateLimiter) sweepLocked(now time.Time) {
	for k, w := range rl.clients {
		if now.Sub(w.start) >= rl.window {
			delete(rl.clients, k)
		}
	}
}

// rateLimitMiddleware applies rl keyed by client IP.
func rateLimitMiddleware(rl *rateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !rl.allow(c.RealIP()) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
