package middleware

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nimbusdeck/nimbusdeck/internal/pkg/metrics/counter"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/ratelimit"
)

// RateLimit applies the named limiter policy to a route group. Limiter
// failures allow the request through so a limiter bug cannot take the
// API down.
func RateLimit(l *ratelimit.Limiter, policy string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := allow(l, policy, ClientIdentifier(c))
		if err != nil {
			log.Printf("rate limiter failed for policy %s: %v", policy, err)
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

		if !res.Allowed {
			_ = counter.AddRateLimitHit(policy)
			retryAfter := int(time.Until(res.Reset).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "rate_limit_exceeded",
				"message": "Too many requests, please try again later",
			})
		}

		return c.Next()
	}
}

func allow(l *ratelimit.Limiter, policy, identifier string) (res ratelimit.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ratelimit panic: %v", r)
		}
	}()
	return l.Allow(policy, identifier)
}

// ClientIdentifier derives the rate-limit key from proxy headers,
// falling back to the remote address and finally "anonymous".
func ClientIdentifier(c *fiber.Ctx) string {
	if fwd := strings.TrimSpace(c.Get("X-Forwarded-For")); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			fwd = fwd[:idx]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(c.IP()); ip != "" {
		return ip
	}
	return "anonymous"
}
