package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const otpRateLimitPrefix = "rl:otp:"

// OTPRateLimit caps how many one-time codes an account can request per minute.
// The account is read from the "from" or "address" body field, falling back
// to the client IP. Without Redis the limiter is a no-op and on cache errors
// it lets the request through.
func OTPRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			From    string `json:"from"`
			Address string `json:"address"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.From))
		if subject == "" {
			subject = strings.ToLower(strings.TrimSpace(req.Address))
		}
		if subject == "" {
			subject = c.IP()
		}

		key := otpRateLimitPrefix + subject
		ctx := c.UserContext()
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("otp rate limit unavailable", slog.String("subject", subject), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(ctx, key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many one-time code requests, try again later")
		}
		return c.Next()
	}
}
