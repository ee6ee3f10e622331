package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP) across all API endpoints
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Ingestion limits (per IP): pushes and reasoning submissions
	IngestMax        int
	IngestExpiration time.Duration

	// Search limits (per IP): each search fans out to LLM calls
	SearchMax        int
	SearchExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		IngestMax:        60,
		IngestExpiration: 1 * time.Minute,

		SearchMax:        20,
		SearchExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads limits from env vars with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	cfg := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_MAX"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.GlobalAPIMax = parsed
		}
	}
	if v := os.Getenv("RATE_LIMIT_INGEST_MAX"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.IngestMax = parsed
		}
	}
	if v := os.Getenv("RATE_LIMIT_SEARCH_MAX"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.SearchMax = parsed
		}
	}

	return cfg
}

// GlobalLimiter limits all API traffic per IP
func GlobalLimiter(cfg *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.GlobalAPIMax,
		Expiration: cfg.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: limitReached("global"),
	})
}

// IngestLimiter limits push/reasoning ingestion per IP
func IngestLimiter(cfg *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.IngestMax,
		Expiration: cfg.IngestExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ingest:" + c.IP()
		},
		LimitReached: limitReached("ingest"),
	})
}

// SearchLimiter limits semantic search per IP
func SearchLimiter(cfg *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.SearchMax,
		Expiration: cfg.SearchExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "search:" + c.IP()
		},
		LimitReached: limitReached("search"),
	})
}

func limitReached(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		log.Printf("⚠️ [RATELIMIT] %s limit reached for %s on %s", scope, c.IP(), c.Path())
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Rate limit exceeded. Slow down and retry shortly.",
		})
	}
}
