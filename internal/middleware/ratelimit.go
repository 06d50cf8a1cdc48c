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
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Mutation limits (per agent)
	MutationMax        int
	MutationExpiration time.Duration

	// Stream connection limits (per IP)
	StreamMax        int
	StreamExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 300/min - generous for agent polling
		GlobalAPIMax:        300,
		GlobalAPIExpiration: 1 * time.Minute,

		// Mutations: 120/min per agent
		MutationMax:        120,
		MutationExpiration: 1 * time.Minute,

		// Stream: 30 connections/min per IP
		StreamMax:        30,
		StreamExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_MUTATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MutationMax = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_STREAM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.StreamMax = n
		}
	}

	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 2000
		config.StreamMax = 200
		log.Println("[RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("[RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate_limited",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// MutationRateLimiter limits write operations per authenticated agent,
// falling back to the client IP when no auth context is present.
func MutationRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.MutationMax,
		Expiration: config.MutationExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if agentID, ok := c.Locals("agent_id").(string); ok && agentID != "" {
				return "mutation:" + agentID
			}
			return "mutation:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate_limited",
				"retry_after": int(config.MutationExpiration.Seconds()),
			})
		},
	})
}

// StreamRateLimiter limits new stream connections per IP
func StreamRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.StreamMax,
		Expiration: config.StreamExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "stream:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("[RATE-LIMIT] Stream limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate_limited",
				"retry_after": int(config.StreamExpiration.Seconds()),
			})
		},
	})
}
