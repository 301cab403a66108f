package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// RateLimitConfig describes a per-caller limiter.
type RateLimitConfig struct {
	Identifier string
	Max        int
	Window     time.Duration
	// Redis shares counters between API nodes. Nil keeps them in process memory.
	Redis *redis.Client
}

// RateLimit creates a per-user rate limiter middleware instance.
func RateLimit(cfg RateLimitConfig) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}

	limiterCfg := limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			userID := ""
			if value := c.Locals("user_id"); value != nil {
				userID = strings.TrimSpace(fmt.Sprintf("%v", value))
			}
			if userID == "" {
				userID = c.IP()
			}
			return fmt.Sprintf("%s:%s", cfg.Identifier, userID)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		},
	}
	if cfg.Redis != nil {
		limiterCfg.Storage = newRedisLimiterStorage(cfg.Redis, "gema:ratelimit:")
	}

	return limiter.New(limiterCfg)
}

const limiterStorageTimeout = 2 * time.Second

// redisLimiterStorage implements fiber.Storage on top of go-redis.
type redisLimiterStorage struct {
	client *redis.Client
	prefix string
}

func newRedisLimiterStorage(client *redis.Client, prefix string) *redisLimiterStorage {
	return &redisLimiterStorage{client: client, prefix: prefix}
}

func (s *redisLimiterStorage) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), limiterStorageTimeout)
	defer cancel()

	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (s *redisLimiterStorage) Set(key string, value []byte, exp time.Duration) error {
	if key == "" || len(value) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), limiterStorageTimeout)
	defer cancel()
	return s.client.Set(ctx, s.prefix+key, value, exp).Err()
}

func (s *redisLimiterStorage) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), limiterStorageTimeout)
	defer cancel()
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *redisLimiterStorage) Reset() error {
	ctx, cancel := context.WithTimeout(context.Background(), limiterStorageTimeout)
	defer cancel()

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close is a no-op; the client belongs to the caller.
func (s *redisLimiterStorage) Close() error {
	return nil
}
