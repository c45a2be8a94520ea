package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"go.uber.org/zap"
)

// AttemptStore is the slice of the Redis cache used for login throttling.
type AttemptStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	IncrementWithExpiry(ctx context.Context, key string, expiration time.Duration) (int64, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const attemptWindow = 15 * time.Minute

// BruteForceProtection locks out IPs after repeated failed logins. Every
// method is a no-op on a nil receiver, and store errors let requests through.
type BruteForceProtection struct {
	store AttemptStore
	log   *zap.Logger
}

// NewBruteForceProtection creates a new brute force protection instance
func NewBruteForceProtection(store AttemptStore, log *zap.Logger) *BruteForceProtection {
	if log == nil {
		log = zap.NewNop()
	}
	return &BruteForceProtection{store: store, log: log}
}

func attemptKey(ip string) string { return fmt.Sprintf("brute_force:attempts:%s", ip) }
func lockKey(ip string) string    { return fmt.Sprintf("brute_force:lock:%s", ip) }

// CheckLock rejects requests from locked IPs
func (b *BruteForceProtection) CheckLock() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if b == nil {
			return c.Next()
		}

		ip := c.IP()
		locked, err := b.store.Exists(c.UserContext(), lockKey(ip))
		if err != nil {
			b.log.Warn("brute force check failed, allowing request", zap.String("ip", ip), zap.Error(err))
			return c.Next()
		}

		if locked {
			ttl, _ := b.store.TTL(c.UserContext(), lockKey(ip))
			retryAfter := int(ttl.Seconds())
			if retryAfter <= 0 {
				retryAfter = 60
			}

			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return response.TooManyRequests(c, fmt.Sprintf("Too many failed attempts. Try again in %d seconds", retryAfter))
		}

		return c.Next()
	}
}

// RecordFailedAttempt counts a failed login and applies progressive lockouts
func (b *BruteForceProtection) RecordFailedAttempt(ctx context.Context, ip string) {
	if b == nil {
		return
	}

	attempts, err := b.store.IncrementWithExpiry(ctx, attemptKey(ip), attemptWindow)
	if err != nil {
		b.log.Warn("failed to record login attempt", zap.String("ip", ip), zap.Error(err))
		return
	}

	lockDuration := lockoutFor(attempts)
	if lockDuration == 0 {
		return
	}
	if err := b.store.Set(ctx, lockKey(ip), "locked", lockDuration); err != nil {
		b.log.Warn("failed to lock ip", zap.String("ip", ip), zap.Error(err))
	}
}

// RecordSuccessfulAttempt clears failed attempts on successful login
func (b *BruteForceProtection) RecordSuccessfulAttempt(ctx context.Context, ip string) {
	if b == nil {
		return
	}
	if err := b.store.Delete(ctx, attemptKey(ip), lockKey(ip)); err != nil {
		b.log.Warn("failed to clear login attempts", zap.String("ip", ip), zap.Error(err))
	}
}

func lockoutFor(attempts int64) time.Duration {
	switch {
	case attempts >= 25:
		return 24 * time.Hour
	case attempts >= 10:
		return time.Hour
	case attempts >= 5:
		return 2 * time.Minute
	default:
		return 0
	}
}
