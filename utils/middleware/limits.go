package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/pixscaler/pixscaler-api/config"
	"github.com/pixscaler/pixscaler-api/services"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/pixscaler/pixscaler-api/utils/metrics"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"go.uber.org/zap"
)

const (
	LimiterAPI  = "api"
	LimiterAuth = "auth"
)

const localQuotaDecision = "quota_decision"

// Limits builds the per-IP limiters and the per-feature quota middleware.
type Limits interface {
	API() fiber.Handler
	Auth() fiber.Handler
	Quota(action string) fiber.Handler
}

// NewLimits is the only place the rate limiting toggle is read: when it is
// set, every handler it returns passes requests straight through.
func NewLimits(cfg config.RateLimitConfig, quota *services.QuotaEvaluator, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) Limits {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Disabled {
		log.Warn("rate limiting disabled")
		return passThroughLimits{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &enforcedLimits{cfg: cfg, quota: quota, clock: clk, metrics: m}
}

type passThroughLimits struct{}

func next(c *fiber.Ctx) error { return c.Next() }

func (passThroughLimits) API() fiber.Handler { return next }

func (passThroughLimits) Auth() fiber.Handler { return next }

func (passThroughLimits) Quota(string) fiber.Handler { return next }

type enforcedLimits struct {
	cfg     config.RateLimitConfig
	quota   *services.QuotaEvaluator
	clock   clock.Clock
	metrics *metrics.Metrics
}

// API caps general traffic per IP
func (l *enforcedLimits) API() fiber.Handler {
	return l.ipLimiter(LimiterAPI, l.cfg.APIRequests, "Too many requests from this IP, please try again later.")
}

// Auth caps authentication attempts per IP
func (l *enforcedLimits) Auth() fiber.Handler {
	return l.ipLimiter(LimiterAuth, l.cfg.AuthRequests, "Too many authentication attempts, please try again later.")
}

func (l *enforcedLimits) ipLimiter(name string, limit int, message string) fiber.Handler {
	window := l.cfg.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return name + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			l.metrics.ObserveLimiterRejection(name)
			return response.Error(c, fiber.StatusTooManyRequests, message, "RATE_LIMIT_EXCEEDED")
		},
	})
}

// Quota admits or rejects a metered action for the request's subject.
func (l *enforcedLimits) Quota(action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		premium := false
		if user, ok := GetUser(c); ok {
			premium = user.HasActivePremium(l.clock.Now())
		}

		decision := l.quota.Admit(c.UserContext(), GetSubject(c), premium, action)
		c.Locals(localQuotaDecision, decision)
		if !decision.Allowed {
			return response.QuotaExceeded(c,
				fmt.Sprintf("Free users are limited to %d images per hour", decision.Limit),
				decision.ResetTime,
				l.cfg.UpgradeURL,
			)
		}

		return c.Next()
	}
}

// GetQuotaDecision returns the decision the quota middleware made for this request.
func GetQuotaDecision(c *fiber.Ctx) (services.QuotaDecision, bool) {
	d, ok := c.Locals(localQuotaDecision).(services.QuotaDecision)
	return d, ok
}
