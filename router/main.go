package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/pixscaler/pixscaler-api/config"
	"github.com/pixscaler/pixscaler-api/database"
	"github.com/pixscaler/pixscaler-api/handlers"
	auth_handlers "github.com/pixscaler/pixscaler-api/handlers/auth"
	image_handlers "github.com/pixscaler/pixscaler-api/handlers/image"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/services"
	"github.com/pixscaler/pixscaler-api/utils"
	"github.com/pixscaler/pixscaler-api/utils/auth"
	"github.com/pixscaler/pixscaler-api/utils/cache"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/pixscaler/pixscaler-api/utils/metrics"
	"github.com/pixscaler/pixscaler-api/utils/middleware"
	"go.uber.org/zap"
)

type options struct {
	clock   clock.Clock
	metrics *metrics.Metrics
}

// Option overrides a collaborator SetupRoutes would otherwise build itself.
type Option func(*options)

// WithClock replaces the wall clock used by quota windows and premium checks.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithMetrics shares an existing metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func SetupRoutes(app *fiber.App, store database.Storage, cfg *config.Config, log *zap.Logger, opts ...Option) {
	if log == nil {
		log = zap.NewNop()
	}

	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	db := store.GetDB()

	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		Secret:        cfg.JWTSecret,
		Expiry:        cfg.JWTExpiry,
		RefreshExpiry: cfg.JWTRefreshExpiry,
		Issuer:        cfg.JWTIssuer,
	})
	blacklistService := auth.NewBlacklistService(db)

	// Redis is optional; without it login brute force protection is off
	var bruteForceProtection *middleware.BruteForceProtection
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Warn("failed to connect to redis, brute force protection disabled", zap.Error(err))
		} else {
			bruteForceProtection = middleware.NewBruteForceProtection(redisCache, log.Named("brute_force"))
			app.Hooks().OnShutdown(redisCache.Close)
		}
	}

	usageService := services.NewUsageService(db, o.clock)
	analyticsService := services.NewAnalyticsService(db, log.Named("analytics"))
	quota := services.NewQuotaEvaluator(usageService, cfg.RateLimit.FreeTierLimit, o.clock, log.Named("quota"), o.metrics)
	imageService := services.NewImageService(services.NewProcessingHistoryService(db), log.Named("image"), o.metrics)

	limits := middleware.NewLimits(cfg.RateLimit, quota, o.clock, o.metrics, log.Named("limits"))
	authMiddleware := middleware.NewAuthMiddleware(jwtManager, blacklistService, db, log.Named("auth"))

	authHandler := auth_handlers.NewAuthHandler(auth_handlers.Deps{
		DB:            db,
		JWTManager:    jwtManager,
		Blacklist:     blacklistService,
		Passwords:     auth.NewPasswordHasher(cfg.BcryptCost),
		BruteForce:    bruteForceProtection,
		Usage:         usageService,
		Analytics:     analyticsService,
		FreeTierLimit: cfg.RateLimit.FreeTierLimit,
		Clock:         o.clock,
		Logger:        log.Named("auth_handler"),
	})
	imageHandler := image_handlers.NewImageHandler(imageService, analyticsService, cfg.Upload, o.clock, log.Named("image_handler"))

	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log.Named("http"),
	})

	// Every request is either authenticated or anonymous past this point
	app.Use(authMiddleware.Optional())

	// Health check endpoint (public)
	app.Get("/ping", utils.MakeHTTPHandleFunc(handlers.HandleCheckHealth, store))

	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(o.metrics.Handler()))
	}

	api := app.Group("/api", limits.API())

	// Auth routes (public)
	authGroup := api.Group("/auth")
	authGroup.Post("/register", limits.Auth(), authHandler.Register)
	authGroup.Post("/login", limits.Auth(), bruteForceProtection.CheckLock(), authHandler.Login)
	authGroup.Post("/refresh", authHandler.RefreshToken)

	// Protected auth routes
	authGroup.Post("/logout", authMiddleware.Required(), authHandler.Logout)
	authGroup.Get("/me", authMiddleware.Required(), authHandler.GetProfile)
	authGroup.Put("/profile", authMiddleware.Required(), authHandler.UpdateProfile)
	authGroup.Post("/change-password", authMiddleware.Required(), authHandler.ChangePassword)
	authGroup.Get("/usage", authMiddleware.Required(), authHandler.GetUsage)

	api.Get("/user-status", authHandler.UserStatus)

	// Validation runs before the quota so rejected uploads are never metered
	api.Post("/resize",
		imageHandler.ParseRequest,
		limits.Quota(model.ActionImageProcessing),
		imageHandler.Resize,
	)
}
