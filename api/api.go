package api

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	readTimeout     = 30 * time.Second
	writeTimeout    = 60 * time.Second
)

type APIServer struct {
	app           *fiber.App
	listenAddress string
	log           *zap.Logger
}

// NewAPIServer builds the Fiber app. bodyLimit must cover the largest
// accepted upload plus multipart overhead.
func NewAPIServer(listenAddress string, bodyLimit int, log *zap.Logger) *APIServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIServer{
		app: fiber.New(fiber.Config{
			AppName:               "pixscaler-api",
			BodyLimit:             bodyLimit,
			DisableStartupMessage: true,
			ReadTimeout:           readTimeout,
			WriteTimeout:          writeTimeout,
			ErrorHandler:          errorHandler(log),
		}),
		listenAddress: listenAddress,
		log:           log,
	}
}

func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

// Run serves until SIGINT or SIGTERM, then drains in-flight requests.
func (s *APIServer) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting API server", zap.String("address", s.listenAddress))
		errCh <- s.app.Listen(s.listenAddress)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down API server")
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	}
}

// errorHandler renders unhandled errors in the standard JSON envelope.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code := "HTTP_ERROR"
			if fe.Code == fiber.StatusRequestEntityTooLarge {
				code = "FILE_TOO_LARGE"
			}
			return response.Error(c, fe.Code, fe.Message, code)
		}

		log.Error("unhandled request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		return response.InternalServerError(c, "Internal server error")
	}
}
