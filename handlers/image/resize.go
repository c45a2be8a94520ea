package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/config"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/services"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/pixscaler/pixscaler-api/utils/middleware"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"go.uber.org/zap"
)

const localResizeInput = "resize_input"

// paramErrors maps parameter sentinels onto the client facing code and message.
var paramErrors = []struct {
	err     error
	code    string
	message string
}{
	{services.ErrInvalidDimensions, "INVALID_DIMENSIONS", "Invalid dimensions (1-5000 pixels)"},
	{services.ErrInvalidQuality, "INVALID_QUALITY", "Quality must be between 10 and 100"},
	{services.ErrInvalidFormat, "INVALID_FORMAT", "Format must be one of auto, png, jpeg"},
}

// Quota headers set on admitted free tier resizes.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// ImageHandler serves POST /api/resize
type ImageHandler struct {
	images    *services.ImageService
	analytics *services.AnalyticsService
	upload    config.UploadConfig
	clock     clock.Clock
	log       *zap.Logger
}

// NewImageHandler creates a new image handler
func NewImageHandler(images *services.ImageService, analytics *services.AnalyticsService, upload config.UploadConfig, clk clock.Clock, log *zap.Logger) *ImageHandler {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageHandler{images: images, analytics: analytics, upload: upload, clock: clk, log: log}
}

// ParseRequest validates the multipart upload and resize parameters. It runs
// before the quota middleware so malformed requests never consume quota.
func (h *ImageHandler) ParseRequest(c *fiber.Ctx) error {
	file, err := c.FormFile("image")
	if err != nil {
		return response.BadRequestCode(c, "No image uploaded", "NO_FILE")
	}

	if !strings.HasPrefix(file.Header.Get(fiber.HeaderContentType), "image/") {
		return response.BadRequestCode(c, "Only image files are allowed", "INVALID_FILE_TYPE")
	}

	user, _ := middleware.GetUser(c)
	premium := user.HasActivePremium(h.clock.Now())
	maxSize := h.upload.MaxFileSizeFree
	tier := "Free"
	if premium {
		maxSize = h.upload.MaxFileSizePremium
		tier = "Premium"
	}
	if file.Size > maxSize {
		return response.BadRequestCode(c,
			fmt.Sprintf("%s users can upload files up to %dMB", tier, maxSize/(1024*1024)),
			"FILE_TOO_LARGE")
	}

	params, err := services.ParseResizeParams(
		c.FormValue("width"),
		c.FormValue("height"),
		c.FormValue("format"),
		c.FormValue("quality"),
	)
	if err != nil {
		return paramError(c, err)
	}

	src, err := file.Open()
	if err != nil {
		return response.BadRequestCode(c, "Unable to read upload", "INVALID_FILE")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxSize+1))
	if err != nil {
		return response.BadRequestCode(c, "Unable to read upload", "INVALID_FILE")
	}

	c.Locals(localResizeInput, services.ResizeInput{
		Data:     data,
		Filename: file.Filename,
		Params:   params,
	})

	if h.upload.ProcessTimeout > 0 {
		ctx, cancel := context.WithTimeout(c.UserContext(), h.upload.ProcessTimeout)
		defer cancel()
		c.SetUserContext(ctx)
	}
	return c.Next()
}

func paramError(c *fiber.Ctx, err error) error {
	for _, pe := range paramErrors {
		if errors.Is(err, pe.err) {
			return response.BadRequestCode(c, pe.message, pe.code)
		}
	}
	return response.BadRequestCode(c, "Invalid resize parameters", "BAD_REQUEST")
}

// setQuotaHeaders reports what is left of the free tier allowance after this
// request. Premium and fail-open admissions carry no headers.
func setQuotaHeaders(c *fiber.Ctx) {
	decision, ok := middleware.GetQuotaDecision(c)
	if !ok || decision.Exempt || decision.FailOpen {
		return
	}
	remaining := decision.Limit - decision.Used - 1
	if remaining < 0 {
		remaining = 0
	}
	c.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
	c.Set(HeaderRateLimitRemaining, strconv.Itoa(remaining))
	c.Set(HeaderRateLimitReset, strconv.FormatInt(decision.ResetTime.Unix(), 10))
}

// Resize runs after admission and streams back the resized image
func (h *ImageHandler) Resize(c *fiber.Ctx) error {
	in, ok := c.Locals(localResizeInput).(services.ResizeInput)
	if !ok {
		return response.InternalServerError(c, "Failed to process image")
	}

	subject := middleware.GetSubject(c)
	in.UserID = subject.UserID
	in.IPAddress = subject.IPAddress

	setQuotaHeaders(c)

	result, err := h.images.Resize(c.UserContext(), in)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnsupportedImage):
			return response.BadRequestCode(c, "Unable to decode image", "INVALID_IMAGE")
		case errors.Is(err, services.ErrImageTooLarge):
			return response.BadRequestCode(c,
				fmt.Sprintf("Images may have at most %d pixels", services.MaxInputPixels),
				"IMAGE_TOO_LARGE")
		case errors.Is(err, context.DeadlineExceeded):
			h.log.Warn("image processing timed out", zap.String("filename", in.Filename))
			return response.ServiceUnavailable(c, "Image processing timed out")
		}
		h.log.Error("error processing image",
			zap.String("filename", in.Filename),
			zap.Int("width", in.Params.Width),
			zap.Int("height", in.Params.Height),
			zap.Error(err))
		return response.InternalServerError(c, "Failed to process image")
	}

	h.analytics.Track(c.UserContext(), services.Event{
		Type:      model.EventTypeImageResize,
		UserID:    in.UserID,
		IPAddress: in.IPAddress,
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Data: map[string]interface{}{
			"width":    in.Params.Width,
			"height":   in.Params.Height,
			"format":   result.Format,
			"kernel":   result.Kernel,
			"upscaled": result.Upscaled,
		},
	})

	c.Set(fiber.HeaderContentType, result.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	return c.Status(fiber.StatusOK).Send(result.Data)
}
