package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/utils/metrics"
	"github.com/pixscaler/pixscaler-api/utils/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "golang.org/x/image/webp"
)

const (
	MinDimension   = 1
	MaxDimension   = 5000
	MinQuality     = 10
	MaxQuality     = 100
	DefaultQuality = 90

	FormatAuto = "auto"
	FormatPNG  = "png"
	FormatJPEG = "jpeg"

	KernelUpscale   = "lanczos3"
	KernelDownscale = "catmull-rom"

	// Upscales beyond this factor are sharpened after resampling.
	sharpenScaleFactor = 1.5
	sharpenSigma       = 1.0
	// JPEG quality never drops below this on upscale.
	upscaleQualityFloor = 85

	// Sources declaring more pixels than this are rejected before decoding.
	MaxInputPixels = 16383 * 16383
)

var (
	ErrInvalidDimensions = errors.New("dimensions out of range")
	ErrInvalidQuality    = errors.New("quality out of range")
	ErrInvalidFormat     = errors.New("unknown output format")
	ErrUnsupportedImage  = errors.New("unable to decode image")
	ErrImageTooLarge     = errors.New("image exceeds the input pixel limit")
)

var resizeValidator = validation.NewValidator()

// ResizeParams are the validated resize options of one request.
type ResizeParams struct {
	Width   int    `validate:"min=1,max=5000"`
	Height  int    `validate:"min=1,max=5000"`
	Format  string `validate:"oneof=auto png jpeg"`
	Quality int    `validate:"min=10,max=100"`
}

// ParseResizeParams parses untrusted form values. Dimensions are checked
// before quality, and quality before format.
func ParseResizeParams(width, height, format, quality string) (ResizeParams, error) {
	params := ResizeParams{
		Width:   parseLeadingInt(width),
		Height:  parseLeadingInt(height),
		Format:  strings.ToLower(strings.TrimSpace(format)),
		Quality: DefaultQuality,
	}
	if params.Format == "" {
		params.Format = FormatAuto
	}
	if params.Format == "jpg" {
		params.Format = FormatJPEG
	}
	if q := strings.TrimSpace(quality); q != "" {
		params.Quality = parseLeadingInt(q)
	}

	err := resizeValidator.ValidateStruct(params)
	if err == nil {
		return params, nil
	}

	failed := map[string]bool{}
	for _, fe := range validation.FieldErrors(err) {
		failed[fe.Field()] = true
	}
	switch {
	case failed["Width"] || failed["Height"]:
		return ResizeParams{}, ErrInvalidDimensions
	case failed["Quality"]:
		return ResizeParams{}, ErrInvalidQuality
	case failed["Format"]:
		return ResizeParams{}, ErrInvalidFormat
	}
	return ResizeParams{}, err
}

// parseLeadingInt reads an optional sign and the digits after it, so "100.5"
// and "100px" both give 100. Input without leading digits gives 0.
func parseLeadingInt(raw string) int {
	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return v
}

// ResizeInput is one upload to resize.
type ResizeInput struct {
	Data      []byte
	Filename  string
	Params    ResizeParams
	UserID    *uint
	IPAddress string
}

// ResizeResult is the encoded output plus what was decided on the way.
type ResizeResult struct {
	Data           []byte
	Format         string
	ContentType    string
	Filename       string
	Kernel         string
	Upscaled       bool
	Sharpened      bool
	Quality        int
	OriginalWidth  int
	OriginalHeight int
}

// ProcessingRecorder persists the audit row of a completed resize.
type ProcessingRecorder interface {
	RecordProcessing(ctx context.Context, entry *model.ProcessingHistory) error
}

// ProcessingHistoryService writes audit rows with GORM.
type ProcessingHistoryService struct {
	db *gorm.DB
}

func NewProcessingHistoryService(db *gorm.DB) *ProcessingHistoryService {
	return &ProcessingHistoryService{db: db}
}

func (s *ProcessingHistoryService) RecordProcessing(ctx context.Context, entry *model.ProcessingHistory) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record processing: %w", err)
	}
	return nil
}

// ImageService resizes images with the imaging library.
type ImageService struct {
	recorder ProcessingRecorder
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewImageService(recorder ProcessingRecorder, log *zap.Logger, m *metrics.Metrics) *ImageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageService{recorder: recorder, log: log, metrics: m}
}

// Resize decodes the upload, resamples it to exactly the requested size and
// re-encodes it. ctx is checked before the decode and before the encode.
// A failure to record the audit row is logged, not returned.
func (s *ImageService) Resize(ctx context.Context, in ResizeInput) (*ResizeResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, sourceFormat, err := image.DecodeConfig(bytes.NewReader(in.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxInputPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	src, err := imaging.Decode(bytes.NewReader(in.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	bounds := src.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	w, h := in.Params.Width, in.Params.Height

	upscale := w > origW || h > origH
	scaleFactor := math.Max(float64(w)/float64(origW), float64(h)/float64(origH))

	kernelName, filter := KernelDownscale, imaging.CatmullRom
	if upscale {
		kernelName, filter = KernelUpscale, imaging.Lanczos
	}

	dst := imaging.Resize(src, w, h, filter)
	sharpened := upscale && scaleFactor > sharpenScaleFactor
	if sharpened {
		dst = imaging.Sharpen(dst, sharpenSigma)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputFormat := resolveOutputFormat(in.Params.Format, sourceFormat)
	quality := in.Params.Quality
	var buf bytes.Buffer
	result := &ResizeResult{
		Format:         outputFormat,
		Kernel:         kernelName,
		Upscaled:       upscale,
		Sharpened:      sharpened,
		OriginalWidth:  origW,
		OriginalHeight: origH,
	}

	switch outputFormat {
	case FormatPNG:
		err = imaging.Encode(&buf, dst, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
		result.ContentType = "image/png"
		result.Filename = fmt.Sprintf("resized-%dx%d.png", w, h)
	default:
		if upscale && quality < upscaleQualityFloor {
			quality = upscaleQualityFloor
		}
		err = imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(quality))
		result.ContentType = "image/jpeg"
		result.Filename = fmt.Sprintf("resized-%dx%d.jpg", w, h)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", outputFormat, err)
	}
	result.Data = buf.Bytes()
	result.Quality = quality

	elapsed := time.Since(start)
	s.metrics.ObserveResize(kernelName, outputFormat, elapsed)
	s.record(ctx, in, result, elapsed)

	return result, nil
}

func (s *ImageService) record(ctx context.Context, in ResizeInput, result *ResizeResult, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}

	var reduction float64
	if len(in.Data) > 0 {
		reduction = float64(len(in.Data)-len(result.Data)) / float64(len(in.Data)) * 100
	}

	entry := &model.ProcessingHistory{
		UserID:           in.UserID,
		IPAddress:        in.IPAddress,
		OriginalFilename: in.Filename,
		OriginalSize:     int64(len(in.Data)),
		OriginalWidth:    result.OriginalWidth,
		OriginalHeight:   result.OriginalHeight,
		ProcessedWidth:   in.Params.Width,
		ProcessedHeight:  in.Params.Height,
		ProcessedSize:    int64(len(result.Data)),
		OutputFormat:     result.Format,
		Quality:          in.Params.Quality,
		Kernel:           result.Kernel,
		SizeReduction:    reduction,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
	if err := s.recorder.RecordProcessing(ctx, entry); err != nil {
		s.log.Error("failed to log processing", zap.String("filename", in.Filename), zap.Error(err))
	}
}

// resolveOutputFormat maps the requested format onto an encoder. "auto"
// keeps PNG sources as PNG and encodes everything else as JPEG.
func resolveOutputFormat(requested, source string) string {
	switch requested {
	case FormatPNG, FormatJPEG:
		return requested
	}
	if source == FormatPNG {
		return FormatPNG
	}
	return FormatJPEG
}
