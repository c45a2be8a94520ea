package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/services"
	authutil "github.com/pixscaler/pixscaler-api/utils/auth"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/pixscaler/pixscaler-api/utils/middleware"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"github.com/pixscaler/pixscaler-api/utils/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthHandler handles authentication and account requests
type AuthHandler struct {
	db                   *gorm.DB
	jwtManager           *authutil.JWTManager
	blacklistService     *authutil.BlacklistService
	passwords            *authutil.PasswordHasher
	bruteForceProtection *middleware.BruteForceProtection
	usage                *services.UsageService
	analytics            *services.AnalyticsService
	validator            *validation.Validator
	freeTierLimit        int
	clock                clock.Clock
	log                  *zap.Logger
}

// Deps groups what AuthHandler needs. BruteForce and Analytics may be nil,
// and a nil Passwords hashes at the default bcrypt cost.
type Deps struct {
	DB            *gorm.DB
	JWTManager    *authutil.JWTManager
	Blacklist     *authutil.BlacklistService
	Passwords     *authutil.PasswordHasher
	BruteForce    *middleware.BruteForceProtection
	Usage         *services.UsageService
	Analytics     *services.AnalyticsService
	FreeTierLimit int
	Clock         clock.Clock
	Logger        *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(deps Deps) *AuthHandler {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Passwords == nil {
		deps.Passwords = authutil.NewPasswordHasher(authutil.DefaultBcryptCost)
	}
	return &AuthHandler{
		db:                   deps.DB,
		jwtManager:           deps.JWTManager,
		blacklistService:     deps.Blacklist,
		passwords:            deps.Passwords,
		bruteForceProtection: deps.BruteForce,
		usage:                deps.Usage,
		analytics:            deps.Analytics,
		validator:            validation.NewValidator(),
		freeTierLimit:        deps.FreeTierLimit,
		clock:                deps.Clock,
		log:                  deps.Logger,
	}
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"max=100"`
}

// AuthResponse is returned by register, login and refresh
type AuthResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID               uint       `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Subscription     string     `json:"subscription"` // free or pro
	IsPremium        bool       `json:"is_premium"`
	EmailVerified    bool       `json:"email_verified"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (h *AuthHandler) toUserResponse(user *model.User) UserResponse {
	premium := user.HasActivePremium(h.clock.Now())
	subscription := "free"
	if premium {
		subscription = "pro"
	}
	return UserResponse{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		Subscription:     subscription,
		IsPremium:        premium,
		EmailVerified:    user.EmailVerified,
		PremiumExpiresAt: user.PremiumExpiresAt,
		CreatedAt:        user.CreatedAt,
	}
}

// Register handles user registration
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.BadRequest(c, credentialsMessage(err))
	}

	// Check if user already exists
	var existing model.User
	err := h.db.WithContext(c.UserContext()).Where("email = ?", req.Email).First(&existing).Error
	if err == nil {
		return response.Conflict(c, "User already exists with this email")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.log.Error("failed to look up user", zap.Error(err))
		return response.InternalServerError(c, "Server error during registration")
	}

	hashedPassword, err := h.passwords.Hash(req.Password)
	if err != nil {
		return response.InternalServerError(c, "Failed to process password")
	}

	user := model.User{
		Email:        req.Email,
		PasswordHash: hashedPassword,
		Name:         req.Name,
	}
	if err := h.db.WithContext(c.UserContext()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return response.Conflict(c, "User already exists with this email")
		}
		h.log.Error("failed to create user", zap.Error(err))
		return response.InternalServerError(c, "Server error during registration")
	}

	res, err := h.issueTokens(&user)
	if err != nil {
		return response.InternalServerError(c, "Failed to generate tokens")
	}

	h.analytics.Track(c.UserContext(), services.Event{
		Type:      model.EventTypeRegister,
		UserID:    &user.ID,
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})

	return response.Created(c, res)
}

func (h *AuthHandler) issueTokens(user *model.User) (*AuthResponse, error) {
	pair, err := h.jwtManager.GeneratePair(user.ID, user.Email, user.HasActivePremium(h.clock.Now()), user.TokenVersion)
	if err != nil {
		h.log.Error("failed to generate tokens", zap.Uint("user_id", user.ID), zap.Error(err))
		return nil, err
	}
	return &AuthResponse{
		User:         h.toUserResponse(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	}, nil
}

// credentialsMessage turns validator errors on email/password payloads into
// a single client facing message.
func credentialsMessage(err error) string {
	for _, fe := range validation.FieldErrors(err) {
		switch {
		case fe.Tag() == "required":
			return "Email and password are required"
		case fe.Field() == "Email":
			return "Invalid email format"
		case fe.Field() == "Password" || fe.Field() == "NewPassword":
			return "Password must be at least 6 characters long"
		}
	}
	for _, msg := range validation.FormatValidationErrors(err) {
		return msg
	}
	return "Invalid request"
}
