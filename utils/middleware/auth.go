package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/services"
	"github.com/pixscaler/pixscaler-api/utils/auth"
	"github.com/pixscaler/pixscaler-api/utils/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	localUserID = "user_id"
	localUser   = "user"
	localClaims = "claims"
)

var (
	errMissingToken     = errors.New("missing authorization token")
	errBadAuthFormat    = errors.New("malformed authorization header")
	errWrongTokenType   = errors.New("not an access token")
	errTokenRevoked     = errors.New("token revoked")
	errUserNotFound     = errors.New("token user not found")
	errTokenInvalidated = errors.New("token version is stale")
)

// rejections lists the failures that are the caller's fault, with the
// message sent back in the 401.
var rejections = []struct {
	err     error
	message string
}{
	{auth.ErrExpiredToken, "Token has expired"},
	{auth.ErrInvalidToken, "Invalid token"},
	{auth.ErrInvalidClaims, "Invalid token"},
	{errMissingToken, "Missing authorization token"},
	{errBadAuthFormat, "Invalid authorization format"},
	{errWrongTokenType, "Invalid token type"},
	{errTokenRevoked, "Token has been revoked"},
	{errUserNotFound, "User not found"},
	{errTokenInvalidated, "Token has been invalidated"},
}

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	jwtManager       *auth.JWTManager
	blacklistService *auth.BlacklistService
	db               *gorm.DB
	log              *zap.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtManager *auth.JWTManager, blacklist *auth.BlacklistService, db *gorm.DB, log *zap.Logger) *AuthMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthMiddleware{
		jwtManager:       jwtManager,
		blacklistService: blacklist,
		db:               db,
		log:              log,
	}
}

// Required is middleware that requires a valid access token
func (m *AuthMiddleware) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := GetUser(c); ok {
			return c.Next()
		}

		if err := m.authenticate(c); err != nil {
			if message, ok := rejectionMessage(err); ok {
				return response.Unauthorized(c, message)
			}
			m.log.Error("authentication failed", zap.Error(err))
			return response.InternalServerError(c, "Failed to verify token")
		}

		return c.Next()
	}
}

// Optional attaches the principal when a valid access token is present and
// otherwise lets the request through as anonymous.
func (m *AuthMiddleware) Optional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get(fiber.HeaderAuthorization) == "" {
			return c.Next()
		}
		if err := m.authenticate(c); err != nil {
			if _, ok := rejectionMessage(err); !ok {
				m.log.Warn("optional authentication failed", zap.Error(err))
			}
		}
		return c.Next()
	}
}

// rejectionMessage returns the 401 message for err, or false when err is a
// server side failure.
func rejectionMessage(err error) (string, bool) {
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return r.message, true
		}
	}
	return "", false
}

// authenticate validates the bearer token and stores the principal in locals.
func (m *AuthMiddleware) authenticate(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return errMissingToken
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return errBadAuthFormat
	}
	tokenString := parts[1]

	claims, err := m.jwtManager.ValidateToken(tokenString)
	if err != nil {
		return err
	}
	if claims.TokenType != auth.TokenTypeAccess {
		return errWrongTokenType
	}

	isRevoked, err := m.blacklistService.IsTokenRevoked(c.UserContext(), claims.ID)
	if err != nil {
		return err
	}
	if isRevoked {
		return errTokenRevoked
	}

	// Load user from database and verify token version
	var user model.User
	if err := m.db.WithContext(c.UserContext()).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errUserNotFound
		}
		return err
	}
	if user.TokenVersion != claims.TokenVersion {
		return errTokenInvalidated
	}

	c.Locals(localUserID, user.ID)
	c.Locals(localUser, &user)
	c.Locals(localClaims, claims)
	return nil
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(localUserID).(uint)
	return id, ok
}

// GetUser extracts full user object from context
func GetUser(c *fiber.Ctx) (*model.User, bool) {
	u, ok := c.Locals(localUser).(*model.User)
	return u, ok && u != nil
}

// GetClaims extracts full claims from context
func GetClaims(c *fiber.Ctx) (*auth.Claims, bool) {
	claims, ok := c.Locals(localClaims).(*auth.Claims)
	return claims, ok && claims != nil
}

// GetSubject resolves who a request is metered against: the authenticated
// user when there is one, always alongside the caller IP.
func GetSubject(c *fiber.Ctx) services.Subject {
	subject := services.Subject{IPAddress: c.IP()}
	if id, ok := GetUserID(c); ok {
		subject.UserID = &id
	}
	return subject
}
