package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pixscaler/pixscaler-api/database/dbtest"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/services"
	authutil "github.com/pixscaler/pixscaler-api/utils/auth"
	"github.com/pixscaler/pixscaler-api/utils/clock"
	"github.com/pixscaler/pixscaler-api/utils/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type authEnv struct {
	app *fiber.App
	db  *gorm.DB
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	db := dbtest.NewDB(t)
	clk := clock.NewFakeClock(time.Now().UTC())
	jwtManager := authutil.NewJWTManager(authutil.JWTConfig{
		Secret:        "handler-secret",
		Expiry:        time.Hour,
		RefreshExpiry: 24 * time.Hour,
		Issuer:        "test",
	})
	blacklist := authutil.NewBlacklistService(db)
	mw := middleware.NewAuthMiddleware(jwtManager, blacklist, db, nil)

	h := NewAuthHandler(Deps{
		DB:            db,
		JWTManager:    jwtManager,
		Blacklist:     blacklist,
		Passwords:     authutil.NewPasswordHasher(bcrypt.MinCost),
		Usage:         services.NewUsageService(db, clk),
		Analytics:     services.NewAnalyticsService(db, nil),
		FreeTierLimit: 10,
		Clock:         clk,
	})

	app := fiber.New()
	app.Use(mw.Optional())
	app.Post("/register", h.Register)
	app.Post("/login", h.Login)
	app.Post("/refresh", h.RefreshToken)
	app.Post("/logout", mw.Required(), h.Logout)
	app.Get("/me", mw.Required(), h.GetProfile)
	app.Put("/profile", mw.Required(), h.UpdateProfile)
	app.Post("/change-password", mw.Required(), h.ChangePassword)

	return &authEnv{app: app, db: db}
}

type result struct {
	status int
	body   map[string]interface{}
}

func (r result) data(t *testing.T) map[string]interface{} {
	t.Helper()
	d, ok := r.body["data"].(map[string]interface{})
	require.True(t, ok, "missing data in %v", r.body)
	return d
}

func (r result) errorMessage(t *testing.T) string {
	t.Helper()
	d, ok := r.body["error"].(map[string]interface{})
	require.True(t, ok, "missing error in %v", r.body)
	return d["message"].(string)
}

func (e *authEnv) call(t *testing.T, method, path, token, payload string) result {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return result{status: resp.StatusCode, body: body}
}

func tokens(t *testing.T, r result) (access, refresh string) {
	t.Helper()
	d := r.data(t)
	return d["access_token"].(string), d["refresh_token"].(string)
}

func TestRegister(t *testing.T) {
	env := newAuthEnv(t)

	res := env.call(t, http.MethodPost, "/register", "", `{"email":" New@Example.com ","password":"secret123","name":"New"}`)
	require.Equal(t, fiber.StatusCreated, res.status)
	user := res.data(t)["user"].(map[string]interface{})
	assert.Equal(t, "new@example.com", user["email"])
	assert.Equal(t, "free", user["subscription"])

	var events int64
	require.NoError(t, env.db.Model(&model.AnalyticsEvent{}).Where("event_type = ?", model.EventTypeRegister).Count(&events).Error)
	assert.EqualValues(t, 1, events)

	t.Run("duplicate email", func(t *testing.T) {
		res := env.call(t, http.MethodPost, "/register", "", `{"email":"new@example.com","password":"secret123"}`)
		assert.Equal(t, fiber.StatusConflict, res.status)
	})

	t.Run("validation", func(t *testing.T) {
		cases := map[string]string{
			`{"password":"secret123"}`:                     "Email and password are required",
			`{"email":"bad","password":"secret123"}`:       "Invalid email format",
			`{"email":"a@example.com","password":"short"}`: "Password must be at least 6 characters long",
		}
		for payload, msg := range cases {
			res := env.call(t, http.MethodPost, "/register", "", payload)
			assert.Equal(t, fiber.StatusBadRequest, res.status, payload)
			assert.Equal(t, msg, res.errorMessage(t), payload)
		}
	})
}

func TestLoginAndProfile(t *testing.T) {
	env := newAuthEnv(t)
	require.Equal(t, fiber.StatusCreated,
		env.call(t, http.MethodPost, "/register", "", `{"email":"me@example.com","password":"secret123","name":"Me"}`).status)

	res := env.call(t, http.MethodPost, "/login", "", `{"email":"me@example.com","password":"wrong-one"}`)
	assert.Equal(t, fiber.StatusUnauthorized, res.status)
	assert.Equal(t, "Invalid email or password", res.errorMessage(t))

	res = env.call(t, http.MethodPost, "/login", "", `{"email":"ME@example.com","password":"secret123"}`)
	require.Equal(t, fiber.StatusOK, res.status)
	access, _ := tokens(t, res)

	me := env.call(t, http.MethodGet, "/me", access, "")
	require.Equal(t, fiber.StatusOK, me.status)
	assert.Equal(t, "Me", me.data(t)["user"].(map[string]interface{})["name"])

	updated := env.call(t, http.MethodPut, "/profile", access, `{"name":"  Renamed "}`)
	require.Equal(t, fiber.StatusOK, updated.status)
	assert.Equal(t, "Renamed", updated.data(t)["user"].(map[string]interface{})["name"])

	empty := env.call(t, http.MethodPut, "/profile", access, `{}`)
	assert.Equal(t, fiber.StatusBadRequest, empty.status)
}

func TestRefreshRotatesTokens(t *testing.T) {
	env := newAuthEnv(t)
	res := env.call(t, http.MethodPost, "/register", "", `{"email":"r@example.com","password":"secret123"}`)
	require.Equal(t, fiber.StatusCreated, res.status)
	_, refresh := tokens(t, res)

	rotated := env.call(t, http.MethodPost, "/refresh", "", `{"refresh_token":"`+refresh+`"}`)
	require.Equal(t, fiber.StatusOK, rotated.status)
	newAccess, _ := tokens(t, rotated)
	assert.Equal(t, fiber.StatusOK, env.call(t, http.MethodGet, "/me", newAccess, "").status)

	reused := env.call(t, http.MethodPost, "/refresh", "", `{"refresh_token":"`+refresh+`"}`)
	assert.Equal(t, fiber.StatusUnauthorized, reused.status)
	assert.Equal(t, "Token has been revoked", reused.errorMessage(t))

	access, _ := tokens(t, rotated)
	notRefresh := env.call(t, http.MethodPost, "/refresh", "", `{"refresh_token":"`+access+`"}`)
	assert.Equal(t, fiber.StatusUnauthorized, notRefresh.status)
}

func TestLogoutRevokesTokens(t *testing.T) {
	env := newAuthEnv(t)
	res := env.call(t, http.MethodPost, "/register", "", `{"email":"out@example.com","password":"secret123"}`)
	require.Equal(t, fiber.StatusCreated, res.status)
	access, refresh := tokens(t, res)

	out := env.call(t, http.MethodPost, "/logout", access, `{"refresh_token":"`+refresh+`"}`)
	require.Equal(t, fiber.StatusOK, out.status)

	assert.Equal(t, fiber.StatusUnauthorized, env.call(t, http.MethodGet, "/me", access, "").status)
	assert.Equal(t, fiber.StatusUnauthorized, env.call(t, http.MethodPost, "/refresh", "", `{"refresh_token":"`+refresh+`"}`).status)
}

func TestChangePasswordInvalidatesOldTokens(t *testing.T) {
	env := newAuthEnv(t)
	res := env.call(t, http.MethodPost, "/register", "", `{"email":"pw@example.com","password":"secret123"}`)
	require.Equal(t, fiber.StatusCreated, res.status)
	oldAccess, _ := tokens(t, res)

	wrong := env.call(t, http.MethodPost, "/change-password", oldAccess, `{"current_password":"nope","new_password":"another123"}`)
	assert.Equal(t, fiber.StatusUnauthorized, wrong.status)

	changed := env.call(t, http.MethodPost, "/change-password", oldAccess, `{"current_password":"secret123","new_password":"another123"}`)
	require.Equal(t, fiber.StatusOK, changed.status)
	newAccess, _ := tokens(t, changed)

	assert.Equal(t, fiber.StatusUnauthorized, env.call(t, http.MethodGet, "/me", oldAccess, "").status)
	assert.Equal(t, fiber.StatusOK, env.call(t, http.MethodGet, "/me", newAccess, "").status)
	assert.Equal(t, fiber.StatusOK,
		env.call(t, http.MethodPost, "/login", "", `{"email":"pw@example.com","password":"another123"}`).status)
}

func TestLoginRehashesStaleCost(t *testing.T) {
	env := newAuthEnv(t)

	stale, err := authutil.NewPasswordHasher(bcrypt.MinCost + 1).Hash("secret123")
	require.NoError(t, err)
	user := model.User{Email: "old@example.com", PasswordHash: stale}
	require.NoError(t, env.db.Create(&user).Error)

	res := env.call(t, http.MethodPost, "/login", "", `{"email":"old@example.com","password":"secret123"}`)
	require.Equal(t, fiber.StatusOK, res.status)

	require.NoError(t, env.db.First(&user, user.ID).Error)
	cost, err := bcrypt.Cost([]byte(user.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	again := env.call(t, http.MethodPost, "/login", "", `{"email":"old@example.com","password":"secret123"}`)
	assert.Equal(t, fiber.StatusOK, again.status)
}
