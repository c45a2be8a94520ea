// Command createuser creates an account or updates an existing one's premium
// status. Without a payment integration this is how premium is granted.
//
// Usage:
//
//	go run ./cmd/createuser -email a@example.com -password secret123 -premium -premium-days 30
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pixscaler/pixscaler-api/config"
	"github.com/pixscaler/pixscaler-api/database"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/pixscaler/pixscaler-api/utils/auth"
	"github.com/pixscaler/pixscaler-api/utils/logger"
	"github.com/pixscaler/pixscaler-api/utils/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type options struct {
	Email       string
	Password    string
	Name        string
	Premium     bool
	PremiumDays int
}

func main() {
	var opts options
	flag.StringVar(&opts.Email, "email", "", "account email (required)")
	flag.StringVar(&opts.Password, "password", "", "password, required when creating the account")
	flag.StringVar(&opts.Name, "name", "", "display name")
	flag.BoolVar(&opts.Premium, "premium", false, "grant premium")
	flag.IntVar(&opts.PremiumDays, "premium-days", 0, "premium duration in days, 0 means no expiry")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "createuser:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if err := config.LoadENV(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		ServiceName: "pixscaler-createuser",
		Environment: cfg.GoEnv,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := database.StartGORM(cfg, log.Named("database"))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		return err
	}

	user, created, err := upsertUser(context.Background(), store.GetDB(), auth.NewPasswordHasher(cfg.BcryptCost), opts, time.Now().UTC())
	if err != nil {
		return err
	}

	log.Info("user saved",
		zap.Uint("user_id", user.ID),
		zap.String("email", user.Email),
		zap.Bool("created", created),
		zap.Bool("premium", user.IsPremium),
		zap.Timep("premium_expires_at", user.PremiumExpiresAt))
	return nil
}

// upsertUser creates the account when it does not exist, otherwise applies
// the premium settings to it. Premium changes bump the token version so
// outstanding tokens carry the new status.
func upsertUser(ctx context.Context, db *gorm.DB, passwords *auth.PasswordHasher, opts options, now time.Time) (*model.User, bool, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if !validation.ValidateEmail(email) {
		return nil, false, fmt.Errorf("invalid email %q", opts.Email)
	}

	var expiresAt *time.Time
	if opts.Premium && opts.PremiumDays > 0 {
		t := now.AddDate(0, 0, opts.PremiumDays)
		expiresAt = &t
	}

	var user model.User
	err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		err = db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
			"is_premium":         opts.Premium,
			"premium_expires_at": expiresAt,
			"token_version":      gorm.Expr("token_version + ?", 1),
		}).Error
		if err != nil {
			return nil, false, fmt.Errorf("update user: %w", err)
		}
		if err := db.WithContext(ctx).First(&user, user.ID).Error; err != nil {
			return nil, false, err
		}
		return &user, false, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		if valid, problems := validation.ValidatePassword(opts.Password); !valid {
			return nil, false, fmt.Errorf("invalid password: %s", strings.Join(problems, ", "))
		}
		hash, err := passwords.Hash(opts.Password)
		if err != nil {
			return nil, false, err
		}
		user = model.User{
			Email:            email,
			PasswordHash:     hash,
			Name:             strings.TrimSpace(opts.Name),
			IsPremium:        opts.Premium,
			PremiumExpiresAt: expiresAt,
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, false, fmt.Errorf("create user: %w", err)
		}
		return &user, true, nil

	default:
		return nil, false, err
	}
}
