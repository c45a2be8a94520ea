package database

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pixscaler/pixscaler-api/config"
	"github.com/pixscaler/pixscaler-api/model"
	applog "github.com/pixscaler/pixscaler-api/utils/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type GORMStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// StartGORM opens the configured database (SQLite by default, Postgres when
// DB_DRIVER=postgres) and configures the connection pool.
func StartGORM(cfg *config.Config, log *zap.Logger) (*GORMStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	// Configure GORM logger
	level := gormlogger.Warn
	if cfg.IsProduction() {
		level = gormlogger.Error
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         applog.NewGormLogger(log, level),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		log.Error("unable to connect to database", zap.String("driver", cfg.DBDriver), zap.Error(err))
		return nil, err
	}

	store, err := newStore(db, log)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings. SQLite serialises writers, so a single
	// connection avoids SQLITE_BUSY under concurrent upserts.
	if cfg.DBDriver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("connected to database", zap.String("driver", cfg.DBDriver))
	return store, nil
}

// NewGORMStore wraps an already opened connection, used by tests.
func NewGORMStore(db *gorm.DB, log *zap.Logger) (*GORMStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return newStore(db, log)
}

func newStore(db *gorm.DB, log *zap.Logger) (*GORMStore, error) {
	if db.Dialector.Name() == DriverSQLite {
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		} {
			if err := db.Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
			}
		}
	}
	return &GORMStore{db: db, log: log}, nil
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case DriverSQLite, "":
		return sqlite.Open(cfg.DBPath), nil
	case DriverPostgres:
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUserName,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

// Init runs the AutoMigrate to create/update tables
func (s *GORMStore) Init() error {
	s.log.Info("running auto migrate")

	err := s.db.AutoMigrate(
		&model.User{},
		&model.UsageRecord{},
		&model.ProcessingHistory{},
		&model.AnalyticsEvent{},
		&model.JWTTokenBlacklist{},
		&model.CronJobLog{},
	)
	if err != nil {
		s.log.Error("auto migrate failed", zap.Error(err))
		return err
	}

	return nil
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the GORM DB instance for use in services and handlers
func (s *GORMStore) GetDB() *gorm.DB {
	return s.db
}

// HealthCheck verifies the database connection is alive
func (s *GORMStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

var _ Storage = (*GORMStore)(nil)
