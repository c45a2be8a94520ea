// Package dbtest opens migrated in-memory SQLite stores for tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pixscaler/pixscaler-api/database"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewStore returns a migrated store private to the calling test.
func NewStore(t testing.TB) *database.GORMStore {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store, err := database.NewGORMStore(db, nil)
	require.NoError(t, err)
	require.NoError(t, store.Init())

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewDB is NewStore for callers that only need the handle.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	return NewStore(t).GetDB()
}
