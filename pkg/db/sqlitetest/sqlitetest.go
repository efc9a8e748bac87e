// Package sqlitetest opens isolated in-memory sqlite databases for repository tests.
package sqlitetest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
)

// AllModels lists every table owned by the engine.
func AllModels() []any {
	return []any{
		&models.Customer{},
		&models.Subscription{},
		&models.BillingEvent{},
		&models.EntitlementSnapshot{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// Open returns a private in-memory database with the given models migrated.
// A single pooled connection keeps the database alive and serializes writers.
func Open(t testing.TB, tables ...any) *gorm.DB {
	t.Helper()
	if len(tables) == 0 {
		tables = AllModels()
	}
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(tables...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}
