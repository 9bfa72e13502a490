package database

import (
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/saxenaaman628/balance-game/config"
	"github.com/saxenaaman628/balance-game/internal/models"
)

// Open connects to the configured database and migrates the schema.
// Plugins are registered before migration so every write is observed.
func Open(databaseType, dsn string, plugins ...gorm.Plugin) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch databaseType {
	case config.DatabaseSQLite:
		dialector = sqlite.Open(sqliteDSN(dsn))
	case config.DatabasePostgres:
		// lib/pq instead of the pgx default; the notifier listens through it too.
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: dsn})
	default:
		return nil, fmt.Errorf("unsupported database type %q", databaseType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", databaseType, err)
	}

	if databaseType == config.DatabaseSQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY under concurrent votes.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	for _, p := range plugins {
		if err := db.Use(p); err != nil {
			return nil, fmt.Errorf("register plugin %s: %w", p.Name(), err)
		}
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	slog.Info("database schema ready", "type", databaseType)
	return db, nil
}

// Migrate creates or updates all tables. Safe to call multiple times.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Game{}, &models.Vote{}, &models.Comment{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// sqliteDSN turns foreign keys on; sqlite leaves them off per connection.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + "_foreign_keys=on"
}
