package db

import (
	"fmt"
	"os"
	"strings"

	"signage-fleet/confs"
	"signage-fleet/entities"
	"signage-fleet/logging"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// Connect opens the database selected by cfg.DBDriver and runs migrations.
func Connect(cfg confs.Config, lg zerolog.Logger) (*GormDatabase, error) {
	lg = lg.With().Str("component", "db").Logger()

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		lg.Info().Str("path", cfg.SQLitePath).Msg("opening sqlite database")
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dsn, err := postgresDSN(lg)
		if err != nil {
			return nil, err
		}
		dialector = postgres.Open(dsn)
	}

	database, err := Open(dialector, logging.Gorm(lg, cfg.DBLogLevel))
	if err != nil {
		return nil, err
	}

	sqlDB, err := database.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite serializes writers; one connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(0)
	}

	lg.Info().Str("driver", cfg.DBDriver).Msg("database ready")
	return database, nil
}

// Open connects through dialector and migrates the schema.
func Open(dialector gorm.Dialector, gl gormlog.Interface) (*GormDatabase, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gl,
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&entities.Device{}, &entities.ContentItem{}, &entities.CommandRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GormDatabase{DB: db}, nil
}

func postgresDSN(lg zerolog.Logger) (string, error) {
	// Check if DB_URL is provided (connection string)
	if dsn := os.Getenv("DB_URL"); dsn != "" {
		if !strings.Contains(dsn, "sslmode=") {
			if strings.Contains(dsn, "?") {
				dsn += "&sslmode=require"
			} else {
				dsn += "?sslmode=require"
			}
		}
		lg.Info().Msg("connecting to postgres using DB_URL")
		return dsn, nil
	}

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")

	if dbHost == "" || dbPort == "" || dbUser == "" || dbPassword == "" || dbName == "" {
		return "", fmt.Errorf("missing required database configuration: DB_URL or (DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME)")
	}

	sslMode := "require"
	if dbHost == "localhost" || dbHost == "127.0.0.1" {
		sslMode = "disable"
	}

	lg.Info().Str("host", dbHost).Str("sslmode", sslMode).Msg("connecting to postgres")
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		dbHost, dbUser, dbPassword, dbName, dbPort, sslMode), nil
}
