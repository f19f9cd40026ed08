package database

import (
	"database/sql"
	"fmt"
	"time"

	"ms-raffle/internal/config"
	"ms-raffle/internal/logger"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const retryDelay = 2 * time.Second

// Connect opens the configured store, retrying while PostgreSQL comes up.
func Connect(cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return connectSQLite(cfg, log)
	case "postgres", "":
		return connectPostgres(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}
}

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	tries := cfg.ConnectTries
	if tries < 1 {
		tries = 1
	}

	var sqldb *sql.DB
	var err error
	for i := 0; i < tries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, tries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < tries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL after %d attempts: %w", tries, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.LogDatabase("CONNECT", "postgres", fmt.Sprintf("✅ connected, pool max %d open / %d idle", cfg.MaxOpenConns, cfg.MaxIdleConns))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func connectSQLite(cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("open SQLite: %w", err)
	}
	// SQLite allows a single writer
	sqldb.SetMaxOpenConns(1)
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping SQLite: %w", err)
	}

	log.LogDatabase("CONNECT", "sqlite", fmt.Sprintf("✅ store opened at %s", cfg.SQLiteDSN))
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}
