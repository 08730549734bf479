package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/config"

	_ "github.com/lib/pq"
)

// NewPgDB opens a Postgres connection pool and verifies it with a short ping.
func NewPgDB(cfg *config.Config) (*sql.DB, error) {
	dsn := getDSN(cfg.Database)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// ping db to ensure the connection is alive and working
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func getDSN(
	cfg config.DatabaseConfig,
) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}
