package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"stockdata/internal/config"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// MigrationFiles lists the *.sql files under dir in lexical order.
func MigrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Migrate applies every migration file under dir. The files are written to
// be idempotent, so reapplying them is safe.
func (s *Store) Migrate(ctx context.Context, dir string) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	files, err := MigrationFiles(dir)
	if err != nil {
		return 0, err
	}
	for i, file := range files {
		body, readErr := os.ReadFile(file)
		if readErr != nil {
			return i, fmt.Errorf("read migration %s: %w", file, readErr)
		}
		if _, execErr := pool.Exec(ctx, string(body)); execErr != nil {
			return i, fmt.Errorf("apply migration %s: %w", filepath.Base(file), execErr)
		}
	}
	return len(files), nil
}
