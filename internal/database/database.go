// Package database centralises sqlx connection helpers for the mapping
// store.  Two engines are linked in:
//
//	sqlite – modernc.org/sqlite, pure Go, the default for single-node
//	         installs.
//	mysql  – go-sql-driver/mysql, also works with MariaDB.
//
// Open pings the database before returning so callers can fail fast
// during bootstrap.  Callers should Close() the returned *sqlx.DB when no
// longer needed.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Options tunes the pool and the startup ping.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	Retries         int
	RetryBackoff    time.Duration
}

// DefaultOptions mirrors what most deployments want: 15 open, 5 idle, a
// 30-minute lifetime, and three ping attempts.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    15,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
		Retries:         3,
		RetryBackoff:    time.Second,
	}
}

// Open connects with driver ("sqlite" or "mysql") and pings until the
// database answers or the retries run out.
func Open(ctx context.Context, driver, dsn string, o Options) (*sqlx.DB, error) {
	switch driver {
	case "sqlite", "mysql":
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", driver)
	}

	if driver == "sqlite" {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	// SQLite serialises writers; one connection avoids SQLITE_BUSY and
	// keeps ":memory:" databases from splitting per connection.
	if driver == "sqlite" {
		o.MaxOpenConns, o.MaxIdleConns = 1, 1
	}
	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)

	if err := ping(ctx, db, o); err != nil {
		_ = db.Close()
		return nil, err
	}
	zap.L().Info("database online",
		zap.String("driver", driver),
		zap.Int("max_open", o.MaxOpenConns),
	)
	return db, nil
}

// ensureDir creates the parent directory of a file-backed SQLite DSN.
func ensureDir(dsn string) error {
	p := strings.TrimPrefix(dsn, "file:")
	p, _, _ = strings.Cut(p, "?")
	if p == "" || p == ":memory:" || strings.HasPrefix(p, ":memory:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("database: create dir: %w", err)
	}
	return nil
}

func ping(ctx context.Context, db *sqlx.DB, o Options) error {
	attempts := max(o.Retries, 1)
	var err error
	for i := 0; i < attempts; i++ {
		pctx, cancel := context.WithTimeout(ctx, o.PingTimeout)
		err = db.PingContext(pctx)
		cancel()
		if err == nil {
			return nil
		}
		zap.L().Warn("database ping failed", zap.Int("attempt", i+1), zap.Error(err))
		if i+1 == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.RetryBackoff):
		}
	}
	return fmt.Errorf("database: ping: %w", err)
}
