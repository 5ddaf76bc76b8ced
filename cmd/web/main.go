// cmd/web/main.go
//
// shortmap – HTTP entry point.
//
// Start-up sequence
// -----------------
//
//  1. Load env vars (host-wide file → .env fallback).
//
//  2. Install the bootstrap console logger so config loading can log.
//
//  3. Connect to Vault when VAULT_ADDR is set, then load configuration.
//
//  4. Start the daily rotating file logger (tees to console in a TTY).
//
//  5. Open the database and ensure the schema.  A schema failure is fatal;
//     there is no safe degraded mode without the table.
//
//  6. Build store, classifier, and sweeper; start the periodic sweep.
//
//  7. Wire the optional legacy Redis source behind /api/migrate.
//
//  8. Serve HTTP with ForceHTTPS (when enabled) until SIGINT or SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/yanizio/shortmap/internal/api"
	"github.com/yanizio/shortmap/internal/auth"
	"github.com/yanizio/shortmap/internal/config"
	"github.com/yanizio/shortmap/internal/database"
	"github.com/yanizio/shortmap/internal/logger"
	"github.com/yanizio/shortmap/internal/mapping"
	"github.com/yanizio/shortmap/internal/middleware"
	"github.com/yanizio/shortmap/internal/migrate"
	"github.com/yanizio/shortmap/internal/server"
	"github.com/yanizio/shortmap/internal/vault"
)

const (
	serverEnvPath = "/usr/local/etc/shortmap/global.env"
	shutdownGrace = 15 * time.Second
)

// loadEnv prefers the host-wide env file; on dev it falls back to .env.
func loadEnv() {
	if _, err := os.Stat(serverEnvPath); err == nil {
		_ = godotenv.Load(serverEnvPath)
		return
	}
	_ = godotenv.Load()
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func init() { loadEnv() }

func main() {
	boot := logger.Bootstrap()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Secrets and configuration ───────────────────────────────────
	//
	var secrets config.SecretGetter
	if os.Getenv("VAULT_ADDR") != "" {
		vc, err := vault.New(ctx, zap.L())
		if err != nil {
			boot.Fatalw("vault connect", "err", err)
		}
		secrets = vc
	}
	cfg, err := config.Load(ctx, secrets)
	if err != nil {
		boot.Fatalw("load config", "err", err)
	}

	log, err := logger.New(cfg.Paths.Root, cfg.Log.Level, runningInTTY())
	if err != nil {
		boot.Fatalw("start logger", "err", err)
	}
	defer func() { _ = log.Sync() }()
	zl := log.Desugar()

	//
	// ── 2.  Database and schema ─────────────────────────────────────────
	//
	opts := database.DefaultOptions()
	opts.MaxOpenConns = cfg.Database.MaxOpen
	opts.MaxIdleConns = cfg.Database.MaxIdle
	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, opts)
	if err != nil {
		log.Fatalw("connect database", "err", err)
	}
	defer db.Close()

	dialect, err := mapping.DialectFor(cfg.Database.Driver)
	if err != nil {
		log.Fatalw("database dialect", "err", err)
	}
	if err := mapping.EnsureSchema(ctx, db, dialect, zl); err != nil {
		log.Fatalw("ensure schema", "err", err)
	}

	//
	// ── 3.  Registry core ───────────────────────────────────────────────
	//
	reserved := mapping.NewReserved(cfg.Registry.ReservedPaths...)
	loc := cfg.Registry.Location()
	common := []mapping.Option{
		mapping.WithReserved(reserved),
		mapping.WithLogger(zl),
		mapping.WithLocation(loc),
	}
	store := mapping.NewStore(db, common...)
	classifier := mapping.NewClassifier(db, common...)
	sweeper := mapping.NewSweeper(db, common...)

	go sweeper.Run(ctx, cfg.Registry.SweepInterval, cfg.Registry.SweepBatchSize)
	log.Infow("sweeper scheduled",
		"interval", cfg.Registry.SweepInterval,
		"batch", cfg.Registry.SweepBatchSize,
		"timezone", loc.String())

	//
	// ── 4.  Legacy source (optional) ────────────────────────────────────
	//
	var runMigrate api.MigrateFunc
	if cfg.Legacy.RedisAddr != "" {
		rdb, err := migrate.DialRedis(ctx, cfg.Legacy.RedisAddr, cfg.Legacy.RedisPassword, cfg.Legacy.RedisDB)
		if err != nil {
			// The registry works without it; /api/migrate reports 503.
			log.Errorw("legacy source unavailable", "addr", cfg.Legacy.RedisAddr, "err", err)
		} else {
			defer rdb.Close()
			src := migrate.NewRedisSource(rdb, cfg.Legacy.KeyPrefix)
			importer := migrate.NewImporter(store, reserved, cfg.Legacy.PageSize, zl)
			runMigrate = func(ctx context.Context) (migrate.Result, error) {
				return importer.Migrate(ctx, src)
			}
			log.Infow("legacy source online", "addr", cfg.Legacy.RedisAddr)
		}
	}

	//
	// ── 5.  HTTP ────────────────────────────────────────────────────────
	//
	var static http.FileSystem
	if dir := filepath.Join(cfg.Paths.Root, "public"); dirExists(dir) {
		static = http.Dir(dir)
	}
	h := api.New(api.Options{
		Store:          store,
		Classifier:     classifier,
		Sweeper:        sweeper,
		Migrate:        runMigrate,
		Guard:          auth.New(cfg.Auth.Password),
		Static:         static,
		SweepBatchSize: cfg.Registry.SweepBatchSize,
		Logger:         zl,
	})
	root := middleware.ForceHTTPS(cfg.HTTP.ForceHTTPS)(h.Routes())

	if err := server.Run(ctx, server.New(cfg.HTTP, root), shutdownGrace); err != nil {
		log.Fatalw("http server", "err", err)
	}
	log.Info("bye")
}

func dirExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
