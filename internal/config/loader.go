// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` from three layers (highest
precedence last):

  1. Optional `.env` file at `<root>/conf/.env`.
  2. `conf/global.yaml`.
  3. Environment variables prefixed `SHORTMAP_`, where `__` maps to "."
     (e.g., `SHORTMAP_DATABASE__DSN → database.dsn`).

Between merging and unmarshalling, every string of the form
`vault:<mount>/<path>#<key>` is swapped for the secret it names.  The tree
is then unmarshalled, defaulted, and validated.  Load runs once in main;
the result is passed down explicitly.

Instrumentation
---------------
  • DEBUG: root discovery, YAML read, secret resolution.
  • ERROR: YAML parse, env overlay, secret, unmarshal, validation failures.
  • INFO:  final "config loaded" with key highlights.
  Logs go through the global sugared logger (`zap.S()`), which prints to
  the bootstrap console until the file logger is installed.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const (
	envPrefix   = "SHORTMAP_"
	vaultPrefix = "vault:"
	secretTTL   = 10 * time.Minute
)

// SecretGetter resolves one key of a KV secret.  *vault.Client satisfies
// it.
type SecretGetter interface {
	GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error)
}

/*──────────────────────────── root discovery ───────────────────────────────*/

// RootDir resolves SHORTMAP_ROOT or climbs from the working directory
// until conf/global.yaml is found.
func RootDir() string {
	if r := os.Getenv("SHORTMAP_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, env overrides, resolves secrets, and validates.  secrets may be nil when no value uses `vault:`.
func Load(ctx context.Context, secrets SecretGetter) (*Config, error) {
	root := RootDir()
	zap.S().Debugw("config root resolved", "root", root)

	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, envPrefix), "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	if err := resolveSecrets(ctx, k, secrets); err != nil {
		zap.S().Errorw("config secret resolution failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.applyDefaults()
	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"driver", cfg.Database.Driver,
		"legacy_source", cfg.Legacy.RedisAddr != "",
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

// resolveSecrets replaces `vault:<path>#<key>` strings in place.
func resolveSecrets(ctx context.Context, k *koanf.Koanf, secrets SecretGetter) error {
	for key, val := range k.All() {
		s, ok := val.(string)
		if !ok || !strings.HasPrefix(s, vaultPrefix) {
			continue
		}
		if secrets == nil {
			return fmt.Errorf("%s references a secret but no secret store is configured", key)
		}
		path, field, ok := strings.Cut(strings.TrimPrefix(s, vaultPrefix), "#")
		if !ok || path == "" || field == "" {
			return fmt.Errorf("%s: malformed secret reference %q", key, s)
		}
		secret, err := secrets.GetKV(ctx, path, field, secretTTL)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := k.Set(key, secret); err != nil {
			return err
		}
		zap.S().Debugw("config secret resolved", "key", key, "path", path)
	}
	return nil
}
