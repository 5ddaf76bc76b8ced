// internal/config/model.go
//
// Typed configuration model for shortmap.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                            – dotenv values,
//   • `conf/global.yaml`                         – primary static file,
//   • `SHORTMAP_`-prefixed environment overrides – highest precedence.
//
// Any string value that begins with `vault:` is resolved through the
// secret resolver *before* unmarshalling, so the model never stores Vault
// references.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`; Koanf ignores `yaml` tags.
//   • Durations are written as Go duration strings ("90s", "1h").
//   • `Paths` is filled at runtime; YAML must not try to set it.
package config

import "time"

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr   string        `koanf:"listen_addr"   validate:"required,hostname_port"`
	ForceHTTPS   bool          `koanf:"force_https"`
	ReadTimeout  time.Duration `koanf:"read_timeout"  validate:"gte=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"  validate:"gte=0"`
}

// Database selects the relational engine behind the mapping store.
type Database struct {
	Driver  string `koanf:"driver"   validate:"required,oneof=sqlite mysql"`
	DSN     string `koanf:"dsn"      validate:"required"`
	MaxOpen int    `koanf:"max_open" validate:"gte=0"`
	MaxIdle int    `koanf:"max_idle" validate:"gte=0"`
}

// Auth protects the admin API.
type Auth struct {
	Password string `koanf:"password" validate:"required,min=8"`
}

// Registry tunes the mapping core.
type Registry struct {
	// ReservedPaths extends the built-in reserved set.
	ReservedPaths  []string      `koanf:"reserved_paths"`
	Timezone       string        `koanf:"timezone"`
	SweepInterval  time.Duration `koanf:"sweep_interval"   validate:"gte=0"`
	SweepBatchSize int           `koanf:"sweep_batch_size" validate:"gte=1"`
}

// Legacy points at the key-value store being migrated from.  An empty
// RedisAddr disables the migrate endpoint.
type Legacy struct {
	RedisAddr     string `koanf:"redis_addr"     validate:"omitempty,hostname_port"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"       validate:"gte=0"`
	KeyPrefix     string `koanf:"key_prefix"`
	PageSize      int    `koanf:"page_size"      validate:"gte=1"`
}

// Log controls the file logger.
type Log struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Paths is resolved at runtime, never loaded from files.
type Paths struct {
	Root string // SHORTMAP_ROOT or discovered parent
}

// Config is the aggregate returned by Load().
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Auth     Auth     `koanf:"auth"`
	Registry Registry `koanf:"registry"`
	Legacy   Legacy   `koanf:"legacy"`
	Log      Log      `koanf:"log"`
	Paths    Paths    `koanf:"-"`
}

// Location returns the configured timezone, falling back to the process
// local zone when unset or unknown.
func (r Registry) Location() *time.Location {
	if r.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// applyDefaults fills zero values the YAML left out.
func (c *Config) applyDefaults() {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.MaxOpen == 0 {
		c.Database.MaxOpen = 15
	}
	if c.Database.MaxIdle == 0 {
		c.Database.MaxIdle = 5
	}
	if c.Registry.SweepInterval == 0 {
		c.Registry.SweepInterval = time.Hour
	}
	if c.Registry.SweepBatchSize == 0 {
		c.Registry.SweepBatchSize = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Legacy.PageSize == 0 {
		c.Legacy.PageSize = 1000
	}
}
