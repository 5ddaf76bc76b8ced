// internal/mapping/schema.go
//
// Schema Manager.
//
// Context
// -------
// EnsureSchema runs on every process start.  It creates the `mappings`
// table when absent, adds any optional column introduced after the first
// deployment, and makes sure the three lookup indexes exist.  It never
// drops or renames anything, so running it twice is harmless.  Rows whose
// expiry or created_at text is not in TimeLayout are rewritten in place.
//
// Engines differ in three places only: the CREATE TABLE column types, how
// existing columns are listed, and whether CREATE INDEX understands
// IF NOT EXISTS.  Those differences live in `Dialect`.
//
// Notes
// -----
// • Any error is returned wrapped in ErrStoreUnavailable.  There is no
//   degraded mode without a schema; callers abort startup.
// • Oxford commas, two spaces after periods.
package mapping

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Dialect captures the per-engine DDL.
type Dialect struct {
	Name string

	// createTable is the full CREATE TABLE IF NOT EXISTS statement.
	createTable string

	// columnsQuery returns one column, the names of existing columns.
	columnsQuery string

	// addColumn maps an upgradeable column to its type clause.
	addColumn map[string]string

	// indexExists, when set, is queried with the index name before
	// creating it.  Empty means CREATE INDEX IF NOT EXISTS is supported.
	indexExists string
}

// upgradeColumns are the optional columns added after the first release, in
// the order they are appended.
var upgradeColumns = []string{"isWechat", "qrCodeData", "imageUrl", "imageBase64", "imageAlt"}

var indexes = []struct{ name, cols string }{
	{"idx_expiry", "expiry"},
	{"idx_created_at", "created_at"},
	{"idx_enabled_expiry", "enabled, expiry"},
}

// SQLite is the default embedded engine.
var SQLite = Dialect{
	Name: "sqlite",
	createTable: `
	    CREATE TABLE IF NOT EXISTS mappings (
	        path        TEXT PRIMARY KEY,
	        target      TEXT NOT NULL,
	        name        TEXT,
	        expiry      TEXT,
	        enabled     INTEGER DEFAULT 1,
	        created_at  TEXT DEFAULT CURRENT_TIMESTAMP,
	        isWechat    INTEGER DEFAULT 0,
	        qrCodeData  TEXT,
	        imageUrl    TEXT,
	        imageBase64 TEXT,
	        imageAlt    TEXT
	    )`,
	columnsQuery: `SELECT name FROM pragma_table_info('mappings')`,
	addColumn: map[string]string{
		"isWechat":    "INTEGER DEFAULT 0",
		"qrCodeData":  "TEXT",
		"imageUrl":    "TEXT",
		"imageBase64": "TEXT",
		"imageAlt":    "TEXT",
	},
}

// MySQL covers MySQL, MariaDB, and anything speaking the MySQL protocol.
var MySQL = Dialect{
	Name: "mysql",
	createTable: `
	    CREATE TABLE IF NOT EXISTS mappings (
	        path        VARCHAR(255) NOT NULL PRIMARY KEY,
	        target      TEXT         NOT NULL,
	        name        VARCHAR(255) NULL,
	        expiry      VARCHAR(32)  NULL,
	        enabled     TINYINT(1)   NOT NULL DEFAULT 1,
	        created_at  VARCHAR(32)  NULL,
	        isWechat    TINYINT(1)   NOT NULL DEFAULT 0,
	        qrCodeData  TEXT         NULL,
	        imageUrl    TEXT         NULL,
	        imageBase64 MEDIUMTEXT   NULL,
	        imageAlt    VARCHAR(255) NULL
	    )`,
	columnsQuery: `
	    SELECT column_name
	    FROM   information_schema.columns
	    WHERE  table_schema = DATABASE()
	      AND  table_name   = 'mappings'`,
	addColumn: map[string]string{
		"isWechat":    "TINYINT(1) NOT NULL DEFAULT 0",
		"qrCodeData":  "TEXT NULL",
		"imageUrl":    "TEXT NULL",
		"imageBase64": "MEDIUMTEXT NULL",
		"imageAlt":    "VARCHAR(255) NULL",
	},
	indexExists: `
	    SELECT COUNT(*)
	    FROM   information_schema.statistics
	    WHERE  table_schema = DATABASE()
	      AND  table_name   = 'mappings'
	      AND  index_name   = ?`,
}

// DialectFor returns the Dialect matching a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	}
	return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
}

// EnsureSchema creates or upgrades the mappings table.  Safe to call on
// every start.
func EnsureSchema(ctx context.Context, db *sqlx.DB, d Dialect, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	if _, err := db.ExecContext(ctx, d.createTable); err != nil {
		return fmt.Errorf("create mappings: %w: %v", ErrStoreUnavailable, err)
	}

	var existing []string
	if err := db.SelectContext(ctx, &existing, d.columnsQuery); err != nil {
		return fmt.Errorf("list columns: %w: %v", ErrStoreUnavailable, err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		have[c] = struct{}{}
	}

	for _, col := range upgradeColumns {
		if _, ok := have[col]; ok {
			continue
		}
		q := fmt.Sprintf("ALTER TABLE mappings ADD COLUMN %s %s", col, d.addColumn[col])
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("add column %s: %w: %v", col, ErrStoreUnavailable, err)
		}
		log.Info("mappings column added", zap.String("column", col))
	}

	for _, ix := range indexes {
		if err := ensureIndex(ctx, db, d, ix.name, ix.cols); err != nil {
			return err
		}
	}

	if err := normalizeTimes(ctx, db, log); err != nil {
		return err
	}

	log.Debug("mappings schema ready", zap.String("dialect", d.Name))
	return nil
}

// storedTimePattern is TimeLayout as a LIKE pattern.
const storedTimePattern = "____-__-__T__:__:__.___Z"

type timeRow struct {
	Path      string         `db:"path"`
	Expiry    sql.NullString `db:"expiry"`
	CreatedAt sql.NullString `db:"created_at"`
}

// normalizeTimes rewrites expiry and created_at values left in another
// layout by an earlier deployment.  The sweeper and classifier compare
// these columns as text, so every stored value must be in TimeLayout.
// Unparseable values become NULL, which is how Resolve already reads them.
func normalizeTimes(ctx context.Context, db *sqlx.DB, log *zap.Logger) error {
	var rows []timeRow
	if err := db.SelectContext(ctx, &rows, `
	    SELECT path, expiry, created_at
	    FROM   mappings
	    WHERE  (expiry     IS NOT NULL AND expiry     NOT LIKE ?)
	       OR  (created_at IS NOT NULL AND created_at NOT LIKE ?)`,
		storedTimePattern, storedTimePattern); err != nil {
		return fmt.Errorf("scan stored times: %w: %v", ErrStoreUnavailable, err)
	}

	for _, r := range rows {
		expiry := normalizeStored(r.Expiry)
		created := normalizeStored(r.CreatedAt)
		if _, err := db.ExecContext(ctx,
			`UPDATE mappings SET expiry = ?, created_at = ? WHERE path = ?`,
			expiry, created, r.Path); err != nil {
			return fmt.Errorf("normalise %q: %w: %v", r.Path, ErrStoreUnavailable, err)
		}
		if r.Expiry.Valid && expiry == nil {
			log.Warn("unreadable expiry cleared",
				zap.String("path", r.Path), zap.String("expiry", r.Expiry.String))
		}
	}
	if len(rows) > 0 {
		log.Info("stored times normalised", zap.Int("rows", len(rows)))
	}
	return nil
}

func normalizeStored(ns sql.NullString) any {
	if !ns.Valid {
		return nil
	}
	t, err := ParseExpiry(ns.String)
	if err != nil {
		return nil
	}
	return FormatTime(t)
}

func ensureIndex(ctx context.Context, db *sqlx.DB, d Dialect, name, cols string) error {
	if d.indexExists == "" {
		q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON mappings(%s)", name, cols)
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create index %s: %w: %v", name, ErrStoreUnavailable, err)
		}
		return nil
	}

	var n int
	if err := db.GetContext(ctx, &n, d.indexExists, name); err != nil {
		return fmt.Errorf("check index %s: %w: %v", name, ErrStoreUnavailable, err)
	}
	if n > 0 {
		return nil
	}
	q := fmt.Sprintf("CREATE INDEX %s ON mappings(%s)", name, cols)
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create index %s: %w: %v", name, ErrStoreUnavailable, err)
	}
	return nil
}
