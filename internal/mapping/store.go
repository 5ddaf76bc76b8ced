// internal/mapping/store.go
//
// Mapping Store: CRUD and resolution over the `mappings` table.
//
// Context
// -------
// Every operation is a single statement against the injected *sqlx.DB, so
// atomicity comes from the engine's per-statement guarantees rather than
// from in-process locks.  In particular, renaming a mapping is one UPDATE
// that rewrites the primary key; there is never a moment where both keys,
// or neither, resolve.
//
// Workflow
// --------
//  1. Validate input locally (ErrValidation, ErrReservedPath).
//  2. Execute one parameterised statement.
//  3. Classify driver errors (ErrDuplicatePath, ErrStoreUnavailable).
//
// Notes
// -----
// • Resolve coalesces concurrent lookups of the same path through
//   singleflight; the expiry check runs per caller against the clock.
// • Oxford commas, two spaces after periods.
package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/shortmap/internal/metrics"
)

// Store is safe for concurrent use.  Construct with NewStore.
type Store struct {
	db       *sqlx.DB
	reserved Reserved
	now      func() time.Time
	log      *zap.Logger
	lookups  singleflight.Group
}

// Option customises a Store, Classifier, or Sweeper.
type Option func(*options)

type options struct {
	reserved Reserved
	now      func() time.Time
	log      *zap.Logger
	loc      *time.Location
}

// WithReserved replaces the default reserved set.
func WithReserved(r Reserved) Option { return func(o *options) { o.reserved = r } }

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithLogger attaches a logger.  Nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithLocation sets the timezone used for day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		reserved: NewReserved(),
		now:      time.Now,
		log:      zap.NewNop(),
		loc:      time.Local,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewStore returns a Store bound to db.
func NewStore(db *sqlx.DB, opts ...Option) *Store {
	o := buildOptions(opts)
	return &Store{db: db, reserved: o.reserved, now: o.now, log: o.log}
}

// Reserved exposes the configured reserved set.
func (s *Store) Reserved() Reserved { return s.reserved }

/*──────────────────────────── list ─────────────────────────────────────────*/

// Page is one slice of the admin listing.
type Page struct {
	Records    []Mapping `json:"records"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	TotalPages int       `json:"totalPages"`
}

// MaxPageSize caps one listing page.
const MaxPageSize = 100

// List returns mappings newest first, excluding reserved paths.  An empty
// page is not an error.
func (s *Store) List(ctx context.Context, page, pageSize int) (Page, error) {
	if page < 1 || pageSize < 1 {
		return Page{}, invalid("page and pageSize must be at least 1")
	}
	if pageSize > MaxPageSize {
		return Page{}, invalid("pageSize must be at most %d", MaxPageSize)
	}
	if page-1 > math.MaxInt32/pageSize {
		return Page{}, invalid("page %d is out of range", page)
	}
	out := Page{Records: []Mapping{}, Page: page, PageSize: pageSize}

	countQ, countArgs, err := sqlx.In(
		`SELECT COUNT(*) FROM mappings WHERE path NOT IN (?)`, s.reserved.List())
	if err != nil {
		return Page{}, fmt.Errorf("build count: %w", err)
	}
	if err := s.db.GetContext(ctx, &out.Total, countQ, countArgs...); err != nil {
		return Page{}, storeErr("count mappings", err)
	}
	if out.Total == 0 {
		return out, nil
	}
	out.TotalPages = (out.Total + pageSize - 1) / pageSize

	listQ, listArgs, err := sqlx.In(`
	    SELECT `+columns+`
	    FROM   mappings
	    WHERE  path NOT IN (?)
	    ORDER  BY created_at DESC
	    LIMIT  ? OFFSET ?`,
		s.reserved.List(), pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("build list: %w", err)
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, listQ, listArgs...); err != nil {
		return Page{}, storeErr("list mappings", err)
	}
	for _, r := range rows {
		out.Records = append(out.Records, r.mapping())
	}
	return out, nil
}

/*──────────────────────────── create ───────────────────────────────────────*/

// Create validates in and inserts exactly one row.  created_at is assigned
// here, never by the caller.
func (s *Store) Create(ctx context.Context, in Input) error {
	if strings.TrimSpace(in.Path) == "" || strings.TrimSpace(in.Target) == "" {
		return invalid("path and target are required")
	}
	if s.reserved.Contains(in.Path) {
		return fmt.Errorf("create %q: %w", in.Path, ErrReservedPath)
	}
	expiry, err := normalizeExpiry(in.Expiry)
	if err != nil {
		return err
	}
	if in.IsWechat && (in.QRCodeData == nil || *in.QRCodeData == "") {
		return invalid("wechat mappings require qrCodeData")
	}
	enabled := in.Enabled == nil || *in.Enabled

	const q = `
	    INSERT INTO mappings (path, target, name, expiry, enabled, created_at,
	                          isWechat, qrCodeData, imageUrl, imageBase64, imageAlt)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		in.Path, in.Target, nullIfEmpty(in.Name), expiry, boolInt(enabled),
		FormatTime(s.now()), boolInt(in.IsWechat), nullable(in.QRCodeData),
		nullable(in.ImageURL), nullable(in.ImageBase64), nullable(in.ImageAlt))
	if err != nil {
		err = storeErr(fmt.Sprintf("create %q", in.Path), err)
		if !errors.Is(err, ErrDuplicatePath) {
			s.log.Error("mapping create failed", zap.String("path", in.Path), zap.Error(err))
		}
		return err
	}
	metrics.MappingMutationsTotal.WithLabelValues("create").Inc()
	return nil
}

/*──────────────────────────── update ───────────────────────────────────────*/

// Update rewrites originalPath with p.  Media fields left absent in p keep
// their stored values.  When p.Path differs from originalPath the row is
// relocated by the same statement.
func (s *Store) Update(ctx context.Context, originalPath string, p Patch) error {
	if originalPath == "" || strings.TrimSpace(p.Path) == "" || strings.TrimSpace(p.Target) == "" {
		return invalid("originalPath, path, and target are required")
	}
	if s.reserved.Contains(p.Path) {
		return fmt.Errorf("update to %q: %w", p.Path, ErrReservedPath)
	}
	if s.reserved.Contains(originalPath) {
		return fmt.Errorf("update %q: %w", originalPath, ErrReservedPath)
	}
	expiry, err := normalizeExpiry(p.Expiry)
	if err != nil {
		return err
	}

	var prev row
	err = s.db.GetContext(ctx, &prev, `
	    SELECT `+columns+`
	    FROM   mappings
	    WHERE  path = ?`, originalPath)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %q: %w", originalPath, ErrNotFound)
	}
	if err != nil {
		return storeErr(fmt.Sprintf("load %q", originalPath), err)
	}

	cur := prev.mapping()
	qr := p.QRCodeData.Merge(cur.QRCodeData)
	imageURL := p.ImageURL.Merge(cur.ImageURL)
	imageB64 := p.ImageBase64.Merge(cur.ImageBase64)
	imageAlt := p.ImageAlt.Merge(cur.ImageAlt)

	if p.IsWechat && (qr == nil || *qr == "") {
		return invalid("wechat mappings require qrCodeData")
	}
	enabled := p.Enabled == nil || *p.Enabled

	const q = `
	    UPDATE mappings
	    SET    path = ?, target = ?, name = ?, expiry = ?, enabled = ?,
	           isWechat = ?, qrCodeData = ?, imageUrl = ?, imageBase64 = ?, imageAlt = ?
	    WHERE  path = ?`
	res, err := s.db.ExecContext(ctx, q,
		p.Path, p.Target, nullIfEmpty(p.Name), expiry, boolInt(enabled),
		boolInt(p.IsWechat), nullable(qr), nullable(imageURL), nullable(imageB64),
		nullable(imageAlt), originalPath)
	if err != nil {
		err = storeErr(fmt.Sprintf("update %q", originalPath), err)
		if !errors.Is(err, ErrDuplicatePath) {
			s.log.Error("mapping update failed", zap.String("path", originalPath), zap.Error(err))
		}
		return err
	}
	// Deleted between the read and the write.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %q: %w", originalPath, ErrNotFound)
	}
	metrics.MappingMutationsTotal.WithLabelValues("update").Inc()
	return nil
}

/*──────────────────────────── delete ───────────────────────────────────────*/

// Delete removes path.  A missing row is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	if path == "" {
		return invalid("path is required")
	}
	if s.reserved.Contains(path) {
		return fmt.Errorf("delete %q: %w", path, ErrReservedPath)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM mappings WHERE path = ?`, path)
	if err != nil {
		err = storeErr(fmt.Sprintf("delete %q", path), err)
		s.log.Error("mapping delete failed", zap.String("path", path), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		metrics.MappingMutationsTotal.WithLabelValues("delete").Inc()
	}
	return nil
}

/*──────────────────────────── resolve ──────────────────────────────────────*/

// State is the outcome of a resolution.
type State int

const (
	NotFound State = iota
	Active
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	default:
		return "not_found"
	}
}

// Resolution carries the state and, unless NotFound, the record.
type Resolution struct {
	State   State
	Mapping *Mapping
}

// lookupTimeout bounds a coalesced Resolve query, which runs detached from
// the cancellation of whichever caller started it.
const lookupTimeout = 5 * time.Second

// Resolve looks up path for the redirect handler.  Disabled rows and
// reserved paths are NotFound.  A row whose expiry has passed is Expired,
// even if the sweeper has not removed it yet.
func (s *Store) Resolve(ctx context.Context, path string) (Resolution, error) {
	if path == "" || s.reserved.Contains(path) {
		return Resolution{State: NotFound}, nil
	}

	// The shared lookup must outlive any single caller; a visitor who
	// disconnects only abandons their own wait.
	ch := s.lookups.DoChan(path, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		var r row
		err := s.db.GetContext(qctx, &r, `
		    SELECT `+columns+`
		    FROM   mappings
		    WHERE  path = ?`, path)
		if errors.Is(err, sql.ErrNoRows) {
			return (*Mapping)(nil), nil
		}
		if err != nil {
			return nil, storeErr(fmt.Sprintf("resolve %q", path), err)
		}
		m := r.mapping()
		return &m, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Resolution{State: NotFound}, ctx.Err()
	}
	if res.Err != nil {
		return Resolution{State: NotFound}, res.Err
	}

	m := res.Val.(*Mapping)
	if m == nil || !m.Enabled {
		return Resolution{State: NotFound}, nil
	}
	// Copy so callers sharing a singleflight result cannot alias.
	cp := *m
	if cp.Expiry != nil && cp.Expiry.Before(s.now()) {
		return Resolution{State: Expired, Mapping: &cp}, nil
	}
	return Resolution{State: Active, Mapping: &cp}, nil
}
