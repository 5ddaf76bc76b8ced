// internal/migrate/importer.go
//
// Migration Importer.
//
// Context
// -------
// Migrate drains a legacy Source and calls Create for every non-reserved
// key.  One bad entry never stops the run: decode failures, missing
// values, validation errors, and duplicates are logged, counted as
// skipped, and the walk continues.  Nothing is transactional across
// entries, which is what makes a re-run safe; entries already imported
// fail with a duplicate error and are skipped.
//
// Only a listing failure or cancellation aborts.  The Result returned
// alongside that error reports progress so far, and re-running resumes
// naturally.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yanizio/shortmap/internal/mapping"
	"github.com/yanizio/shortmap/internal/metrics"
)

// Creator is the subset of *mapping.Store the importer needs.
type Creator interface {
	Create(ctx context.Context, in mapping.Input) error
}

// Result summarises one run.
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Importer copies legacy entries into the mapping store.
type Importer struct {
	store    Creator
	reserved mapping.Reserved
	pageSize int
	log      *zap.Logger
}

// NewImporter returns an Importer that writes through store.  A nil log
// discards output.
func NewImporter(store Creator, reserved mapping.Reserved, pageSize int, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Importer{store: store, reserved: reserved, pageSize: pageSize, log: log}
}

// legacyValue is the JSON document stored per key by the previous
// deployment.  Enabled is a pointer so an absent flag means true.
type legacyValue struct {
	Target      string  `json:"target"`
	Name        *string `json:"name"`
	Expiry      *string `json:"expiry"`
	Enabled     *bool   `json:"enabled"`
	IsWechat    bool    `json:"isWechat"`
	QRCodeData  *string `json:"qrCodeData"`
	ImageURL    *string `json:"imageUrl"`
	ImageBase64 *string `json:"imageBase64"`
	ImageAlt    *string `json:"imageAlt"`
}

func (v legacyValue) input(path string) mapping.Input {
	in := mapping.Input{
		Path:        path,
		Target:      v.Target,
		Name:        v.Name,
		Enabled:     v.Enabled,
		IsWechat:    v.IsWechat,
		QRCodeData:  v.QRCodeData,
		ImageURL:    emptyToNil(v.ImageURL),
		ImageBase64: emptyToNil(v.ImageBase64),
		ImageAlt:    emptyToNil(v.ImageAlt),
	}
	if v.Expiry != nil {
		in.Expiry = *v.Expiry
	}
	return in
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// Migrate walks src to exhaustion.
func (im *Importer) Migrate(ctx context.Context, src Source) (Result, error) {
	var res Result

	for p, err := range Pairs(ctx, src, im.pageSize, im.reserved.Contains) {
		if err != nil {
			im.log.Error("migration aborted",
				zap.Int("imported", res.Imported),
				zap.Int("skipped", res.Skipped),
				zap.Error(err))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			return res, fmt.Errorf("list legacy keys: %w", err)
		}

		if reason := im.importOne(ctx, p); reason != nil {
			res.Skipped++
			metrics.MigratedTotal.WithLabelValues("skipped").Inc()
			im.log.Warn("legacy entry skipped", zap.String("path", p.Key), zap.Error(reason))
			continue
		}
		res.Imported++
		metrics.MigratedTotal.WithLabelValues("imported").Inc()
	}

	im.log.Info("migration finished",
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

var (
	errReservedKey = errors.New("reserved key")
	errVanished    = errors.New("value vanished")
)

// importOne returns nil on success or the reason the entry was skipped.
func (im *Importer) importOne(ctx context.Context, p Pair) error {
	switch {
	case p.Skipped:
		return errReservedKey
	case p.Err != nil:
		return fmt.Errorf("fetch: %w", p.Err)
	case !p.Found || len(p.Value) == 0:
		return errVanished
	}

	var v legacyValue
	if err := json.Unmarshal(p.Value, &v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return im.store.Create(ctx, v.input(p.Key))
}
