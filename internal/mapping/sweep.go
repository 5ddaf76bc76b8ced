// internal/mapping/sweep.go
//
// Cleanup Sweeper.
//
// Context
// -------
// Sweep deletes mappings whose expiry is strictly before "now" in bounded
// batches: select up to N paths, delete exactly those, repeat until a batch
// comes back short.  Each DELETE is atomic on its own, so an interrupted
// sweep leaves some expired rows for the next run and nothing half-written.
// Two sweeps racing each other only ever delete a row once.
//
// Unlike the Classifier, the cut-off here is instant-granular.  The cut-off
// is taken once per sweep so rows expiring during a long run wait for the
// next one.
//
// Run wraps Sweep in a ticker loop for the periodic trigger.
package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/shortmap/internal/metrics"
)

// DefaultBatchSize matches the size used by the scheduled trigger.
const DefaultBatchSize = 100

// Sweeper deletes expired mappings.
type Sweeper struct {
	db  *sqlx.DB
	now func() time.Time
	log *zap.Logger
}

// NewSweeper binds a Sweeper to db.
func NewSweeper(db *sqlx.DB, opts ...Option) *Sweeper {
	o := buildOptions(opts)
	return &Sweeper{db: db, now: o.now, log: o.log}
}

// Sweep removes every mapping expired before now and returns the number of
// rows deleted.  ctx is checked between batches.
func (s *Sweeper) Sweep(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, invalid("batch size must be positive")
	}
	cutoff := FormatTime(s.now())
	deleted := 0

	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		var paths []string
		err := s.db.SelectContext(ctx, &paths, `
		    SELECT path
		    FROM   mappings
		    WHERE  expiry IS NOT NULL
		      AND  expiry < ?
		    LIMIT  ?`, cutoff, batchSize)
		if err != nil {
			return deleted, storeErr("select expired", err)
		}
		if len(paths) == 0 {
			break
		}

		q, args, err := sqlx.In(`DELETE FROM mappings WHERE path IN (?)`, paths)
		if err != nil {
			return deleted, fmt.Errorf("build delete: %w", err)
		}
		res, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return deleted, storeErr("delete expired", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			// Driver cannot report; assume the batch went.
			n = int64(len(paths))
		}
		deleted += int(n)
		metrics.SweptTotal.Add(float64(n))
		s.log.Debug("sweep batch",
			zap.Int("batch", batch),
			zap.Int("selected", len(paths)),
			zap.Int64("deleted", n))

		if len(paths) < batchSize {
			break
		}
	}

	s.log.Info("sweep finished", zap.Int("deleted", deleted), zap.String("cutoff", cutoff))
	return deleted, nil
}

// Run sweeps once per interval until ctx is cancelled.  Failures are logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, batchSize int) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx, batchSize); err != nil && ctx.Err() == nil {
				s.log.Error("scheduled sweep failed", zap.Error(err))
			}
		}
	}
}
