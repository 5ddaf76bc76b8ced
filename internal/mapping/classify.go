package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// LookaheadDays is how far past today the "expiring" window reaches.
const LookaheadDays = 3

// Classification is the operator view of mappings that need attention.
// Both slices are ordered by expiry ascending.
type Classification struct {
	Expiring []Mapping `json:"expiring"`
	Expired  []Mapping `json:"expired"`
}

// Classifier partitions enabled mappings by expiry.  It is read-only.
type Classifier struct {
	db  *sqlx.DB
	loc *time.Location
}

// NewClassifier binds a Classifier to db.  Only WithLocation is consulted.
func NewClassifier(db *sqlx.DB, opts ...Option) *Classifier {
	o := buildOptions(opts)
	return &Classifier{db: db, loc: o.loc}
}

// Window returns the day-granular boundaries for now in loc: the start of
// today and the last millisecond of the day LookaheadDays ahead.
func Window(now time.Time, loc *time.Location) (dayStart, horizon time.Time) {
	local := now.In(loc)
	dayStart = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := dayStart.AddDate(0, 0, LookaheadDays+1)
	horizon = end.Add(-time.Millisecond)
	return dayStart, horizon
}

// Classify returns expired rows (expiry before the start of today) and
// expiring rows (from the start of today through the end of the lookahead
// day, inclusive).  Rows further out, disabled, or without expiry are left
// out.
func (c *Classifier) Classify(ctx context.Context, now time.Time) (Classification, error) {
	dayStart, horizon := Window(now, c.loc)

	var rows []row
	err := c.db.SelectContext(ctx, &rows, `
	    SELECT `+columns+`
	    FROM   mappings
	    WHERE  expiry IS NOT NULL
	      AND  enabled = 1
	      AND  expiry <= ?
	    ORDER  BY expiry ASC`, FormatTime(horizon))
	if err != nil {
		return Classification{}, storeErr("classify mappings", err)
	}

	out := Classification{Expiring: []Mapping{}, Expired: []Mapping{}}
	for _, r := range rows {
		m := r.mapping()
		if m.Expiry == nil {
			continue
		}
		if m.Expiry.Before(dayStart) {
			out.Expired = append(out.Expired, m)
		} else {
			out.Expiring = append(out.Expiring, m)
		}
	}
	return out, nil
}

// String is used in debug logs.
func (c Classification) String() string {
	return fmt.Sprintf("expiring=%d expired=%d", len(c.Expiring), len(c.Expired))
}
