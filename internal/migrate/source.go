// internal/migrate/source.go
//
// Legacy key-value source contract and lazy cursor walk.
//
// Context
// -------
// The previous deployment kept every mapping as a JSON value in a
// cursor-paginated key-value store.  `Source` is the minimal contract the
// importer needs from it: list one page of keys from a cursor, and fetch
// one value.  `Pairs` turns that into a lazy, restartable sequence; ranging
// over it again starts a fresh walk from the first page.
//
// Notes
// -----
// • An empty next cursor ends the walk.  So does an empty first page with
//   no cursor.
// • The skip predicate runs before the value is fetched, so reserved keys
//   cost one list entry and no round trip.
package migrate

import (
	"context"
	"iter"
)

// DefaultPageSize is the listing page size requested from the source.
const DefaultPageSize = 1000

// Page is one listing result.  Cursor is empty on the last page.
type Page struct {
	Keys   []string
	Cursor string
}

// Source is a cursor-paginated key-value store.
type Source interface {
	// List returns up to limit keys starting at cursor ("" for the first
	// page).  limit is a hint; sources may return more or fewer.
	List(ctx context.Context, cursor string, limit int) (Page, error)

	// Get returns the raw value for key.  ok is false when the key has
	// vanished since it was listed.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// Pair is one key and its fetched value.  Found is false when the value
// vanished between List and Get; Err carries a per-key fetch failure.
type Pair struct {
	Key     string
	Value   []byte
	Found   bool
	Skipped bool
	Err     error
}

// Pairs walks src page by page.  Keys for which skip returns true are
// yielded with Skipped set and no value.  A listing failure is yielded as
// the error and ends the sequence.
func Pairs(ctx context.Context, src Source, pageSize int, skip func(string) bool) iter.Seq2[Pair, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(Pair, error) bool) {
		cursor := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(Pair{}, err)
				return
			}
			page, err := src.List(ctx, cursor, pageSize)
			if err != nil {
				yield(Pair{}, err)
				return
			}
			for _, key := range page.Keys {
				if err := ctx.Err(); err != nil {
					yield(Pair{}, err)
					return
				}
				if skip != nil && skip(key) {
					if !yield(Pair{Key: key, Skipped: true}, nil) {
						return
					}
					continue
				}
				val, ok, err := src.Get(ctx, key)
				if !yield(Pair{Key: key, Value: val, Found: ok, Err: err}, nil) {
					return
				}
			}
			if page.Cursor == "" {
				return
			}
			cursor = page.Cursor
		}
	}
}
