// internal/mapping/model.go
//
// Mapping record, create input, and update patch.
//
// Context
// -------
// A Mapping associates a short path with a redirect target plus lifecycle
// metadata.  The table row (`row`) stores timestamps as fixed-width UTC text
// so that lexical comparison in SQL equals chronological order on every
// engine we support.  Callers only ever see the decoded `Mapping`.
//
// Update semantics are carried by `Patch`.  The four media fields
// (qrCodeData, imageUrl, imageBase64, imageAlt) are `Optional` values with
// three states: absent (keep stored value), null (clear), or a value.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Column names keep the legacy camel-case spelling (isWechat, qrCodeData)
//   so tables created by the previous deployment stay readable.
package mapping

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"time"
)

// Mapping is the decoded form of one row in `mappings`.
type Mapping struct {
	Path        string     `json:"path"`
	Target      string     `json:"target"`
	Name        *string    `json:"name"`
	Expiry      *time.Time `json:"expiry"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"createdAt"`
	IsWechat    bool       `json:"isWechat"`
	QRCodeData  *string    `json:"qrCodeData"`
	ImageURL    *string    `json:"imageUrl"`
	ImageBase64 *string    `json:"imageBase64"`
	ImageAlt    *string    `json:"imageAlt"`
}

// Input is the payload accepted by Store.Create.  Expiry is kept as raw text
// so validation can reject values that do not parse.  A nil Enabled means
// true.
type Input struct {
	Path        string  `json:"path"`
	Target      string  `json:"target"`
	Name        *string `json:"name"`
	Expiry      string  `json:"expiry"`
	Enabled     *bool   `json:"enabled"`
	IsWechat    bool    `json:"isWechat"`
	QRCodeData  *string `json:"qrCodeData"`
	ImageURL    *string `json:"imageUrl"`
	ImageBase64 *string `json:"imageBase64"`
	ImageAlt    *string `json:"imageAlt"`
}

// Patch is the payload accepted by Store.Update.  Path is the new key; it
// equals the original path when the caller is not renaming.  Scalar fields
// overwrite the stored row; Optional fields merge.
type Patch struct {
	Path        string
	Target      string
	Name        *string
	Expiry      string
	Enabled     *bool
	IsWechat    bool
	QRCodeData  Optional[string]
	ImageURL    Optional[string]
	ImageBase64 Optional[string]
	ImageAlt    Optional[string]
}

/*──────────────────────────── Optional ─────────────────────────────────────*/

type presence uint8

const (
	absent presence = iota
	null
	present
)

// Optional distinguishes "not supplied" from "explicitly cleared".  The zero
// value is absent.  When decoded from JSON a missing key stays absent, a
// literal null becomes Null, and anything else becomes a value.
type Optional[T any] struct {
	state presence
	value T
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{state: present, value: v} }

// Null returns an Optional that clears the stored value.
func Null[T any]() Optional[T] { return Optional[T]{state: null} }

// IsAbsent reports whether the caller left the field out.
func (o Optional[T]) IsAbsent() bool { return o.state == absent }

// IsNull reports whether the caller explicitly cleared the field.
func (o Optional[T]) IsNull() bool { return o.state == null }

// Get returns the value and true when one was supplied.
func (o Optional[T]) Get() (T, bool) { return o.value, o.state == present }

// Merge applies o on top of prev.
func (o Optional[T]) Merge(prev *T) *T {
	switch o.state {
	case null:
		return nil
	case present:
		v := o.value
		return &v
	default:
		return prev
	}
}

// UnmarshalJSON is only invoked when the key is present in the document.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{state: null}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Optional[T]{state: present, value: v}
	return nil
}

/*──────────────────────────── table row ────────────────────────────────────*/

// columns lists every column in declaration order; keep in sync with row.
const columns = `path, target, name, expiry, enabled, created_at, isWechat,
       qrCodeData, imageUrl, imageBase64, imageAlt`

// row mirrors one `mappings` row for sqlx scans.
type row struct {
	Path        string         `db:"path"`
	Target      string         `db:"target"`
	Name        sql.NullString `db:"name"`
	Expiry      sql.NullString `db:"expiry"`
	Enabled     bool           `db:"enabled"`
	CreatedAt   sql.NullString `db:"created_at"`
	IsWechat    bool           `db:"isWechat"`
	QRCodeData  sql.NullString `db:"qrCodeData"`
	ImageURL    sql.NullString `db:"imageUrl"`
	ImageBase64 sql.NullString `db:"imageBase64"`
	ImageAlt    sql.NullString `db:"imageAlt"`
}

func (r row) mapping() Mapping {
	m := Mapping{
		Path:        r.Path,
		Target:      r.Target,
		Name:        strPtr(r.Name),
		Enabled:     r.Enabled,
		IsWechat:    r.IsWechat,
		QRCodeData:  strPtr(r.QRCodeData),
		ImageURL:    strPtr(r.ImageURL),
		ImageBase64: strPtr(r.ImageBase64),
		ImageAlt:    strPtr(r.ImageAlt),
	}
	if r.Expiry.Valid {
		// Rows written by this package always parse.  Anything else
		// predates validation and is treated as "no expiry".
		if t, err := ParseExpiry(r.Expiry.String); err == nil {
			m.Expiry = &t
		}
	}
	if r.CreatedAt.Valid {
		if t, err := ParseExpiry(r.CreatedAt.String); err == nil {
			m.CreatedAt = t
		}
	}
	return m
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// nullIfEmpty maps nil and "" to SQL NULL.
func nullIfEmpty(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// nullable maps nil to SQL NULL and keeps empty strings.
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
