package mapping

import (
	"errors"
	"strings"
	"time"
)

// TimeLayout is the storage format for expiry and created_at.  It is fixed
// width and always UTC, so `expiry < ?` compares chronologically.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// inputLayouts are tried in order.  Zone-less layouts are read as UTC.
var inputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var errBadTime = errors.New("unrecognised time layout")

// ParseExpiry accepts the layouts an admin form or the legacy store may
// send and returns the instant in UTC.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errBadTime
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// normalizeExpiry validates raw and returns the storage value, or nil when
// raw is blank.
func normalizeExpiry(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := ParseExpiry(raw)
	if err != nil {
		return nil, invalid("expiry %q is not a valid date", raw)
	}
	return FormatTime(t), nil
}
