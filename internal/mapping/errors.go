package mapping

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds.  Callers branch with errors.Is; messages carry the detail.
var (
	ErrValidation       = errors.New("invalid mapping")
	ErrReservedPath     = errors.New("path is reserved")
	ErrDuplicatePath    = errors.New("path already exists")
	ErrNotFound         = errors.New("mapping not found")
	ErrStoreUnavailable = errors.New("mapping store unavailable")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// storeErr classifies a driver error.  Unique-constraint violations become
// ErrDuplicatePath; everything else is an infrastructure failure.
func storeErr(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicatePath)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// isUniqueViolation recognises SQLite ("UNIQUE constraint failed",
// "PRIMARY KEY") and MySQL (1062) duplicate-key errors without importing
// driver-specific types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: PRIMARY KEY") ||
		strings.Contains(msg, "Error 1062") ||
		strings.Contains(msg, "Duplicate entry")
}
