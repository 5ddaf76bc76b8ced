package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yanizio/shortmap/internal/mapping"
)

// maxBody caps JSON request bodies; inline images make them large.
const maxBody = 8 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// envelope is the JSON shape of every /api response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// statusFor maps registry error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mapping.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, mapping.ErrReservedPath):
		return http.StatusForbidden
	case errors.Is(err, mapping.ErrDuplicatePath):
		return http.StatusConflict
	case errors.Is(err, mapping.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// failErr writes err with its mapped status.  Infrastructure failures are
// logged and reported without driver detail.
func (h *Handler) failErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("admin request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal error"
		if errors.Is(err, mapping.ErrStoreUnavailable) {
			msg = mapping.ErrStoreUnavailable.Error()
		}
	}
	fail(w, status, msg)
}

// decode reads a JSON body into dst and validates its struct tags.  The
// returned error is already user-facing.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed JSON: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var fe validator.ValidationErrors
		if errors.As(err, &fe) {
			fields := make([]string, 0, len(fe))
			for _, e := range fe {
				fields = append(fields, e.Field())
			}
			return fmt.Errorf("missing or invalid: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}
