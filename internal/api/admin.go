package api

import (
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/yanizio/shortmap/internal/mapping"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
)

/*──────────────────────────── session ────────────────────────────────────*/

type loginRequest struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.guard.CheckPassword(req.Password) {
		h.log.Info("admin login rejected", zap.String("remote", r.RemoteAddr))
		fail(w, http.StatusUnauthorized, "wrong password")
		return
	}
	h.guard.SetSession(w, r)
	ok(w, nil)
}

func (h *Handler) logout(w http.ResponseWriter, _ *http.Request) {
	h.guard.ClearSession(w)
	ok(w, nil)
}

/*──────────────────────────── mappings ───────────────────────────────────*/

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", defaultPage, math.MaxInt32)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	size, err := intParam(r, "pageSize", defaultPageSize, mapping.MaxPageSize)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.store.List(r.Context(), page, size)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	ok(w, out)
}

type createRequest struct {
	Path        string  `json:"path"   validate:"required"`
	Target      string  `json:"target" validate:"required"`
	Name        *string `json:"name"`
	Expiry      string  `json:"expiry"`
	Enabled     *bool   `json:"enabled"`
	IsWechat    bool    `json:"isWechat"`
	QRCodeData  *string `json:"qrCodeData"`
	ImageURL    *string `json:"imageUrl"`
	ImageBase64 *string `json:"imageBase64"`
	ImageAlt    *string `json:"imageAlt"`
}

func (h *Handler) createMapping(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	err := h.store.Create(r.Context(), mapping.Input{
		Path:        req.Path,
		Target:      req.Target,
		Name:        req.Name,
		Expiry:      req.Expiry,
		Enabled:     req.Enabled,
		IsWechat:    req.IsWechat,
		QRCodeData:  req.QRCodeData,
		ImageURL:    req.ImageURL,
		ImageBase64: req.ImageBase64,
		ImageAlt:    req.ImageAlt,
	})
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	ok(w, nil)
}

// updateRequest keeps the media fields three-state: a key left out of the
// body preserves the stored value, an explicit null clears it.
type updateRequest struct {
	OriginalPath string                   `json:"originalPath" validate:"required"`
	NewPath      string                   `json:"newPath"      validate:"required"`
	Target       string                   `json:"target"       validate:"required"`
	Name         *string                  `json:"name"`
	Expiry       string                   `json:"expiry"`
	Enabled      *bool                    `json:"enabled"`
	IsWechat     bool                     `json:"isWechat"`
	QRCodeData   mapping.Optional[string] `json:"qrCodeData"`
	ImageURL     mapping.Optional[string] `json:"imageUrl"`
	ImageBase64  mapping.Optional[string] `json:"imageBase64"`
	ImageAlt     mapping.Optional[string] `json:"imageAlt"`
}

func (h *Handler) updateMapping(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	err := h.store.Update(r.Context(), req.OriginalPath, mapping.Patch{
		Path:        req.NewPath,
		Target:      req.Target,
		Name:        req.Name,
		Expiry:      req.Expiry,
		Enabled:     req.Enabled,
		IsWechat:    req.IsWechat,
		QRCodeData:  req.QRCodeData,
		ImageURL:    req.ImageURL,
		ImageBase64: req.ImageBase64,
		ImageAlt:    req.ImageAlt,
	})
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	ok(w, nil)
}

type deleteRequest struct {
	Path string `json:"path" validate:"required"`
}

func (h *Handler) deleteMapping(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.Delete(r.Context(), req.Path); err != nil {
		h.failErr(w, r, err)
		return
	}
	ok(w, nil)
}

/*──────────────────────────── lifecycle ──────────────────────────────────*/

func (h *Handler) expiring(w http.ResponseWriter, r *http.Request) {
	c, err := h.classifier.Classify(r.Context(), h.now())
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	h.log.Debug("expiry window classified", zap.Stringer("classification", c))
	ok(w, c)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.Sweep(r.Context(), h.batch)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	ok(w, map[string]int{"deleted": n})
}

func (h *Handler) runMigrate(w http.ResponseWriter, r *http.Request) {
	if h.migrate == nil {
		fail(w, http.StatusServiceUnavailable, "no legacy source configured")
		return
	}
	res, err := h.migrate(r.Context())
	if err != nil {
		h.log.Error("migration failed", zap.Error(err),
			zap.Int("imported", res.Imported), zap.Int("skipped", res.Skipped))
		writeJSON(w, http.StatusInternalServerError, envelope{
			Success: false,
			Data:    res,
			Error:   err.Error(),
		})
		return
	}
	ok(w, res)
}

/*──────────────────────────── helpers ────────────────────────────────────*/

// intParam reads a positive query integer no larger than limit.
func intParam(r *http.Request, name string, def, limit int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > limit {
		return 0, &paramError{name: name, raw: raw}
	}
	return n, nil
}

type paramError struct{ name, raw string }

func (e *paramError) Error() string {
	return "invalid " + e.name + " " + strconv.Quote(e.raw)
}
