package api

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// maxUpload caps the multipart body of /api/upload-image.
const maxUpload = 5 << 20

type uploadResult struct {
	Base64   string `json:"base64"`
	DataURL  string `json:"dataUrl"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

// uploadImage returns the `image` part as base64 so the admin UI can store
// it inline on a mapping.  The MIME type comes from the part header when it
// names an image, otherwise from content sniffing, otherwise image/png.
func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+1<<10)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		fail(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("image")
	if err != nil {
		fail(w, http.StatusBadRequest, "image not found")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		h.failErr(w, r, err)
		return
	}

	mime := hdr.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		mime = mimetype.Detect(raw).String()
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}

	b64 := base64.StdEncoding.EncodeToString(raw)
	ok(w, uploadResult{
		Base64:   b64,
		DataURL:  "data:" + mime + ";base64," + b64,
		FileName: hdr.Filename,
		MimeType: mime,
	})
}
