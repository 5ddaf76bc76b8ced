// Package qr renders the image behind a WeChat mapping's qrCodeData.
//
// The admin UI stores either the decoded QR payload (a weixin:// or https
// URL) or the uploaded QR picture itself as a data URL.  Render handles
// both so the landing page can always serve a PNG-compatible image.
package qr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the edge length in pixels of generated codes.
const DefaultSize = 256

var ErrEmpty = errors.New("qr: empty payload")

// PNG encodes text as a QR code at medium error correction.
func PNG(text string, size int) ([]byte, error) {
	if text == "" {
		return nil, ErrEmpty
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(text, qrcode.Medium, size)
}

// Render returns image bytes and their MIME type for qrCodeData.  Image
// data URLs are decoded as-is; anything else is encoded as a new code.
func Render(data string, size int) ([]byte, string, error) {
	if b, ok, err := decodeDataURL(data); ok {
		if err != nil {
			return nil, "", err
		}
		mt := mimetype.Detect(b)
		if !strings.HasPrefix(mt.String(), "image/") {
			return nil, "", fmt.Errorf("qr: data url holds %s, not an image", mt.String())
		}
		return b, mt.String(), nil
	}
	png, err := PNG(data, size)
	if err != nil {
		return nil, "", err
	}
	return png, "image/png", nil
}

// decodeDataURL reports ok when s is a base64 data URL.
func decodeDataURL(s string) ([]byte, bool, error) {
	if !strings.HasPrefix(s, "data:") {
		return nil, false, nil
	}
	meta, payload, found := strings.Cut(s, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return nil, false, nil
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, true, fmt.Errorf("qr: bad data url: %w", err)
	}
	return b, true, nil
}
