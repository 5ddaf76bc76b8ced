package api

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/shortmap/internal/mapping"
	"github.com/yanizio/shortmap/internal/metrics"
	"github.com/yanizio/shortmap/internal/qr"
	"github.com/yanizio/shortmap/internal/ua"
)

// Outcome labels on shortmap_redirects_total.
const (
	outcomeRedirect = "redirect"
	outcomeWechat   = "wechat"
	outcomeExpired  = "expired"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

// resolve serves GET /{path}.  Store failures degrade to 404 so visitors
// never see an infrastructure error.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	visitor := ua.Parse(r.UserAgent())
	device := visitor.Device

	if h.store.Reserved().Contains(p) {
		if !h.serveStatic(w, r) {
			http.NotFound(w, r)
		}
		return
	}

	res, err := h.store.Resolve(r.Context(), p)
	if err != nil {
		h.log.Error("resolve failed", zap.String("path", p), zap.Error(err))
		metrics.RedirectsTotal.WithLabelValues(outcomeError, device).Inc()
		http.Error(w, "short link not found", http.StatusNotFound)
		return
	}

	switch res.State {
	case mapping.Active:
		w.Header().Set("Cache-Control", "no-store")
		if res.Mapping.IsWechat {
			metrics.RedirectsTotal.WithLabelValues(outcomeWechat, device).Inc()
			h.renderWechat(w, res.Mapping, visitor.WeChat)
			return
		}
		metrics.RedirectsTotal.WithLabelValues(outcomeRedirect, device).Inc()
		http.Redirect(w, r, res.Mapping.Target, http.StatusFound)
	case mapping.Expired:
		metrics.RedirectsTotal.WithLabelValues(outcomeExpired, device).Inc()
		http.Error(w, "link expired", http.StatusGone)
	default:
		if h.serveStatic(w, r) {
			return
		}
		metrics.RedirectsTotal.WithLabelValues(outcomeNotFound, device).Inc()
		http.Error(w, "short link not found", http.StatusNotFound)
	}
}

// qrImage serves the QR picture of an active WeChat mapping.
func (h *Handler) qrImage(w http.ResponseWriter, r *http.Request) {
	p, err := url.PathUnescape(chi.URLParam(r, "path"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	res, err := h.store.Resolve(r.Context(), p)
	if err != nil {
		h.log.Error("qr resolve failed", zap.String("path", p), zap.Error(err))
		http.NotFound(w, r)
		return
	}
	if res.State != mapping.Active || !res.Mapping.IsWechat || res.Mapping.QRCodeData == nil {
		http.NotFound(w, r)
		return
	}
	img, mime, err := qr.Render(*res.Mapping.QRCodeData, qr.DefaultSize)
	if err != nil {
		h.log.Warn("qr render failed", zap.String("path", p), zap.Error(err))
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

/*──────────────────────────── static assets ──────────────────────────────*/

// serveStatic writes the named asset when it exists and reports whether it
// did.
func (h *Handler) serveStatic(w http.ResponseWriter, r *http.Request) bool {
	if h.static == nil {
		return false
	}
	name := path.Clean("/" + strings.TrimPrefix(r.URL.Path, "/"))
	f, err := h.static.Open(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			h.log.Warn("static open failed", zap.String("name", name), zap.Error(err))
		}
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		return false
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
	return true
}

/*──────────────────────────── wechat page ────────────────────────────────*/

var wechatPage = template.Must(template.New("wechat").Parse(`<!doctype html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;text-align:center;margin:2rem auto;max-width:28rem;padding:0 1rem}
img{max-width:100%;height:auto}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Image}}<p><img src="{{.Image}}" alt="{{.Alt}}"></p>{{end}}
<p><img src="{{.QR}}" alt="QR code" width="256" height="256"></p>
{{if .InWeChat}}<p>Long-press the code to open it.</p>{{else}}<p>Open WeChat and scan the code.</p>{{end}}
</body>
</html>
`))

type wechatView struct {
	Title string
	Image template.URL
	Alt   string
	QR    string

	// InWeChat is set when the visitor is already in WeChat's browser.
	InWeChat bool
}

func (h *Handler) renderWechat(w http.ResponseWriter, m *mapping.Mapping, inWeChat bool) {
	v := wechatView{
		Title:    m.Path,
		QR:       "/" + url.PathEscape(m.Path) + "/qr.png",
		InWeChat: inWeChat,
	}
	if m.Name != nil && *m.Name != "" {
		v.Title = *m.Name
	}
	if m.ImageAlt != nil {
		v.Alt = *m.ImageAlt
	}
	v.Image = imageSrc(m)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := wechatPage.Execute(w, v); err != nil {
		h.log.Error("wechat page render failed", zap.String("path", m.Path), zap.Error(err))
	}
}

// imageSrc picks the inline image over the remote one.  Only image data
// URLs and http(s) URLs are trusted into the src attribute.
func imageSrc(m *mapping.Mapping) template.URL {
	if m.ImageBase64 != nil && *m.ImageBase64 != "" {
		s := *m.ImageBase64
		if !strings.HasPrefix(s, "data:") {
			s = "data:image/png;base64," + s
		}
		if strings.HasPrefix(s, "data:image/") {
			return template.URL(s)
		}
	}
	if m.ImageURL != nil {
		u := *m.ImageURL
		if strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://") {
			return template.URL(u)
		}
	}
	return ""
}
