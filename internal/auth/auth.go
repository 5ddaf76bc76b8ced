// internal/auth/auth.go
//
// Cookie session for the admin API.
//
// Context
// -------
// There is a single administrator password.  A successful login sets the
// `token` cookie to an HMAC-SHA256 digest keyed by that password, so the
// password itself never travels in a cookie and rotating it invalidates
// every outstanding session.  Guard rejects any request whose cookie does
// not match, comparing in constant time.
//
// Usage
// -----
//
//	g := auth.New(cfg.Auth.Password)
//	r.Post("/api/login", g.Login)
//	r.With(g.Guard).Get("/api/mappings", h.list)
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"go.uber.org/zap"

	"github.com/yanizio/shortmap/internal/middleware"
)

const (
	// CookieName is the session cookie.
	CookieName = "token"
	// MaxAge is the session lifetime in seconds.
	MaxAge = 86400

	sessionLabel = "shortmap-admin-session"
)

// Guard checks the admin session cookie.  Zero value is invalid.
type Guard struct {
	password []byte
	token    string

	// Unauthorized writes the 401 body; nil yields a plain-text response.
	Unauthorized func(w http.ResponseWriter, r *http.Request)
}

// New returns a Guard for password.
func New(password string) *Guard {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write([]byte(sessionLabel))
	return &Guard{
		password: []byte(password),
		token:    hex.EncodeToString(mac.Sum(nil)),
	}
}

// CheckPassword compares candidate with the configured password in
// constant time.
func (g *Guard) CheckPassword(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), g.password) == 1
}

// Authenticated reports whether r carries a valid session cookie.
func (g *Guard) Authenticated(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return false
	}
	return hmac.Equal([]byte(c.Value), []byte(g.token))
}

// Guard is chi-compatible middleware that rejects unauthenticated
// requests with 401.
func (g *Guard) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Authenticated(r) {
			zap.L().Debug("unauthorized admin request", zap.String("path", r.URL.Path))
			if g.Unauthorized != nil {
				g.Unauthorized(w, r)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetSession writes the session cookie.  Secure is set when the request
// arrived over HTTPS.
func (g *Guard) SetSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    g.token,
		Path:     "/",
		MaxAge:   MaxAge,
		HttpOnly: true,
		Secure:   middleware.IsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSession expires the session cookie.
func (g *Guard) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}
