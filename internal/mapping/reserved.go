package mapping

// DefaultReserved lists paths served by the application itself: admin and
// login pages, bundled front-end assets, and system routes.  User mappings
// must never shadow them.
var DefaultReserved = []string{
	"login", "admin", "__total_count",
	"admin.html", "login.html",
	"daisyui@5.css", "tailwindcss@4.js",
	"qr-code-styling.js", "zxing.js",
	"robots.txt", "wechat.svg",
	"favicon.svg",
	"api", "metrics",
}

// Reserved is an immutable set of forbidden paths.
type Reserved struct {
	set  map[string]struct{}
	list []string
}

// NewReserved builds a set from DefaultReserved plus extra.  Duplicates and
// empty strings are ignored.
func NewReserved(extra ...string) Reserved {
	r := Reserved{set: make(map[string]struct{}, len(DefaultReserved)+len(extra))}
	for _, group := range [][]string{DefaultReserved, extra} {
		for _, p := range group {
			if p == "" {
				continue
			}
			if _, dup := r.set[p]; dup {
				continue
			}
			r.set[p] = struct{}{}
			r.list = append(r.list, p)
		}
	}
	return r
}

// Contains reports whether p is reserved.
func (r Reserved) Contains(p string) bool {
	_, ok := r.set[p]
	return ok
}

// List returns the paths in insertion order.  The slice must not be
// modified.
func (r Reserved) List() []string { return r.list }
