// internal/api/api.go
//
// HTTP surface of the registry.
//
// Context
// -------
// Handler owns every route: the cookie-guarded admin API under /api, the
// Prometheus endpoint, and the catch-all resolver that turns /{path} into a
// redirect, a WeChat landing page, or an error status.  Dependencies are
// small interfaces so tests can swap the store for sqlmock-backed
// instances or fakes.
//
// Routes
// ------
//
//	GET    /                     → 302 /admin.html
//	POST   /api/login            → session cookie
//	POST   /api/logout           → clear cookie
//	GET    /api/mappings         → paginated list          (guarded)
//	POST   /api/mappings         → create                  (guarded)
//	PUT    /api/mappings         → update / rename         (guarded)
//	DELETE /api/mappings         → delete                  (guarded)
//	GET    /api/expiring         → classify                (guarded)
//	POST   /api/cleanup          → sweep                   (guarded)
//	POST   /api/migrate          → import legacy entries   (guarded)
//	POST   /api/upload-image     → base64 encode an image  (guarded)
//	GET    /metrics              → Prometheus
//	GET    /{path}/qr.png        → WeChat QR image
//	GET    /{path}               → resolve
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/shortmap/internal/auth"
	"github.com/yanizio/shortmap/internal/mapping"
	"github.com/yanizio/shortmap/internal/middleware"
	"github.com/yanizio/shortmap/internal/migrate"
)

/*──────────────────────────── dependencies ───────────────────────────────*/

// Store is the subset of *mapping.Store the handlers use.
type Store interface {
	List(ctx context.Context, page, pageSize int) (mapping.Page, error)
	Create(ctx context.Context, in mapping.Input) error
	Update(ctx context.Context, originalPath string, p mapping.Patch) error
	Delete(ctx context.Context, path string) error
	Resolve(ctx context.Context, path string) (mapping.Resolution, error)
	Reserved() mapping.Reserved
}

// Classifier is satisfied by *mapping.Classifier.
type Classifier interface {
	Classify(ctx context.Context, now time.Time) (mapping.Classification, error)
}

// Sweeper is satisfied by *mapping.Sweeper.
type Sweeper interface {
	Sweep(ctx context.Context, batchSize int) (int, error)
}

// MigrateFunc runs one import from the configured legacy source.
type MigrateFunc func(ctx context.Context) (migrate.Result, error)

// Options wires a Handler.  Store, Classifier, Sweeper, and Guard are
// required.  Migrate nil answers /api/migrate with 503.  Static nil means
// no asset files are served.
type Options struct {
	Store          Store
	Classifier     Classifier
	Sweeper        Sweeper
	Migrate        MigrateFunc
	Guard          *auth.Guard
	Static         http.FileSystem
	SweepBatchSize int
	Logger         *zap.Logger
	Now            func() time.Time
}

// Handler serves all routes.  Construct with New.
type Handler struct {
	store      Store
	classifier Classifier
	sweeper    Sweeper
	migrate    MigrateFunc
	guard      *auth.Guard
	static     http.FileSystem
	batch      int
	log        *zap.Logger
	now        func() time.Time
}

// New returns a Handler with defaults applied.
func New(o Options) *Handler {
	h := &Handler{
		store:      o.Store,
		classifier: o.Classifier,
		sweeper:    o.Sweeper,
		migrate:    o.Migrate,
		guard:      o.Guard,
		static:     o.Static,
		batch:      o.SweepBatchSize,
		log:        o.Logger,
		now:        o.Now,
	}
	if h.batch <= 0 {
		h.batch = mapping.DefaultBatchSize
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.guard.Unauthorized == nil {
		h.guard.Unauthorized = func(w http.ResponseWriter, _ *http.Request) {
			fail(w, http.StatusUnauthorized, "unauthorized")
		}
	}
	return h
}

/*──────────────────────────── routes ─────────────────────────────────────*/

// Routes builds the root router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(h.log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Security)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin.html", http.StatusFound)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/login", h.login)
		api.Post("/logout", h.logout)

		api.Group(func(g chi.Router) {
			g.Use(h.guard.Guard)
			g.Get("/mappings", h.listMappings)
			g.Post("/mappings", h.createMapping)
			g.Put("/mappings", h.updateMapping)
			g.Delete("/mappings", h.deleteMapping)
			g.Get("/expiring", h.expiring)
			g.Post("/cleanup", h.cleanup)
			g.Post("/migrate", h.runMigrate)
			g.Post("/upload-image", h.uploadImage)
		})

		api.NotFound(h.apiNotFound)
		api.MethodNotAllowed(h.apiNotFound)
	})

	r.Get("/{path}/qr.png", h.qrImage)
	r.Get("/*", h.resolve)
	return r
}

func (h *Handler) apiNotFound(w http.ResponseWriter, _ *http.Request) {
	fail(w, http.StatusNotFound, "api not found")
}
