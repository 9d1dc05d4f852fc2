package ingest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak-ingest/internal/match"
	"github.com/dylantcon/countertrak-ingest/internal/tokencache"
)

// RouterConfig carries everything NewRouter needs to assemble the mux. It
// has no side effects of its own, following the teacher pack's pattern of
// a pure router constructor safe to exercise with httptest (grounded on
// the kick-game-stream example's api.NewRouter).
type RouterConfig struct {
	Cache          *tokencache.Cache
	Manager        *match.Manager
	Logger         *zap.SugaredLogger
	MaxBodyBytes   int64
	AllowedOrigins []string
	RateLimiter    *TokenRateLimiter
}

// NewRouter builds the chi mux: structured request logging and panic
// recovery on every route, per-token rate limiting and CORS scoped to the
// routes that need them.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	h := NewHandler(cfg.Cache, cfg.Manager, cfg.MaxBodyBytes, cfg.Logger)

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}
		r.Post("/", h.Ingest)
	})

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET"},
		}))
		r.Get("/status", h.Status)
	})

	return r
}

// requestLogger mirrors the teacher's zap-based access logging, adapted
// from a chi middleware.Logger wrapper into the pack's structured style.
func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if log != nil {
				log.Infow("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "bytes", ww.BytesWritten())
			}
		})
	}
}
