package api

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/aemet-connector/internal/config"
	"github.com/yegors/aemet-connector/pkg/logger"
)

// Router wires the API handlers to their routes
type Router struct {
	handler        *Handler
	config         *config.Config
	metrics        http.Handler
	limiter        *IPLimiter
	trustedProxies []netip.Prefix
	logger         *logger.Logger
}

// NewRouter creates a new router. metrics may be nil when metrics are disabled.
func NewRouter(handler *Handler, cfg *config.Config, metrics http.Handler, log *logger.Logger) *Router {
	r := &Router{
		handler:        handler,
		config:         cfg,
		metrics:        metrics,
		trustedProxies: cfg.TrustedProxyPrefixes(),
		logger:         log.Named("router"),
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		r.limiter = NewIPLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)
	}
	return r
}

// Routes returns the HTTP handler serving every route
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(realIP(rt.trustedProxies))
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(rt.config.Server.CORSAllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if rt.limiter != nil {
				r.Use(rt.limiter.Middleware)
			}
			r.Get("/aemet", rt.handler.GetDataset)
		})
		r.Get("/schema", rt.handler.GetSchemas)
		r.Get("/schema/{dataType}", rt.handler.GetSchema)
		r.Get("/runs", rt.handler.GetRuns)
		r.Get("/health", rt.handler.GetHealth)
	})

	r.Get("/ws", rt.handler.HandleWebSocket)

	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics)
	}

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
