package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"vehicleinfo/internal/platform/metrics"
	"vehicleinfo/internal/platform/middleware"
	"vehicleinfo/internal/platform/ratelimit"
	"vehicleinfo/pkg/platform/httputil"
)

// WelcomeMessage is returned by GET /.
const WelcomeMessage = "欢迎使用车辆信息查询API，请访问/vehicles查询车辆信息"

// RouteRegistrar mounts a module's routes.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// Config carries the router's collaborators.
type Config struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	Modules        []RouteRegistrar

	// RateLimiter, when set, caps module requests per client IP. The service
	// endpoints are never limited.
	RateLimiter *ratelimit.SlidingWindow

	// TrustProxyHeaders keys clients on X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool
}

type welcomeResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// NewRouter wires the shared middleware stack, the service endpoints and every
// module's routes.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata(cfg.TrustProxyHeaders))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.LatencyMiddleware(cfg.Metrics))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, welcomeResponse{Message: WelcomeMessage})
	})
	// Liveness only; it does not ping the store.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "healthy", Database: "connected"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(ratelimit.PerClientIP(cfg.RateLimiter, logger))
		}
		for _, m := range cfg.Modules {
			m.Register(r)
		}
	})
	return r
}
