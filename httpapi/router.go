package httpapi

import (
	"net/http"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Options configures [NewRouter].
type Options struct {
	Logger zerolog.Logger
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
	// AllowBearerHeader lets non-browser clients send the token as
	// "Authorization: Bearer".
	AllowBearerHeader bool
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
	// Registerer, when set, receives per-route request metrics.
	Registerer prometheus.Registerer
	// AllowedOrigins enables credentialed CORS for browser front ends served
	// from another origin. Empty disables CORS handling.
	AllowedOrigins []string
}

type api struct {
	engine   *goSession.Engine
	cookie   goSession.CookieConfig
	gate     middleware.GateConfig
	log      zerolog.Logger
	validate *validator.Validate
}

// NewRouter builds the HTTP handler for engine.
func NewRouter(engine *goSession.Engine, opts Options) http.Handler {
	a := &api{
		engine:   engine,
		cookie:   engine.Cookie(),
		log:      opts.Logger.With().Str("component", "httpapi").Logger(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(clientIP)
	r.Use(requestLogger(a.log))
	if opts.Registerer != nil {
		r.Use(newRequestMetrics(opts.Registerer).middleware)
	}
	r.Use(chimw.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	a.gate = middleware.GateConfig{
		CookieName:        a.cookie.Name,
		AllowBearerHeader: opts.AllowBearerHeader,
		Logger:            opts.Logger,
	}
	r.Use(middleware.Gate(engine, a.gate))

	r.Get("/healthz", a.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", a.login)
		r.Post("/logout", a.logout)

		r.Get("/oauth2/authorize", a.oauth2Authorize)
		r.Get("/oauth2/callback", a.oauth2Callback)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession)
			r.Get("/session", a.session)
			r.Post("/logout-all", a.logoutAll)
		})
	})

	return r
}
