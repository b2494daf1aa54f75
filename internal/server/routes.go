package server

import (
	"net/http"

	"github.com/dgellow/ebo-bff/internal/idp"
	"github.com/dgellow/ebo-bff/internal/log"
	"github.com/dgellow/ebo-bff/internal/session"
)

// RouterConfig holds everything NewRouter wires together.
type RouterConfig struct {
	BaseURL        string
	AllowedOrigins []string
	StaticDir      string

	Providers idp.Registry
	Sessions  *session.Manager
	Broker    session.Broker

	// Planner is optional; without it the /api routes other than
	// /api/session are not served.
	Planner Planner

	// StoreHandler, when set, serves the session store at /sessions/.
	StoreHandler http.Handler
}

// NewRouter builds the BFF's HTTP handler: routes plus the middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	auth := NewAuthHandlers(cfg.Providers, cfg.Sessions, cfg.Broker, cfg.BaseURL)
	api := NewAPIHandlers(cfg.Sessions, cfg.Planner)

	mux.Handle("GET /health", NewHealthHandler())

	for _, name := range providerNames(cfg.Providers) {
		p := cfg.Providers[name]
		mux.HandleFunc("GET /auth/"+string(name)+"/login", auth.LoginHandler(p))
		mux.HandleFunc(p.CallbackMethod()+" /auth/"+string(name)+"/callback", auth.CallbackHandler(p))
		log.LogDebugWithFields("server", "Registered provider routes", map[string]any{
			"provider":        name,
			"callback_method": p.CallbackMethod(),
		})
	}
	mux.HandleFunc("POST /auth/logout", auth.LogoutHandler)
	mux.HandleFunc("GET /auth/signin", auth.SigninHandler)

	mux.HandleFunc("GET /api/session", api.SessionHandler)
	if cfg.Planner != nil {
		mux.HandleFunc("GET /api/members/me", api.MembersMeHandler)
		mux.HandleFunc("GET /api/pages/upcoming-trips", api.UpcomingTripsHandler)
		mux.HandleFunc("PUT /api/pages/upcoming-trips/{tripId}/rsvp", api.PutUpcomingTripRSVPHandler)
		mux.HandleFunc("GET /api/widgets/my-rsvp", api.GetMyRSVPWidgetHandler)
		mux.HandleFunc("PUT /api/widgets/my-rsvp", api.PutMyRSVPWidgetHandler)
	} else {
		log.LogWarn("Planner not configured, planner API routes disabled")
	}

	if cfg.StoreHandler != nil {
		mux.Handle("/sessions/", cfg.StoreHandler)
		log.LogInfo("Serving session store at /sessions/")
	}

	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	// Listed innermost first.
	return ChainMiddleware(mux,
		NewCORSMiddleware(cfg.AllowedOrigins),
		NewRecoverMiddleware("server"),
		NewLoggerMiddleware("http"),
		NewTracingMiddleware(),
		NewRequestIDMiddleware(),
	)
}
