package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/youtoss/ledger/internal/api/handler"
	"github.com/youtoss/ledger/internal/api/middleware"
	"github.com/youtoss/ledger/internal/auth"
	"github.com/youtoss/ledger/internal/metrics"
	"github.com/youtoss/ledger/internal/service"
)

// Deps holds everything the router serves.
type Deps struct {
	Client   *service.Client
	Users    *service.UserService
	Tokens   *auth.TokenManager
	AdminKey string

	// OIDC and State are nil when OIDC login is disabled.
	OIDC  handler.OIDCExchanger
	State *auth.StateStore

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	WatchWriteTimeout time.Duration
	WatchOrigins      []string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(deps.Logger, deps.Metrics))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// OIDC login
	authHandler := handler.NewAuthHandler(deps.OIDC, deps.State, deps.Tokens, deps.Users)
	r.Get("/auth/login", authHandler.Login)
	r.Get("/auth/callback", authHandler.Callback)

	r.Route("/api/v1", func(r chi.Router) {
		// Provisioning (admin key, JSON Content-Type)
		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentType)
			r.Use(middleware.AdminKey(deps.AdminKey))

			adminHandler := handler.NewAdminHandler(deps.Users)
			r.Post("/admin/users", adminHandler.CreateUser)
		})

		// Player routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.Users, deps.Tokens))

			// Websocket upgrade, no Content-Type middleware
			watchHandler := handler.NewWatchHandler(deps.Client, deps.WatchWriteTimeout, deps.WatchOrigins)
			r.Get("/groups/{groupID}/session/watch", watchHandler.Watch)

			r.Group(func(r chi.Router) {
				r.Use(middleware.ContentType)

				// Current user
				meHandler := handler.NewMeHandler(deps.Client)
				r.Get("/me", meHandler.Get)
				r.Put("/me/home-group", meHandler.SetHomeGroup)
				r.Get("/me/sessions", meHandler.Sessions)
				r.Get("/me/session", meHandler.ActiveSession)

				// API Keys
				keyHandler := handler.NewAPIKeyHandler(deps.Users)
				r.Post("/keys", keyHandler.Create)
				r.Get("/keys", keyHandler.List)
				r.Delete("/keys/{id}", keyHandler.Delete)

				// Groups
				groupHandler := handler.NewGroupHandler(deps.Client)
				r.Post("/groups", groupHandler.Create)
				r.Post("/groups/join", groupHandler.Join)
				r.Get("/groups", groupHandler.List)
				r.Get("/groups/{groupID}/members", groupHandler.Members)
				r.Get("/groups/{groupID}/score", groupHandler.Score)
				r.Get("/groups/{groupID}/sessions", groupHandler.Sessions)
				r.Get("/groups/{groupID}/session", groupHandler.ActiveSession)

				// Sessions
				sessionHandler := handler.NewSessionHandler(deps.Client)
				r.Post("/sessions", sessionHandler.Start)
				r.Route("/sessions/{id}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Post("/players", sessionHandler.AddPlayers)
					r.Put("/players/{username}/buy-in", sessionHandler.UpdateBuyIn)
					r.Put("/players/{username}/cash-out", sessionHandler.UpdateCashOut)
					r.Post("/bad-beats", sessionHandler.RecordBadBeat)
					r.Post("/end", sessionHandler.End)
					r.Post("/reconcile", sessionHandler.Reconcile)
				})
			})
		})
	})

	return r
}
