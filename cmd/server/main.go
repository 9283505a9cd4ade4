package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/youtoss/ledger/internal/api"
	"github.com/youtoss/ledger/internal/api/handler"
	"github.com/youtoss/ledger/internal/auth"
	"github.com/youtoss/ledger/internal/changefeed"
	"github.com/youtoss/ledger/internal/config"
	"github.com/youtoss/ledger/internal/identity"
	"github.com/youtoss/ledger/internal/metrics"
	"github.com/youtoss/ledger/internal/service"
	"github.com/youtoss/ledger/internal/storage"
	"github.com/youtoss/ledger/internal/storage/sql"
	"github.com/youtoss/ledger/pkg/logging"
)

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetupWithLevel(logging.ParseLevel(cfg.Log.Level))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver != "postgres" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}

	sqlStore, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sqlStore.Close()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	broker := changefeed.NewBroker(ctx, logger)
	defer broker.Close()

	// Session changes reach subscribers either from Postgres notifications,
	// which cover every instance, or from the local write path.
	var store storage.Storage = sqlStore
	if cfg.UsePGNotify() {
		listener := changefeed.NewPGListener(cfg.Database.DSN, sqlStore, broker,
			cfg.Realtime.MinReconnect, cfg.Realtime.MaxReconnect, logger)
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Error("session listener stopped", "error", err)
			}
		}()
	} else {
		store = changefeed.Wrap(sqlStore, broker)
	}

	retry := service.RetryPolicy{MaxRetries: cfg.Ledger.MaxRetries, Base: cfg.Ledger.RetryBase}
	scores := service.NewScoreStore(store, retry, m)
	reconciler := service.NewReconciler(scores, cfg.Ledger.ReconcileConcurrency, m)
	ledger := service.NewLedger(store, reconciler, retry, m, logger)
	groups := service.NewGroupService(store, cfg.Ledger.PasscodeMinLength, logger)
	users := service.NewUserService(store, logger)
	client := service.NewClient(service.ClientDeps{
		Identity: identity.NewContextProvider(store),
		Store:    store,
		Ledger:   ledger,
		Scores:   scores,
		Groups:   groups,
		Feed:     broker,
		Metrics:  m,
		Logger:   logger,
	})

	deps := api.Deps{
		Client:            client,
		Users:             users,
		Tokens:            auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration),
		AdminKey:          cfg.Auth.AdminKey,
		Metrics:           m,
		Gatherer:          reg,
		Logger:            logger,
		WatchWriteTimeout: cfg.Realtime.WriteTimeout,
	}
	if cfg.OIDC.Enabled {
		provider, state, err := setupOIDC(ctx, &cfg.OIDC)
		if err != nil {
			return err
		}
		deps.OIDC, deps.State = provider, state
		logger.Info("OIDC login enabled", "issuer", cfg.OIDC.IssuerURL)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting ledger server", "addr", cfg.Server.Addr(), "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func setupOIDC(ctx context.Context, cfg *config.OIDCConfig) (handler.OIDCExchanger, *auth.StateStore, error) {
	key, err := cfg.GetStateSecretBytes()
	if err != nil {
		return nil, nil, err
	}
	state, err := auth.NewStateStore(key, cfg.SecureCookies)
	if err != nil {
		return nil, nil, err
	}
	provider, err := auth.NewOIDCProvider(ctx, cfg.IssuerURL, cfg.ClientID, cfg.ClientSecret,
		cfg.RedirectURL, cfg.GetScopes(), cfg.GetAllowedDomains())
	if err != nil {
		return nil, nil, err
	}
	return provider, state, nil
}
