/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the meal token server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load flags and MEALTOKEN_* environment defaults
  2. Set up the process logger
  3. Open the SQLite store and register it for the tenant
  4. Load the optional catalog file
  5. Wire issuer, schedule service, metrics and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (environment default in brackets):
  -port          HTTP server port [MEALTOKEN_PORT, 8080]
  -db            SQLite database path [MEALTOKEN_DB, mealtoken.db]
                 Use ":memory:" for in-memory database
  -jwt-secret    HMAC secret for bearer tokens [MEALTOKEN_JWT_SECRET]
  -token-ttl     Lifetime of -print-token tokens [MEALTOKEN_TOKEN_TTL, 12h]
  -tenant        Tenant served by this process [MEALTOKEN_TENANT, default]
  -timezone      Kiosk time zone [MEALTOKEN_TIMEZONE, UTC]
  -catalog       JSON catalog loaded at start [MEALTOKEN_CATALOG]
  -cors-origins  Allowed CORS origins [MEALTOKEN_CORS_ORIGINS]
  -log-level     debug, info, warn, error [LOG_LEVEL, info]
  -log-format    text or json [MEALTOKEN_LOG_FORMAT, text]
  -print-token   Print a bearer token for admin or kiosk and exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Mint an admin token for the demo tenant
  MEALTOKEN_JWT_SECRET=dev ./server -print-token=admin

  # Run with in-memory database and a catalog
  MEALTOKEN_JWT_SECRET=dev ./server -db=":memory:" -catalog=./canteen.json

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/meal-token-engine/api"
	"github.com/warp/meal-token-engine/config"
	"github.com/warp/meal-token-engine/factory"
	"github.com/warp/meal-token-engine/issuance"
	"github.com/warp/meal-token-engine/logging"
	"github.com/warp/meal-token-engine/meal"
	"github.com/warp/meal-token-engine/schedule"
	"github.com/warp/meal-token-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	tenant := meal.TenantID(cfg.Tenant)
	tokens := api.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)

	if cfg.PrintToken != "" {
		tok, err := tokens.Generate(tenant, "cli-"+cfg.PrintToken, cfg.PrintToken)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	resolver := meal.NewStaticResolver()
	resolver.Register(tenant, store)

	if cfg.CatalogPath != "" {
		if err := loadCatalog(context.Background(), store, cfg.CatalogPath); err != nil {
			return err
		}
		logger.Info("catalog loaded", "path", cfg.CatalogPath, "tenant", cfg.Tenant)
	}

	metrics := api.NewMetrics()
	issuer := issuance.NewIssuer(resolver, issuance.Config{
		Location: cfg.Location,
		Logger:   logger,
		Observer: metrics,
	})
	schedules := schedule.NewService(resolver, nil, logger, metrics)
	handler := api.NewHandler(resolver, issuer, schedules, logger)

	router := api.NewRouter(handler, api.RouterConfig{
		Tokens:         tokens,
		Metrics:        metrics,
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "tenant", cfg.Tenant, "timezone", cfg.Location.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func loadCatalog(ctx context.Context, s meal.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	c, err := factory.ParseCatalog(data)
	if err != nil {
		return err
	}
	if err := factory.Load(ctx, s, c); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	return nil
}
