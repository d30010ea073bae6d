package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"playbook-engine/internal/analysis"
	"playbook-engine/internal/api"
	"playbook-engine/internal/config"
	"playbook-engine/internal/logging"
	"playbook-engine/internal/models"
	"playbook-engine/internal/service"
	"playbook-engine/internal/state"
)

const maxDatasets = 32

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("PLAYBOOK_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Services
	engine, err := analysis.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	// Fail fast on broken playbook definitions.
	if _, err := engine.Registry().Catalog(ctx); err != nil {
		return fmt.Errorf("load playbooks: %w", err)
	}

	appState := state.NewAppState(maxDatasets)
	if cfg.Database.DSN != "" {
		ds := service.NewPostgresDataSource(nil)
		if err := ds.Connect(ctx, service.DataSourceConfig{DSN: cfg.Database.DSN}); err != nil {
			logger.Warn("database unavailable at startup", zap.Error(err))
		} else {
			appState.SetDataSource(ds)
		}
	}
	defer func() {
		if ds := appState.DataSource(); ds != nil {
			ds.Close()
		}
	}()

	handler := api.NewHandler(engine, appState, models.OllamaConfig{
		Enabled: cfg.LLM.Enabled,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	}, logger)
	handler.MaxFileSize = cfg.Server.MaxUploadBytes

	// Router Setup
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Playbook engine is running"))
	})

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", "http://localhost:"+cfg.Server.Port),
			zap.Strings("cors_origins", cfg.Server.AllowedOrigins))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
