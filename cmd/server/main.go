package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yegors/aemet-connector/internal/aemet"
	"github.com/yegors/aemet-connector/internal/api"
	"github.com/yegors/aemet-connector/internal/cache"
	"github.com/yegors/aemet-connector/internal/config"
	"github.com/yegors/aemet-connector/internal/fetch"
	"github.com/yegors/aemet-connector/internal/metrics"
	"github.com/yegors/aemet-connector/internal/refresh"
	"github.com/yegors/aemet-connector/internal/storage"
	"github.com/yegors/aemet-connector/internal/storage/runstore"
	"github.com/yegors/aemet-connector/internal/websocket"
	"github.com/yegors/aemet-connector/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting AEMET connector server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("transport", cfg.Transport.Mode),
		logger.Bool("api_key_configured", cfg.AEMET.APIKey != ""),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the AEMET pipeline
	transport, err := aemet.NewTransport(cfg.TransportSettings())
	if err != nil {
		log.Error("Failed to create transport", logger.Error(err))
		os.Exit(1)
	}
	client := aemet.NewClient(cfg.ClientConfig(), transport, log)
	pipeline := aemet.NewPipeline(client, cfg.RetryPolicy(), log)

	// Create run history storage
	var runStore storage.RunStore
	if cfg.Storage.Enabled {
		runStore, err = runstore.Open(ctx, cfg.Storage, log)
		if err != nil {
			log.Error("Failed to create run storage", logger.Error(err))
			os.Exit(1)
		}
		defer runStore.Close()
	} else {
		log.Info("Run history disabled in configuration")
	}

	// Create fetch service (cache + run history)
	resultCache := cache.New(cfg.CacheTTL(), log)
	var recorder fetch.RunRecorder
	var lister api.RunLister
	if runStore != nil {
		recorder = runStore
		lister = runStore
	}
	fetcher := fetch.NewService(pipeline, resultCache, recorder, log)

	var metricsHandler http.Handler
	if cfg.Server.MetricsEnabled {
		m := metrics.New()
		fetcher.SetObserver(m)
		metricsHandler = m.Handler()
	}

	// Create and start WebSocket server
	wsServer := websocket.NewServer(cfg.Server.CORSAllowedOrigins, log)
	go wsServer.Run(ctx)

	// Create refresh service (if enabled)
	var refreshService *refresh.Service
	if cfg.Refresh.Enabled {
		requests, err := refresh.Requests(cfg.AEMET.APIKey, cfg.Refresh.Datasets, cfg.Refresh.Municipalities)
		if err != nil {
			log.Error("Invalid refresh configuration", logger.Error(err))
			os.Exit(1)
		}
		refreshService = refresh.NewService(refresh.Config{
			Interval: cfg.RefreshInterval(),
			Requests: requests,
		}, fetcher, wsServer, log)
		refreshService.Start(ctx)
	} else {
		log.Info("Background refresh disabled in configuration")
	}

	// Create API router
	handler := api.NewHandler(fetcher, lister, wsServer, cfg, log)
	router := api.NewRouter(handler, cfg, metricsHandler, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serverErr:
		log.Error("HTTP server error", logger.String("addr", server.Addr), logger.Error(err))
	}

	log.Info("Shutting down server...")

	// Stop background services first
	if refreshService != nil {
		log.Info("Stopping refresh service...")
		refreshService.Stop()
		log.Info("Refresh service stopped.")
	}

	// Cancel the main context
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.String("addr", server.Addr), logger.Error(err))
	} else {
		log.Info("HTTP server shutdown complete", logger.String("addr", server.Addr))
	}

	log.Info("Server fully stopped")
}
