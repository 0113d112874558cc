package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/geowatch/timeline-cache/internal/api/middleware"
	"github.com/geowatch/timeline-cache/internal/api/rest"
	"github.com/geowatch/timeline-cache/internal/api/websocket"
	"github.com/geowatch/timeline-cache/internal/cache"
	"github.com/geowatch/timeline-cache/internal/config"
	"github.com/geowatch/timeline-cache/internal/pkg/logger"
	"github.com/geowatch/timeline-cache/internal/store"
	"github.com/geowatch/timeline-cache/internal/upstream"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("timeline-cache starting", "port", cfg.Port, "store_driver", cfg.StoreDriver)

	// Persistent tier
	var kv store.KeyRangeStore
	switch cfg.StoreDriver {
	case "postgres":
		kv, err = store.NewPostgres(cfg.PostgresDSN)
	default:
		kv, err = store.NewSQLite(cfg.DatabasePath)
	}
	if err != nil {
		log.Error("failed to open persistent store", "error", err)
		os.Exit(1)
	}
	kv = store.Instrument(kv)
	defer kv.Close()

	// Upstream connector
	fetcher := upstream.NewClient(upstream.Options{
		BaseURL:    cfg.UpstreamBaseURL,
		Timeout:    time.Duration(cfg.UpstreamTimeoutSec) * time.Second,
		RatePerSec: cfg.UpstreamRatePerSec,
		Burst:      cfg.UpstreamBurst,
	})

	// Cache manager
	mgr := cache.New(kv, fetcher, cache.Options{
		MemoryMaxEntries:      cfg.MemoryMaxEntries,
		MemoryTTL:             time.Duration(cfg.MemoryTTLSec) * time.Second,
		PersistentTTL:         time.Duration(cfg.PersistentTTLSec) * time.Second,
		PrefetchWindow:        time.Duration(cfg.PrefetchWindowMs) * time.Millisecond,
		PrefetchMaxChunks:     cfg.PrefetchChunksMax,
		PrefetchOnPointLookup: cfg.PrefetchOnPointLookup,
		CleanupInterval:       time.Duration(cfg.CleanupIntervalSec) * time.Second,
		WriteQueueSize:        cfg.WriteQueueSize,
	}, log)

	// Setup HTTP router
	router := mux.NewRouter()

	// Health and metrics
	healthz := rest.NewHealthzHandler(kv)
	router.HandleFunc("/health", healthz.Live).Methods("GET")
	router.HandleFunc("/healthz/live", healthz.Live).Methods("GET")
	router.HandleFunc("/healthz/ready", healthz.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handler := rest.NewHandler(mgr, log)
	rest.SetupRoutes(apiRouter, handler)

	// WebSocket ingest
	wsHandler := websocket.NewHandler(mgr, log)
	router.HandleFunc("/ws/live", wsHandler.ServeWS).Methods("GET")

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog(log))
	router.Use(middleware.Recover(log))
	router.Use(middleware.MaxBodySize(middleware.DefaultMaxBodyBytes))
	apiRouter.Use(middleware.RateLimit())

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handlerWithCORS := c.Handler(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handlerWithCORS,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening",
			"addr", srv.Addr,
			"api", fmt.Sprintf("http://localhost:%d/api/v1", cfg.Port),
			"ws", fmt.Sprintf("ws://localhost:%d/ws/live", cfg.Port),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", "error", err)
	}

	// Stops the sweep timer and drains the live-update write queue.
	mgr.Close()

	log.Info("server exited gracefully")
}
