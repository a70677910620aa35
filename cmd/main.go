/*
Package main is the entry point for the text room server.

It is responsible for loading configuration, initializing the global logging system,
wiring the persistence and relay integrations, setting up the HTTP server, running
the periodic idle-room sweep, and gracefully handling operating system interrupt
signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"textroom/internal/app/collab"
	"textroom/internal/app/db"
	"textroom/internal/app/protocol"
	"textroom/internal/app/relay"
	"textroom/internal/app/store"
	"textroom/internal/configs"
	"textroom/internal/handler"
	"textroom/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("room_idle_threshold", cfg.RoomIdleThreshold).
		Dur("cleanup_interval", cfg.CleanupInterval).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional Postgres-backed snapshot store
	var roomStore store.RoomStore = store.NopStore{}
	if cfg.DatabaseDSN != "" {
		pool, err := db.NewPool(cfg.DatabaseDSN)
		if err != nil {
			logx.Fatal(err, "Failed to initialize database pool")
		}
		defer pool.Close()

		roomStore = store.NewPostgresStore(pool)
		logx.Info("Postgres snapshot store enabled")
	}

	// Initialize Coordinator
	coordinator := collab.NewCoordinator(roomStore)

	// Optional Redis event relay
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logx.Fatal(err, "Failed to connect to Redis")
		}
		defer redisClient.Close()

		coordinator.SetEventTap(relay.New(redisClient).Tap())
		logx.Info("Redis event relay enabled", "addr", cfg.RedisAddr)
	}

	// Periodic idle-room sweep
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				coordinator.Cleanup(ctx, cfg.RoomIdleThreshold)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Setup HTTP server and routes
	deps := &handler.AppDeps{
		Coordinator: coordinator,
		Adapter:     protocol.NewAdapter(coordinator),
		Config:      cfg,
	}
	router := handler.Router(deps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Text Room Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	coordinator.Shutdown(shutdownCtx)

	logx.Info("Server gracefully stopped.")
}
