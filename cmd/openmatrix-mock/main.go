package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/config"
	"github.com/koios/openmatrix/internal/discovery"
	"github.com/koios/openmatrix/internal/logging"
	"github.com/koios/openmatrix/internal/mockdevice"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	seed, err := mockdevice.LoadSeed(cfg.Server.SeedPath)
	if err != nil {
		logger.Fatal("Failed to load seed", zap.String("path", cfg.Server.SeedPath), zap.Error(err))
	}
	device := mockdevice.NewDevice(seed)
	handler := mockdevice.NewHandler(device, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start HTTP server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Answer <name>.local so clients can find the mock like a real device
	if cfg.Server.MDNSName != "" {
		responder, err := discovery.Advertise([]string{cfg.Server.MDNSName}, logger)
		if err != nil {
			logger.Warn("mDNS advertisement disabled", zap.Error(err))
		} else {
			defer responder.Close()
		}
	}

	logger.Info("Mock device started",
		zap.Int("port", cfg.Server.Port),
		zap.String("seed", cfg.Server.SeedPath),
		zap.Int("images", len(device.Images())))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	logger.Info("Server shutdown complete")
}
