package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripcraft/planner/bootstrap"
	"github.com/tripcraft/planner/config"
	"github.com/tripcraft/planner/log"
)

func main() {
	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info(ctx, "Program terminated externally. Exiting...")
		cancel()
	}()

	// 0. Load Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(ctx, "Failed to load config: %v", err)
	}

	// 1-4. Init App Components using Bootstrap
	app, err := bootstrap.Setup(ctx, cfg)
	if err != nil {
		log.Fatalf(ctx, "Setup failed: %v", err)
	}

	// 5. Start API Server
	go func() {
		<-ctx.Done()
		log.Info(ctx, "Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := app.Server.Shutdown(shutdownCtx); err != nil {
			log.Errorf(ctx, "Shutdown failed: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof(ctx, "Starting server on %s", addr)
	if err := app.Server.Start(addr); err != nil {
		log.Infof(ctx, "Server stopped: %v", err)
	}
}
