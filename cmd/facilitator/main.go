package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/x402-agent/facilitator"
	"github.com/vorpalengineering/x402-agent/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "facilitator/config.yaml", "Path to config file")
	flag.Parse()

	// Load config
	cfg, err := facilitator.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewZapLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		zapLogger.Info("received signal", map[string]any{"signal": sig.String()})
		cancel()
	}()

	// Create and start facilitator
	f := facilitator.NewFacilitator(cfg, facilitator.WithLogger(zapLogger))
	defer f.Close()

	zapLogger.Info("facilitator starting", map[string]any{
		"signer":    cfg.Signer.Address.Hex(),
		"supported": len(cfg.Supported),
	})

	if err := f.Run(ctx); err != nil {
		zapLogger.Error("facilitator stopped", map[string]any{"error": err})
		os.Exit(1)
	}
}
