package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/x402-agent/catalog"
	facilitatorclient "github.com/vorpalengineering/x402-agent/facilitator/client"
	"github.com/vorpalengineering/x402-agent/logger"
	"github.com/vorpalengineering/x402-agent/resource/server"
)

func main() {
	configPath := flag.String("config", "resource/server/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
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

	cat, err := catalog.New(cfg.Catalog)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger := facilitatorclient.NewFacilitatorClient(cfg.FacilitatorURL)
	if supported, err := ledger.Supported(ctx); err != nil {
		zapLogger.Warn("facilitator unreachable at startup", map[string]any{"url": cfg.FacilitatorURL, "error": err})
	} else {
		zapLogger.Info("facilitator reachable", map[string]any{"url": cfg.FacilitatorURL, "kinds": len(supported.Kinds)})
	}

	s := server.NewServer(cfg, cat, ledger, server.WithLogger(zapLogger))
	if err := s.Run(ctx); err != nil {
		zapLogger.Error("resource server stopped", map[string]any{"error": err})
		os.Exit(1)
	}
}
