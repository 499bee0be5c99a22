// Command signer holds a payer key and signs payment requirements for
// RemoteSigner clients, so agents never see the key.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/x402-agent/logger"
	"github.com/vorpalengineering/x402-agent/proof"
)

const privateKeyEnv = "X402_PRIVATE_KEY"

func main() {
	addr := flag.String("addr", "127.0.0.1:4030", "Listen address")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	zapLogger, err := logger.NewZapLogger(*level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	signer, err := proof.NewLocalSignerFromHex(os.Getenv(privateKeyEnv))
	if err != nil {
		log.Fatalf("Failed to load %s: %v", privateKeyEnv, err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(zapLogger))
	router.POST("/sign", proof.SignHandler(signer))

	server := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	zapLogger.Info("signer listening", map[string]any{"addr": *addr, "payer": signer.Address()})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zapLogger.Error("signer stopped", map[string]any{"error": err})
		os.Exit(1)
	}
}
