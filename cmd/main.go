package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gndumbri/arbiter-ai-sub001/internal/app"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/shutdown"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, a.Log, observability.OtelConfig{
		ServiceName: "arbiter-api",
		Environment: a.Cfg.Environment,
		Version:     os.Getenv("SERVICE_VERSION"),
	})

	a.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(":" + a.Cfg.Port)
	}()

	a.Log.Info("Server listening", "port", a.Cfg.Port)

	select {
	case <-ctx.Done():
		a.Log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			a.Log.Error("Server failed", "error", err)
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownOtel != nil {
		if err := shutdownOtel(flushCtx); err != nil {
			a.Log.Warn("Trace exporter shutdown failed", "error", err)
		}
	}
	a.Close()
}
