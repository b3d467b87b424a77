// Command dproc-server runs the HTTP surface (spec.md §6) and the worker
// pool (C7) in one process, backed by one shared App.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/app"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/server"
)

func main() {
	configPath := os.Getenv("DPROC_CONFIG")

	a, err := app.New("config/dproc.toml", configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	common.PrintBanner(a.Config, a.Logger)

	pool := a.NewWorkerPool()
	pool.Start()

	srv := server.New(a.Config.Server.Host, a.Config.Server.Port, a.Submitter, a.Store, a.Loader, a.Logger)

	go func() {
		if err := srv.Start(); err != nil {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	a.Logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", a.Config.Server.Host, a.Config.Server.Port)).
		Int("worker_concurrency", a.Config.Worker.ConcurrencyOrDefault()).
		Msg("dproc-server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	pool.Stop()

	common.PrintShutdownBanner(a.Logger)
}
