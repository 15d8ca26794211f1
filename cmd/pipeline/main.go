package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-pipeline/internal/factory"
	"event-pipeline/internal/handler"
	"event-pipeline/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	// Ops surface: liveness, readiness, metrics
	opsHandler := handler.NewOpsHandler(f.HealthCheckers(), f.EventRepository())
	router := handler.NewRouter(opsHandler, util.Get())

	opsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:      router,
		ReadTimeout:  cfg.Ops.ReadTimeout,
		WriteTimeout: cfg.Ops.WriteTimeout,
	}

	go func() {
		util.Info("Starting ops server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Ops.Port),
		)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("Ops server failed to start", util.ErrorField(err))
		}
	}()

	// The consumer pool blocks until its context is cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- f.Consumer().Run(ctx)
	}()

	util.Info("Pipeline started",
		util.String("environment", cfg.Environment),
		util.Int("workers_per_source", cfg.Pipeline.WorkersPerSource),
	)

	waitForShutdown(f, cancel, consumerDone, opsServer)
}

func waitForShutdown(f *factory.Factory, cancel context.CancelFunc, consumerDone <-chan error, opsServer *http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	drained := false
	select {
	case sig := <-signalChan:
		util.Info("Received shutdown signal", util.String("signal", sig.String()))
	case err := <-consumerDone:
		drained = true
		if err != nil {
			util.Error("Consumer pool exited with error", util.ErrorField(err))
		}
	}

	// Stop fetching first so in-flight messages drain before clients close.
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if !drained {
		select {
		case err := <-consumerDone:
			if err != nil {
				util.Error("Consumer pool shutdown error", util.ErrorField(err))
			} else {
				util.Info("Consumer pool drained")
			}
		case <-ctx.Done():
			util.Warn("Consumer pool did not drain before deadline")
		}
	}

	if err := opsServer.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown ops server gracefully", util.ErrorField(err))
	} else {
		util.Info("Ops server shutdown completed")
	}

	f.Close()
}
