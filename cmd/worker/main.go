package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"creative-matrix/internal/config"
	"creative-matrix/internal/queue"
	"creative-matrix/internal/render"
	"creative-matrix/internal/telemetry"
	workerproc "creative-matrix/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	q := queue.NewDispatch(cfg)
	backend := render.NewHTTPBackend(cfg.RenderEndpoint, cfg.RenderSubmitTimeout)
	processor := workerproc.NewProcessor(cfg, q, backend)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("dispatcher started with lease=%s poll=%s", cfg.DispatchLease, cfg.DispatchPollInterval)
	if err := processor.Run(ctx); err != nil {
		log.Printf("dispatcher stopped: %v", err)
	}
}
