package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"creative-matrix/internal/api"
	"creative-matrix/internal/config"
	"creative-matrix/internal/export"
	"creative-matrix/internal/generate"
	"creative-matrix/internal/matrix"
	"creative-matrix/internal/platformspec"
	"creative-matrix/internal/queue"
	"creative-matrix/internal/ratelimit"
	"creative-matrix/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	col := matrix.NewCollection()
	persisted, err := st.List(ctx)
	if err != nil {
		log.Fatalf("load combinations: %v", err)
	}
	col.Load(persisted)
	log.Printf("loaded %d combinations from postgres", col.Len())

	q := queue.NewDispatch(cfg)
	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisLimiter, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	coord := generate.New(col, q, st, cfg.CallbackBaseURL, cfg.RegenerateCompleted)

	specs := platformspec.New()
	uploader, err := export.NewUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("init export uploader: %v", err)
	}
	pipeline := export.NewPipeline(
		specs,
		export.NewHTTPFetcher(cfg.MediaFetchTimeout, cfg.MediaMaxBytes),
		export.NewHTTPDistributor(cfg.DistributionEndpoint, 30*time.Second),
		uploader,
	)

	server := api.New(cfg, col, coord, pipeline, specs, limiter, st)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
