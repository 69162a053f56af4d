package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"checkin/internal/config"
	"checkin/internal/notify"
	"checkin/internal/queue"
	"checkin/internal/store"
)

// Worker drains session notifications from redis and logs them.
func main() {
	cfg := config.Load()
	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable, consumer will keep retrying", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	sink := notify.Log{Logger: log.Default()}
	marked := make(map[string]int)

	log.Println("worker started, waiting for notifications...")
	err := notify.Consume(ctx, q, func(evt notify.Event) {
		_ = sink.Notify(ctx, evt)

		if id := evt.Attrs["result_id"]; id != "" {
			marked[evt.Flow]++
			log.Printf("result %s: %s (%s) via %s, %d marked on %s so far",
				id, evt.Attrs["subject_name"], evt.Attrs["subject_id"], evt.Attrs["method"], marked[evt.Flow], evt.Flow)
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("queue consume failed: %v", err)
	}

	log.Println("worker stopped")
}
