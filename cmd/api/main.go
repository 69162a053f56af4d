package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"checkin/internal/api"
	"checkin/internal/camera"
	"checkin/internal/config"
	"checkin/internal/faceclient"
	"checkin/internal/match"
	"checkin/internal/metrics"
	"checkin/internal/notify"
	"checkin/internal/queue"
	"checkin/internal/scan"
	"checkin/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Release() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}
	notifier := newNotifier(ctx, cfg, redisClient, log.Default())

	mode, err := camera.ParseMode(cfg.CameraMode)
	if err != nil {
		return err
	}
	matcher, err := buildMatcher(cfg)
	if err != nil {
		return err
	}

	reg := api.NewRegistry(api.Deps{
		Catalog: scan.NewCatalog(cfg.Timings),
		Matcher: matcher,
		Device:  camera.NewSimulated(mode),
		Constraints: camera.Constraints{
			Width:  cfg.CameraWidth,
			Height: cfg.CameraHeight,
			Facing: camera.Facing(cfg.CameraFacing),
		},
		Notifier: notifier,
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
	})
	defer reg.CloseAll()

	api.StartJanitor(ctx, reg, cfg.SessionIdleTTL, cfg.JanitorInterval)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: (&api.Server{
			Registry:        reg,
			Redis:           redisClient,
			RateLimitPerMin: cfg.RateLimitPerMin,
			AllowedOrigins:  cfg.CORSOrigins,
		}).Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (camera=%s matcher=%s queue=%s)", cfg.HTTPPort, mode, cfg.Matcher, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// newNotifier wires the session event sink. With the redis backend events
// are logged here and published for cmd/worker. The memory backend has no
// other consumer, so an in-process drain logs them until ctx ends.
func newNotifier(ctx context.Context, cfg config.App, redisClient *store.Redis, logger *log.Logger) notify.Notifier {
	sink := notify.Log{Logger: logger}
	if cfg.QueueBackend == "redis" && redisClient != nil {
		q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
		return notify.Multi{sink, notify.Queue{Q: q}}
	}

	q := queue.NewInMemory(64)
	go func() {
		err := notify.Consume(ctx, q, func(e notify.Event) {
			_ = sink.Notify(ctx, e)
		})
		if err != nil && ctx.Err() == nil {
			logger.Printf("notification drain stopped: %v", err)
		}
	}()
	return notify.Queue{Q: q}
}

// buildMatcher picks the identity source. QR codes always resolve against
// the demo roster; "face" sends face flows to the recognition service.
func buildMatcher(cfg config.App) (scan.Matcher, error) {
	switch cfg.Matcher {
	case "", "fixed":
		return match.Demo(), nil
	case "face":
		face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
		if !cfg.FaceSkip {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := face.Health(ctx); err != nil {
				log.Printf("WARNING: Face service not available: %v", err)
			} else {
				log.Println("Face service connected")
			}
		}
		return match.ByMethod{
			scan.MethodQRCode: match.Demo(),
			scan.MethodFaceRecognition: match.FaceService{
				Client:    face,
				TopK:      cfg.FaceTopK,
				Threshold: cfg.FaceThreshold,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown MATCHER %q", cfg.Matcher)
	}
}
