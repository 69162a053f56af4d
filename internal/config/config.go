package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"checkin/internal/scan"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	RedisAddr       string
	QueueBackend    string
	QueueKey        string
	RateLimitPerMin int
	CORSOrigins     []string

	Matcher        string
	FaceServiceURL string
	FaceSkip       bool
	FaceTopK       int
	FaceThreshold  float64

	CameraMode   string
	CameraWidth  int
	CameraHeight int
	CameraFacing string

	SessionIdleTTL  time.Duration
	JanitorInterval time.Duration

	Timings scan.Timings
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	t := scan.DefaultTimings()
	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8081"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		QueueKey:        getEnv("QUEUE_KEY", "checkin:notifications"),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		CORSOrigins:     listEnv("CORS_ORIGINS"),

		Matcher:        getEnv("MATCHER", "fixed"),
		FaceServiceURL: getEnv("FACE_SERVICE_URL", "http://localhost:8000"),
		FaceSkip:       boolEnv("FACE_SKIP", true),
		FaceTopK:       intEnv("FACE_TOP_K", 1),
		FaceThreshold:  floatEnv("FACE_THRESHOLD", 0.45),

		CameraMode:   getEnv("CAMERA_MODE", "grant"),
		CameraWidth:  intEnv("CAMERA_WIDTH", 640),
		CameraHeight: intEnv("CAMERA_HEIGHT", 480),
		CameraFacing: getEnv("CAMERA_FACING", "user"),

		SessionIdleTTL:  durationEnv("SESSION_IDLE_TTL", 15*time.Minute),
		JanitorInterval: durationEnv("JANITOR_INTERVAL", time.Minute),

		Timings: scan.Timings{
			QRDelay:         durationEnv("QR_DELAY", t.QRDelay),
			FaceDelay:       durationEnv("FACE_DELAY", t.FaceDelay),
			DetectInterval:  durationEnv("DETECT_INTERVAL", t.DetectInterval),
			DetectStep:      intEnv("DETECT_STEP", t.DetectStep),
			DetectThreshold: intEnv("DETECT_THRESHOLD", t.DetectThreshold),
			AnalyzeInterval: durationEnv("ANALYZE_INTERVAL", t.AnalyzeInterval),
			AnalyzeStep:     intEnv("ANALYZE_STEP", t.AnalyzeStep),
			SettleDelay:     durationEnv("SETTLE_DELAY", t.SettleDelay),
			ConfidenceScale: floatEnv("CONFIDENCE_SCALE", t.ConfidenceScale),
			FinalConfidence: floatEnv("FINAL_CONFIDENCE", t.FinalConfidence),
		},
	}
}

// Release reports whether gin should run in release mode.
func (a App) Release() bool {
	return a.Env == "production" || a.Env == "prod"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %v", key, fallback)
	}
	return fallback
}

// listEnv splits a comma-separated variable, dropping empty entries.
func listEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
