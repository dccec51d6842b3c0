package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the trafficwatch daemon.
// Values come from environment variables, optionally loaded from a .env
// file, with defaults suitable for local development.
type Config struct {
	ListenAddr string
	DBPath     string

	// FrameTTL bounds how long ingested frames stay retrievable.
	FrameTTL time.Duration
	// LightTTL bounds the retention of traffic-light observations.
	LightTTL time.Duration

	// MaxFrameBytes caps a single binary frame message on the ingest channel.
	MaxFrameBytes int64
	// SendQueueLen is the per-client outbound buffer; full buffers drop.
	SendQueueLen int

	// ViolationDirections lists crossing directions that qualify as
	// red-light violations when the matched signal is red or yellow.
	ViolationDirections []string

	// AuthEnabled gates the viewer event endpoint behind JWT tokens.
	AuthEnabled bool
	JWTSecret   string
	JWTExpiry   time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[Config] Loaded .env file")
	}

	cfg := &Config{
		ListenAddr:          getEnv("TW_LISTEN_ADDR", ":8080"),
		DBPath:              getEnv("TW_DB_PATH", "trafficwatch.db"),
		FrameTTL:            getDuration("TW_FRAME_TTL", 5*time.Minute),
		LightTTL:            getDuration("TW_LIGHT_TTL", time.Hour),
		MaxFrameBytes:       getInt64("TW_MAX_FRAME_BYTES", 4<<20),
		SendQueueLen:        getInt("TW_SEND_QUEUE_LEN", 64),
		ViolationDirections: getList("TW_VIOLATION_DIRECTIONS", []string{"up"}),
		AuthEnabled:         os.Getenv("TW_AUTH_ENABLED") == "true",
		JWTSecret:           os.Getenv("TW_JWT_SECRET"),
		JWTExpiry:           getDuration("TW_JWT_EXPIRY", 24*time.Hour),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("[Config] Invalid duration for %s, using default %s", key, fallback)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("[Config] Invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("[Config] Invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
