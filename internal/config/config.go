package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/harliandi/go-imgfit/pkg/geometry"
)

// Config holds application configuration
type Config struct {
	Port            int
	MaxUploadMB     int
	TargetSizeKB    int
	MaxDimension    int
	InitialQuality  float64
	OutputFormat    string
	OrientationFix  bool
	UseParallel     bool
	AcceptHEIF      bool
	PixelCap        int
	MaxConcurrent   int
	RateLimitPerSec int
	RateLimitBurst  int
	WorkerCount     int
	PoolRetries     int
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	cfg := &Config{
		Port:            getEnvInt("PORT", 8080),
		MaxUploadMB:     getEnvInt("MAX_UPLOAD_MB", 100),
		TargetSizeKB:    getEnvInt("TARGET_SIZE_KB", 500),
		MaxDimension:    getEnvInt("MAX_DIMENSION", 0),
		InitialQuality:  getEnvFloat("INITIAL_QUALITY", 1.0),
		OutputFormat:    getEnvString("OUTPUT_FORMAT", ""),
		OrientationFix:  getEnvBool("ORIENTATION_FIX", true),
		UseParallel:     getEnvBool("USE_PARALLEL", true),
		AcceptHEIF:      getEnvBool("ACCEPT_HEIF", false),
		PixelCap:        getEnvInt("PIXEL_CAP", geometry.MaxSurfacePixels),
		MaxConcurrent:   getEnvInt("MAX_CONCURRENT", 50),
		RateLimitPerSec: getEnvInt("RATE_LIMIT", 10),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 20),
		WorkerCount:     getEnvInt("WORKER_COUNT", 10),
		PoolRetries:     getEnvInt("POOL_RETRIES", 3),
	}
	return cfg
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvString(key, defaultValue string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultValue
}
