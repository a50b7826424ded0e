package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingAPIKey is returned by Load when ROBOFLOW_API_KEY is not set.
var ErrMissingAPIKey = errors.New("ROBOFLOW_API_KEY is not set")

type Config struct {
	Port  int
	Debug bool

	RoboflowAPIKey        string
	RoboflowAPIURL        string // hosted inference endpoint
	RoboflowAPIRoot       string // project metadata API
	RoboflowWorkspace     string
	RoboflowProject       string
	RoboflowVersion       int
	RoboflowStreamModelID string // project/version used for video streams
	RoboflowTimeout       time.Duration
	RoboflowRetries       int

	DetectConfidence int // percent
	DetectOverlap    int // percent
	StreamConfidence int
	StreamOverlap    int

	StreamIdleTimeout time.Duration // how long a consumer waits for the next frame
	StreamMaxFPS      float64       // 0 = decode as fast as the model answers

	TempImagePath string
	UploadDir     string

	DatabasePath         string
	HistoryBufferLimit   int
	HistoryFlushInterval time.Duration

	LogDirectory    string
	StaticDirectory string
}

// Load reads configuration from the environment, after loading an optional .env file.
func Load() (*Config, error) {
	// Missing .env is fine, the environment may already be populated.
	_ = godotenv.Load()

	cfg := &Config{
		Port:  getEnvAsInt("PORT", 8001),
		Debug: getEnvAsBool("DEBUG", false),

		RoboflowAPIKey:        os.Getenv("ROBOFLOW_API_KEY"),
		RoboflowAPIURL:        getEnv("ROBOFLOW_API_URL", "https://detect.roboflow.com"),
		RoboflowAPIRoot:       getEnv("ROBOFLOW_API_ROOT", "https://api.roboflow.com"),
		RoboflowWorkspace:     getEnv("ROBOFLOW_WORKSPACE", "mbcai25-zyauo"),
		RoboflowProject:       getEnv("ROBOFLOW_PROJECT", "trash_detection-cxvht"),
		RoboflowVersion:       getEnvAsInt("ROBOFLOW_VERSION", 4),
		RoboflowStreamModelID: getEnv("ROBOFLOW_STREAM_MODEL_ID", "trash_detection-cxvht/5"),
		RoboflowTimeout:       time.Duration(getEnvAsInt("ROBOFLOW_TIMEOUT", 30)) * time.Second,
		RoboflowRetries:       getEnvAsInt("ROBOFLOW_RETRIES", 0),

		DetectConfidence: getEnvAsInt("DETECT_CONFIDENCE", 40),
		DetectOverlap:    getEnvAsInt("DETECT_OVERLAP", 30),
		StreamConfidence: getEnvAsInt("STREAM_CONFIDENCE", 50),
		StreamOverlap:    getEnvAsInt("STREAM_OVERLAP", 50),

		StreamIdleTimeout: time.Duration(getEnvAsInt("STREAM_IDLE_TIMEOUT", 5)) * time.Second,
		StreamMaxFPS:      getEnvAsFloat("STREAM_MAX_FPS", 0),

		TempImagePath: getEnv("TEMP_IMAGE_PATH", filepath.Join("temp_img", "temp.jpg")),
		UploadDir:     getEnv("UPLOAD_DIR", os.TempDir()),

		DatabasePath:         getEnv("DATABASE_PATH", "detections.db"),
		HistoryBufferLimit:   getEnvAsInt("HISTORY_BUFFER_LIMIT", 500),
		HistoryFlushInterval: time.Duration(getEnvAsInt("HISTORY_FLUSH_INTERVAL", 10)) * time.Second,

		LogDirectory:    getEnv("LOG_DIR", filepath.Join(".", "logs")),
		StaticDirectory: getEnv("STATIC_DIR", "static"),
	}

	if cfg.RoboflowAPIKey == "" {
		return nil, ErrMissingAPIKey
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
