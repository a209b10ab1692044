package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config は環境変数から読み込むサーバー設定
type Config struct {
	Port          string
	DataDir       string
	DatabasePath  string
	BlobDir       string
	MaxActiveJobs int
	GuestLimit    int64
	SweepInterval time.Duration
	AdminToken    string
}

// Load reads configuration from the environment, with defaults suitable for
// local development. godotenv is loaded by the caller before this runs.
func Load() Config {
	dataDir := getenv("DATA_DIR", "data")
	return Config{
		Port:          getenv("PORT", "8080"),
		DataDir:       dataDir,
		DatabasePath:  getenv("DATABASE_PATH", filepath.Join(dataDir, "soundcrate.db")),
		BlobDir:       getenv("BLOB_DIR", filepath.Join(dataDir, "blobs")),
		MaxActiveJobs: getenvInt("MAX_ACTIVE_JOBS", 10),
		GuestLimit:    int64(getenvInt("GUEST_HOURLY_LIMIT", 50)),
		SweepInterval: getenvDuration("SWEEP_INTERVAL", 5*time.Minute),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
