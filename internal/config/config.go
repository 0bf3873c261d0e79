package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	GinMode        string
	DatabaseURL    string
	EnableDB       bool
	ModelsConfig   string
	UploadDir      string
	MaxUploadBytes int64
	APIToken       string
	CORSOrigins    []string
	LogLevel       string
	ONNXLibrary    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		GinMode:      getEnv("GIN_MODE", "release"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		EnableDB:     strings.EqualFold(getEnv("ENABLE_DB", "false"), "true"),
		ModelsConfig: getEnv("MODELS_CONFIG", "models.toml"),
		UploadDir:    getEnv("UPLOAD_DIR", "uploads"),
		APIToken:     os.Getenv("API_TOKEN"),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		ONNXLibrary:  os.Getenv("ONNXRUNTIME_LIB"),
	}

	if cfg.EnableDB && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when ENABLE_DB=true")
	}

	mb, err := strconv.Atoi(getEnv("MAX_UPLOAD_MB", "16"))
	if err != nil || mb <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be a positive integer")
	}
	cfg.MaxUploadBytes = int64(mb) << 20

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
