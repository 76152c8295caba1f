package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultServerPort    = 8080
	defaultReadyUpWindow = 60 * time.Second
)

type Config struct {
	DatabaseURL      string
	JWTSecretKey     string
	ServerPort       int
	GameServiceToken string
	ReadyUpWindow    time.Duration
	AllowedOrigins   []string
	LogLevel         string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string
	R2Endpoint        string
}

// ArchiveEnabled reports whether enough R2 settings are present to upload archives.
func (c *Config) ArchiveEnabled() bool {
	return c.R2BucketName != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" &&
		(c.R2AccountID != "" || c.R2Endpoint != "")
}

// Load reads configuration from the environment, loading .env first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	serviceToken := os.Getenv("GAME_SERVICE_TOKEN")
	if serviceToken == "" {
		return nil, fmt.Errorf("GAME_SERVICE_TOKEN environment variable is not set")
	}

	port := defaultServerPort
	if portStr := os.Getenv("SERVER_PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVER_PORT environment variable: %w", err)
		}
		port = p
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	window := defaultReadyUpWindow
	if windowStr := os.Getenv("READY_UP_WINDOW"); windowStr != "" {
		d, err := time.ParseDuration(windowStr)
		if err != nil {
			return nil, fmt.Errorf("invalid READY_UP_WINDOW environment variable: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("READY_UP_WINDOW must be positive, got %s", d)
		}
		window = d
	}

	cfg := &Config{
		DatabaseURL:       dbURL,
		JWTSecretKey:      jwtKey,
		ServerPort:        port,
		GameServiceToken:  serviceToken,
		ReadyUpWindow:     window,
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
		LogLevel:          strings.ToLower(os.Getenv("LOG_LEVEL")),
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),
		R2Endpoint:        os.Getenv("R2_ENDPOINT"),
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
