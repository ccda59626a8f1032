package infra

import (
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

// Config represents application configuration loaded from an optional YAML
// file and environment variables. Environment variables win.
type Config struct {
	AppEnv             string
	Port               string
	BackendBaseURL     string
	PollInterval       time.Duration
	RequestTimeout     time.Duration
	ImagesPerRow       int
	ImageSize          int
	ImageMargin        int
	BackgroundThresh   int
	BackgroundColorHex string
	BackgroundColor    color.Color
	DownloadDir        string
	DownloadBaseName   string
	DownloadWindow     time.Duration
	LoadConcurrency    int
	AllowedOrigins     []string
	SubmitRateLimit    int
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
}

// LoadConfig loads configuration and applies defaults where needed.
func LoadConfig() (*Config, error) {
	file, err := loadFileConfig(os.Getenv("CALLIGRAPHY_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", file.str(file.AppEnv, "development")),
		Port:               getEnv("PORT", file.str(file.Port, "8080")),
		BackendBaseURL:     strings.TrimRight(getEnv("BACKEND_BASE_URL", file.str(file.Backend.BaseURL, "http://127.0.0.1:6701/fyp23")), "/"),
		PollInterval:       time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", file.num(file.Backend.PollIntervalMs, 1000))),
		RequestTimeout:     time.Second * time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", file.num(file.Backend.RequestTimeoutSeconds, 30))),
		ImagesPerRow:       getEnvInt("IMAGES_PER_ROW", file.num(file.Layout.ImagesPerRow, 7)),
		ImageSize:          getEnvInt("IMAGE_SIZE", file.num(file.Layout.ImageSize, 80)),
		ImageMargin:        getEnvInt("IMAGE_MARGIN", file.num(file.Layout.ImageMargin, 0)),
		BackgroundThresh:   getEnvInt("BACKGROUND_THRESHOLD", file.num(file.Download.BackgroundThreshold, 200)),
		BackgroundColorHex: getEnv("BACKGROUND_COLOR", file.str(file.Download.BackgroundColor, "#ffffff")),
		DownloadDir:        getEnv("DOWNLOAD_DIR", file.str(file.Download.Dir, "./downloads")),
		DownloadBaseName:   getEnv("DOWNLOAD_BASE_NAME", file.str(file.Download.BaseName, "ai-calligraphy-output")),
		DownloadWindow:     time.Second * time.Duration(getEnvInt("DOWNLOAD_WINDOW_SECONDS", file.num(file.Download.WindowSeconds, 59))),
		LoadConcurrency:    getEnvInt("LOAD_CONCURRENCY", file.num(file.Layout.LoadConcurrency, 4)),
		AllowedOrigins:     splitList(getEnv("CORS_ALLOWED_ORIGINS", strings.Join(file.AllowedOrigins, ","))),
		SubmitRateLimit:    getEnvInt("SUBMIT_RATE_LIMIT_PER_MINUTE", 30),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:" + cfg.Port}
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if cfg.ImagesPerRow <= 0 {
		return nil, fmt.Errorf("IMAGES_PER_ROW must be positive")
	}
	if cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("IMAGE_SIZE must be positive")
	}
	if cfg.ImageMargin < 0 {
		return nil, fmt.Errorf("IMAGE_MARGIN must not be negative")
	}
	if cfg.BackgroundThresh < 0 || cfg.BackgroundThresh > 255 {
		return nil, fmt.Errorf("BACKGROUND_THRESHOLD must be within 0-255")
	}
	bg, err := colorful.Hex(cfg.BackgroundColorHex)
	if err != nil {
		return nil, fmt.Errorf("BACKGROUND_COLOR %q: %w", cfg.BackgroundColorHex, err)
	}
	cfg.BackgroundColor = bg
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
