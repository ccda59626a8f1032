package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML base layer. Zero values mean "not set".
type fileConfig struct {
	AppEnv  string `yaml:"appEnv"`
	Port    string `yaml:"port"`
	Backend struct {
		BaseURL               string `yaml:"baseURL"`
		PollIntervalMs        int    `yaml:"pollIntervalMs"`
		RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
	} `yaml:"backend"`
	Layout struct {
		ImagesPerRow    int  `yaml:"imagesPerRow"`
		ImageSize       int  `yaml:"imageSize"`
		ImageMargin     *int `yaml:"imageMargin"`
		LoadConcurrency int  `yaml:"loadConcurrency"`
	} `yaml:"layout"`
	Download struct {
		Dir                 string `yaml:"dir"`
		BaseName            string `yaml:"baseName"`
		BackgroundColor     string `yaml:"backgroundColor"`
		BackgroundThreshold *int   `yaml:"backgroundThreshold"`
		WindowSeconds       int    `yaml:"windowSeconds"`
	} `yaml:"download"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func (c *fileConfig) str(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// num accepts int or *int so optional fields that may legitimately be zero
// (margin, threshold) can be told apart from unset ones.
func (c *fileConfig) num(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		if n != 0 {
			return n
		}
	case *int:
		if n != nil {
			return *n
		}
	}
	return fallback
}
