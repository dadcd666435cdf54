package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v2"

	"github.com/tqbf/patchkit/pkg/assets"
)

const EnvPrefix = "PATCHKIT_"

type Config struct {
	ProgressURL string          `yaml:"progress_url"`
	AssetsPaths []string        `yaml:"assets_paths"`
	Exclude     []string        `yaml:"exclude"`
	LogLevel    string          `yaml:"log_level"`
	S3          assets.S3Config `yaml:"s3"`
}

// Load reads the optional YAML file at path, then lets a .env file in the
// working directory and PATCHKIT_* variables override it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ProgressURL = firstNonEmpty(env("PROGRESS_URL"), c.ProgressURL)
	c.LogLevel = firstNonEmpty(env("LOG_LEVEL"), c.LogLevel)
	if v := env("ASSETS_PATHS"); v != "" {
		c.AssetsPaths = filepath.SplitList(v)
	}
	if v := env("EXCLUDE"); v != "" {
		c.Exclude = splitComma(v)
	}

	c.S3.Endpoint = firstNonEmpty(env("S3_ENDPOINT"), c.S3.Endpoint)
	c.S3.Region = firstNonEmpty(env("S3_REGION"), c.S3.Region)
	c.S3.AccessKey = firstNonEmpty(
		env("S3_ACCESS_KEY"), c.S3.AccessKey, os.Getenv("AWS_ACCESS_KEY_ID"),
	)
	c.S3.SecretKey = firstNonEmpty(
		env("S3_SECRET_KEY"), c.S3.SecretKey, os.Getenv("AWS_SECRET_ACCESS_KEY"),
	)
	if raw := env("S3_USE_SSL"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%sS3_USE_SSL: %w", EnvPrefix, err)
		}
		c.S3.UseSSL = v
	}
	return nil
}

// Level maps log_level onto slog. Unknown or empty values give Info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
