package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Required environment variables.
const (
	envSupabaseURL    = "SUPABASE_URL"
	envSupabaseAPIKey = "SUPABASE_API_KEY"
	envNotionAPIKey   = "NOTION_API_KEY"
)

// Settings holds the tunables that may be overridden from a YAML file.
type Settings struct {
	Port     int `yaml:"port"`
	Timeouts struct {
		Notion   time.Duration `yaml:"notion"`
		Image    time.Duration `yaml:"image"`
		Storage  time.Duration `yaml:"storage"`
		Database time.Duration `yaml:"database"`
	} `yaml:"timeouts"`
	Image struct {
		MaxWidth int   `yaml:"max_width"`
		MaxBytes int64 `yaml:"max_bytes"`
	} `yaml:"image"`
	Storage struct {
		Bucket string `yaml:"bucket"`
		Prefix string `yaml:"prefix"`
	} `yaml:"storage"`
	Database struct {
		Table string `yaml:"table"`
	} `yaml:"database"`
}

func defaultSettings() Settings {
	var s Settings
	s.Port = 3000
	s.Timeouts.Notion = 15 * time.Second
	s.Timeouts.Image = 30 * time.Second
	s.Timeouts.Storage = 30 * time.Second
	s.Timeouts.Database = 10 * time.Second
	s.Image.MaxWidth = 1600
	s.Image.MaxBytes = 32 << 20
	s.Storage.Bucket = "images"
	s.Storage.Prefix = "articles"
	s.Database.Table = "articles"
	return s
}

// Config is the process configuration, resolved once at startup.
type Config struct {
	SupabaseURL            string
	SupabaseAPIKey         string
	NotionAPIKey           string
	DatabaseURL            string
	LogLevel               string
	AllowPrivateImageHosts bool
	Settings               Settings
}

// MissingConfigError lists every required variable that was not set.
type MissingConfigError struct {
	Names []string
}

func (e *MissingConfigError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Names, ", ")
}

// LoadConfig reads .env (if present), the environment and the optional
// settings file.
func LoadConfig(settingsPath string) (*Config, error) {
	_ = godotenv.Load()

	settings := defaultSettings()
	if settingsPath != "" {
		s, err := loadSettings(settingsPath, settings)
		if err != nil {
			return nil, err
		}
		settings = s
	}
	return configFromEnv(os.Getenv, settings)
}

// configFromEnv builds a Config from getenv, reporting all missing required
// variables at once.
func configFromEnv(getenv func(string) string, settings Settings) (*Config, error) {
	cfg := &Config{
		SupabaseURL:    strings.TrimRight(strings.TrimSpace(getenv(envSupabaseURL)), "/"),
		SupabaseAPIKey: strings.TrimSpace(getenv(envSupabaseAPIKey)),
		NotionAPIKey:   strings.TrimSpace(getenv(envNotionAPIKey)),
		DatabaseURL:    strings.TrimSpace(getenv("DATABASE_URL")),
		LogLevel:       strings.TrimSpace(getenv("LOG_LEVEL")),
		Settings:       settings,
	}

	var missing []string
	if cfg.SupabaseURL == "" {
		missing = append(missing, envSupabaseURL)
	}
	if cfg.SupabaseAPIKey == "" {
		missing = append(missing, envSupabaseAPIKey)
	}
	if cfg.NotionAPIKey == "" {
		missing = append(missing, envNotionAPIKey)
	}
	if len(missing) > 0 {
		return nil, &MissingConfigError{Names: missing}
	}

	if v := getenv("ALLOW_PRIVATE_IMAGE_HOSTS"); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("ALLOW_PRIVATE_IMAGE_HOSTS: %w", err)
		}
		cfg.AllowPrivateImageHosts = allow
	}
	return cfg, nil
}

// loadSettings overlays the YAML file at path on top of base.
func loadSettings(path string, base Settings) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	s := base
	if err := yaml.Unmarshal(data, &s); err != nil {
		return base, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	if err := s.validate(); err != nil {
		return base, fmt.Errorf("settings file %s: %w", path, err)
	}
	return s, nil
}

func (s Settings) validate() error {
	switch {
	case s.Port <= 0 || s.Port > 65535:
		return fmt.Errorf("port %d out of range", s.Port)
	case s.Image.MaxWidth <= 0:
		return fmt.Errorf("image.max_width must be positive")
	case s.Storage.Bucket == "":
		return fmt.Errorf("storage.bucket must not be empty")
	case s.Database.Table == "":
		return fmt.Errorf("database.table must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"notion":   s.Timeouts.Notion,
		"image":    s.Timeouts.Image,
		"storage":  s.Timeouts.Storage,
		"database": s.Timeouts.Database,
	} {
		if d <= 0 {
			return fmt.Errorf("timeouts.%s must be positive", name)
		}
	}
	return nil
}
