// Package config loads the reader's settings from EREADER_* environment
// variables (and a .env file when present) and validates them.
//
// Nested keys use a double underscore: EREADER_LOG__LEVEL -> log.level.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	// Loads a .env file into the process environment before anything reads it.
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "EREADER_"

// Config is the root configuration object.
type Config struct {
	DBPath      string       `koanf:"db_path" validate:"required"`
	LibraryDir  string       `koanf:"library_dir" validate:"required"`
	CatalogFile string       `koanf:"catalog_file"`
	Log         LogConfig    `koanf:"log"`
	Reader      ReaderConfig `koanf:"reader"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

type ReaderConfig struct {
	PageSize int `koanf:"page_size" validate:"min=100"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"db_path":          "ereader.db",
		"library_dir":      "library",
		"catalog_file":     "",
		"log.level":        "info",
		"log.format":       "console",
		"reader.page_size": 1500,
	}
}

// Load builds a Config from defaults overlaid with EREADER_* variables.
func Load() (*Config, error) {
	return load(env.Provider(envPrefix, ".", envKey))
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

func load(p koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := k.Load(p, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
