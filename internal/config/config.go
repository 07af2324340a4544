// Package config loads Kestrel configuration from an optional file and
// KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "KESTREL"

// Load reads configuration. Precedence, highest first: environment,
// config file, tier defaults. KESTREL_TIER=pro selects the pro defaults.
// An empty path searches ./kestrel.yaml and /etc/kestrel; a missing file
// is not an error unless path was given explicitly.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kestrel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kestrel")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	defaults := domain.DefaultConfig()
	if tierFrom(v) == domain.TierPro {
		defaults = domain.ProConfig()
	}
	setDefaults(v, "", reflect.ValueOf(defaults).Elem())

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func tierFrom(v *viper.Viper) domain.Tier {
	return domain.Tier(strings.ToLower(v.GetString("tier")))
}

// setDefaults registers every leaf of cfg under its mapstructure key path.
// AutomaticEnv only resolves keys viper already knows about.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Tier != domain.TierCommunity && cfg.Tier != domain.TierPro {
		return fmt.Errorf("unknown tier: %s", cfg.Tier)
	}
	if cfg.Analysis.MaxTextLength <= 0 {
		return fmt.Errorf("analysis.max_text_length must be positive")
	}
	if c := cfg.Analysis.MinAIConfidence; c < 0 || c > 1 {
		return fmt.Errorf("analysis.min_ai_confidence must be in [0,1], got %.2f", c)
	}
	if cfg.Usage.DailyLimit < 0 {
		return fmt.Errorf("usage.daily_limit must not be negative")
	}
	return nil
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
