// Package config loads FareHawk configuration from defaults, an optional YAML
// file, a .env file and FAREHAWK_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/farehawk/internal/domain"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "FAREHAWK_"

// EnvConfigFile names the YAML file to load.
const EnvConfigFile = EnvPrefix + "CONFIG"

// Load reads .env from the working directory and the YAML file named by
// FAREHAWK_CONFIG, if either exists.
func Load() (*domain.Config, error) {
	return LoadFiles(os.Getenv(EnvConfigFile), ".env")
}

// LoadFiles builds a configuration from the given YAML and .env paths.
// An empty yamlPath skips the file. A missing .env is not an error; variables
// already set in the environment win over .env values.
func LoadFiles(yamlPath, envPath string) (*domain.Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	// the tier picks the base defaults; YAML and env then override fields
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if yamlPath == "" {
		yamlPath = os.Getenv(EnvConfigFile)
	}
	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", yamlPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported repository driver: %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "", "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %q", cfg.EventBus.Type)
	}
	if cfg.Detection.DisplayLimit < 0 {
		return fmt.Errorf("detection.displayLimit must not be negative")
	}
	if cfg.Detection.ReportTTL < 0 {
		return fmt.Errorf("detection.reportTtl must not be negative")
	}
	return nil
}

// binding maps one environment variable onto a config field.
type binding struct {
	key   string
	apply func(v string) error
}

func applyEnv(cfg *domain.Config) error {
	bindings := []binding{
		{"HOST", setString(&cfg.Server.Host)},
		{"PORT", setInt(&cfg.Server.Port)},

		{"DB_DRIVER", setString(&cfg.Repository.Driver)},
		{"SQLITE_PATH", setString(&cfg.Repository.SQLitePath)},
		{"POSTGRES_HOST", setString(&cfg.Repository.PostgresHost)},
		{"POSTGRES_PORT", setInt(&cfg.Repository.PostgresPort)},
		{"POSTGRES_USER", setString(&cfg.Repository.PostgresUser)},
		{"POSTGRES_PASSWORD", setString(&cfg.Repository.PostgresPassword)},
		{"POSTGRES_DB", setString(&cfg.Repository.PostgresDB)},
		{"POSTGRES_SSLMODE", setString(&cfg.Repository.PostgresSSLMode)},

		{"CACHE_TYPE", setString(&cfg.Cache.Type)},
		{"REDIS_ADDR", setString(&cfg.Cache.RedisAddr)},
		{"REDIS_PASSWORD", setString(&cfg.Cache.RedisPassword)},
		{"REDIS_DB", setInt(&cfg.Cache.RedisDB)},

		{"BUS_TYPE", setString(&cfg.EventBus.Type)},
		{"NATS_URL", setString(&cfg.EventBus.NATSUrl)},
		{"NATS_TOKEN", setString(&cfg.EventBus.NATSToken)},

		{"DISPLAY_LIMIT", setInt(&cfg.Detection.DisplayLimit)},
		{"AUTO_DETECT", setBool(&cfg.Detection.AutoDetect)},
		{"REPORT_TTL", setDuration(&cfg.Detection.ReportTTL)},
		{"ASYNC_WORKER", setBool(&cfg.Detection.AsyncWorker)},
		{"TENANTS", setList(&cfg.Detection.Tenants)},

		{"LOG_LEVEL", setString(&cfg.Logging.Level)},
		{"LOG_FORMAT", setString(&cfg.Logging.Format)},
		{"TRACING", setBool(&cfg.Tracing.Enabled)},
	}

	for _, b := range bindings {
		v, ok := os.LookupEnv(EnvPrefix + b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(v); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.key, err)
		}
	}

	if os.Getenv(EnvPrefix+"DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// setList splits a comma-separated value, dropping empty entries.
func setList(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
		return nil
	}
}
