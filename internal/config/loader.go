package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "rollout.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Environment, "ROLLOUT_ENVIRONMENT")

	setString(&cfg.Logging.Level, "ROLLOUT_LOG_LEVEL")
	setString(&cfg.Logging.Format, "ROLLOUT_LOG_FORMAT")
	setString(&cfg.Logging.Service, "ROLLOUT_LOG_SERVICE")

	setInt(&cfg.Scheduler.MaxConcurrency, "ROLLOUT_MAX_CONCURRENCY")
	setDuration(&cfg.Scheduler.CallTimeout, "ROLLOUT_CALL_TIMEOUT")
	setBool(&cfg.Scheduler.PropagateSkip, "ROLLOUT_PROPAGATE_SKIP")

	setString(&cfg.Executor.Binary, "ROLLOUT_EXECUTOR_BINARY")
	setInt(&cfg.Executor.MaxFrameBytes, "ROLLOUT_MAX_FRAME_BYTES")
	setDuration(&cfg.Executor.JoinTimeout, "ROLLOUT_JOIN_TIMEOUT")
	setList(&cfg.Executor.Env, "ROLLOUT_EXECUTOR_ENV")

	setString(&cfg.Store.Path, "ROLLOUT_STORE_PATH")

	setString(&cfg.Code.BaseDir, "ROLLOUT_CODE_DIR")
	setInt64(&cfg.Code.CacheEntries, "ROLLOUT_CODE_CACHE_ENTRIES")
	setDuration(&cfg.Code.CacheTTL, "ROLLOUT_CODE_CACHE_TTL")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "ROLLOUT_NATS_SUBJECT_PREFIX")
	setString(&cfg.NATS.Stream, "ROLLOUT_NATS_STREAM")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Environment == "" {
		return errors.New("environment is required")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if cfg.Scheduler.MaxConcurrency < 1 {
		return errors.New("scheduler.max_concurrency must be >= 1")
	}
	if cfg.Scheduler.CallTimeout <= 0 {
		return errors.New("scheduler.call_timeout must be > 0")
	}
	if cfg.Executor.MaxFrameBytes < 1 {
		return errors.New("executor.max_frame_bytes must be >= 1")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", cfg.Logging.Format)
	}
	for _, kv := range cfg.Executor.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("executor.env entry %q is not KEY=VALUE", kv)
		}
	}
	for i, b := range cfg.Code.Bundles {
		if b.Name == "" {
			return fmt.Errorf("code.bundles[%d].name is required", i)
		}
		if len(b.Types) == 0 {
			return fmt.Errorf("code.bundles[%d] (%s) lists no types", i, b.Name)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated value.
func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.Split(v, ",")
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
