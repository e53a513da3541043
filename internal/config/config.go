package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bus         BusConfig         `yaml:"bus"`
	Worker      WorkerConfig      `yaml:"worker"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Store       StoreConfig       `yaml:"store"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Vault       VaultConfig       `yaml:"vault"`
	Specialists []string          `yaml:"specialists"`
}

// BusConfig selects between the embedded broker (Port/DataDir) and an
// external NATS deployment (URL). URL wins when both are set.
type BusConfig struct {
	Port          int           `yaml:"port"`
	DataDir       string        `yaml:"data_dir"`
	URL           string        `yaml:"url"`
	MessageMaxAge time.Duration `yaml:"message_max_age"`
}

type WorkerConfig struct {
	AckDeadline              time.Duration `yaml:"ack_deadline"`
	MaxDeliver               int           `yaml:"max_deliver"`
	MaxConcurrentInvocations int           `yaml:"max_concurrent_invocations"`
}

type CoordinatorConfig struct {
	AggregationTimeout time.Duration `yaml:"aggregation_timeout"`
	GraceWindow        time.Duration `yaml:"grace_window"`
	MaxRetention       time.Duration `yaml:"max_retention"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Bus: BusConfig{
			Port:          4222,
			DataDir:       "data/nats",
			MessageMaxAge: 24 * time.Hour,
		},
		Worker: WorkerConfig{
			AckDeadline:              30 * time.Second,
			MaxDeliver:               5,
			MaxConcurrentInvocations: 4,
		},
		Coordinator: CoordinatorConfig{
			AggregationTimeout: 10 * time.Second,
			GraceWindow:        5 * time.Second,
			MaxRetention:       time.Minute,
		},
		Store: StoreConfig{
			Path: "data/consilium.db",
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Specialists: []string{
			"medication_advice",
			"symptom_check",
			"interaction_check",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONSILIUM_CONFIG")
	if path == "" {
		path = "config/consilium.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONSILIUM_BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("CONSILIUM_BUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Bus.Port = port
		}
	}
	if v := os.Getenv("CONSILIUM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CONSILIUM_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("CONSILIUM_AGGREGATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Coordinator.AggregationTimeout = d
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Worker.MaxConcurrentInvocations < 1 {
		return fmt.Errorf("worker.max_concurrent_invocations must be at least 1")
	}
	if cfg.Worker.MaxDeliver < 1 {
		return fmt.Errorf("worker.max_deliver must be at least 1")
	}
	if cfg.Coordinator.AggregationTimeout <= 0 {
		return fmt.Errorf("coordinator.aggregation_timeout must be positive")
	}
	if cfg.Coordinator.GraceWindow < 0 {
		return fmt.Errorf("coordinator.grace_window must not be negative")
	}
	if len(cfg.Specialists) == 0 {
		return fmt.Errorf("at least one specialist must be configured")
	}
	return nil
}
