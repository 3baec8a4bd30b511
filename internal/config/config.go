package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Advisory  AdvisoryConfig  `yaml:"advisory"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Swarm     SwarmConfig     `yaml:"swarm"`
	Collab    CollabConfig    `yaml:"collab"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type AdvisoryConfig struct {
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int64         `yaml:"max_tokens"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SwarmConfig struct {
	LayerTimeout time.Duration `yaml:"layer_timeout"`
	ExecTimeout  time.Duration `yaml:"exec_timeout"`
}

type CollabConfig struct {
	MaxCandidates int `yaml:"max_candidates"`
	// AssumeActiveContext treats the process as running inside an active
	// collaborative context regardless of environment signals. Off by
	// default; callers that want the old branch-based heuristic set this
	// from their own policy.
	AssumeActiveContext bool `yaml:"assume_active_context"`
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/apiary.db",
		},
		Advisory: AdvisoryConfig{
			Timeout:   30 * time.Second,
			MaxTokens: 2048,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Swarm: SwarmConfig{
			LayerTimeout: 30 * time.Minute,
			ExecTimeout:  15 * time.Minute,
		},
		Collab: CollabConfig{
			MaxCandidates: 5,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("APIARY_CONFIG")
	if path == "" {
		path = "config/apiary.yaml"
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

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Advisory.APIKey = v
	}
	if v := os.Getenv("APIARY_ADVISORY_MODEL"); v != "" {
		cfg.Advisory.Model = v
	}
	if v := os.Getenv("APIARY_ADVISORY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Advisory.Timeout = d
		}
	}
	if v := os.Getenv("APIARY_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("APIARY_NATS_DATA"); v != "" {
		cfg.NATS.DataDir = v
	}
	if v := os.Getenv("APIARY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("APIARY_ASSUME_ACTIVE_CONTEXT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Collab.AssumeActiveContext = b
		}
	}
}
