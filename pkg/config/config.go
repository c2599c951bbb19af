package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the optimizer service.
// Values come from config.yaml when present, with environment variables
// (optionally loaded from a .env file) overriding them.
type Config struct {
	Port    string `yaml:"port" env:"PORT" env-default:"8000"`
	GinMode string `yaml:"gin_mode" env:"GIN_MODE" env-default:""`

	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Worker   WorkerConfig   `yaml:"worker"`
	Solver   SolverConfig   `yaml:"solver"`
	Auth     AuthConfig     `yaml:"auth"`
}

// DatabaseConfig selects the backing database. DATABASE_URL wins over DATA_PATH.
type DatabaseConfig struct {
	URL      string `yaml:"-" env:"DATABASE_URL"` // Secret - not in YAML
	DataPath string `yaml:"data_path" env:"DATA_PATH" env-default:"scheduler.db"`
}

// UsePostgres reports whether a postgres DSN was configured.
func (d *DatabaseConfig) UsePostgres() bool {
	return d.URL != ""
}

type LoggingConfig struct {
	Level   string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format  string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	Service string `yaml:"service" env:"LOG_SERVICE" env-default:"shift-optimizer"`
}

// WorkerConfig sizes the background run consumer.
type WorkerConfig struct {
	Count     int `yaml:"count" env:"WORKER_COUNT" env-default:"2"`
	QueueSize int `yaml:"queue_size" env:"WORKER_QUEUE_SIZE" env-default:"64"`
}

// SolverConfig holds engine-wide solver settings. Per-run weights, runtime and
// gap come from the optimization_configs table. DefaultRuntimeSeconds is used
// when a config row leaves max_runtime_seconds unset.
type SolverConfig struct {
	SoftPenalty           float64 `yaml:"soft_penalty" env:"SOLVER_SOFT_PENALTY" env-default:"10000"`
	DefaultRuntimeSeconds int     `yaml:"default_runtime_seconds" env:"SOLVER_DEFAULT_RUNTIME_SECONDS" env-default:"60"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"-" env:"JWT_SECRET"`
	MasterSecret  string `yaml:"-" env:"API_MASTER_SECRET"`
	AdminUsername string `yaml:"admin_username" env:"ADMIN_USERNAME" env-default:"admin"`
	AdminPassword string `yaml:"-" env:"ADMIN_PASSWORD" env-default:"admin123"`
}

// LoadDotEnv loads the first .env file found in the given paths.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

// Load reads config.yaml (if it exists) with environment variable overrides.
func Load() (*Config, error) {
	return LoadFrom("config.yaml")
}

// LoadFrom reads the given YAML file, or only the environment when the file is missing.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Worker.Count < 1 {
		return errors.New("worker count must be at least 1")
	}
	if c.Worker.QueueSize < 1 {
		return errors.New("worker queue size must be at least 1")
	}
	if c.Solver.SoftPenalty <= 0 {
		return errors.New("solver soft penalty must be positive")
	}
	if c.Solver.DefaultRuntimeSeconds <= 0 {
		return errors.New("solver default runtime must be positive")
	}
	return nil
}
