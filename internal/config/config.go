package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Detector DetectorConfig `yaml:"detector"`
	Matching MatchingConfig `yaml:"matching"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DetectorConfig points at the external face detection/embedding
// service. An empty BaseURL disables photo analysis; sessions must then
// be submitted with pre-computed descriptors.
type DetectorConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

type MatchingConfig struct {
	Threshold       float64 `yaml:"threshold"`
	DuplicatePolicy string  `yaml:"duplicate_policy"`
	Workers         int     `yaml:"workers"`
	EmbeddingDim    int     `yaml:"embedding_dim"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Detector.Timeout == 0 {
		cfg.Detector.Timeout = 30 * time.Second
	}
	if cfg.Detector.ReadyTimeout == 0 {
		cfg.Detector.ReadyTimeout = 60 * time.Second
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = 0.6
	}
	if cfg.Matching.DuplicatePolicy == "" {
		cfg.Matching.DuplicatePolicy = "confirm"
	}
	if cfg.Matching.Workers == 0 {
		cfg.Matching.Workers = 4
	}
	if cfg.Matching.EmbeddingDim == 0 {
		cfg.Matching.EmbeddingDim = 128
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROLLCALL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ROLLCALL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ROLLCALL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ROLLCALL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ROLLCALL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ROLLCALL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ROLLCALL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ROLLCALL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ROLLCALL_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ROLLCALL_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ROLLCALL_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ROLLCALL_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ROLLCALL_DETECTOR_URL"); v != "" {
		cfg.Detector.BaseURL = v
	}
	if v := os.Getenv("ROLLCALL_DETECTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detector.Timeout = d
		}
	}
	if v := os.Getenv("ROLLCALL_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Threshold = f
		}
	}
	if v := os.Getenv("ROLLCALL_MATCH_POLICY"); v != "" {
		cfg.Matching.DuplicatePolicy = v
	}
	if v := os.Getenv("ROLLCALL_MATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.Workers = n
		}
	}
}
