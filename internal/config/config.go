package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

const (
	EnvDBDSN     = "RAGKB_DB_DSN"
	EnvSecretKey = "RAGKB_SECRET_KEY"
)

type Config struct {
	Port        int              `json:"port"`
	Database    DatabaseConfig   `json:"database"`
	LogConfig   logger.LogConfig `json:"log_config"`
	SecretKey   string           `json:"secret_key"`
	CORSOrigins []string         `json:"cors_origins"`
	Search      SearchConfig     `json:"search"`
	Embedding   EmbeddingConfig  `json:"embedding"`
	Jobs        JobsConfig       `json:"jobs"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type SearchConfig struct {
	DefaultPerPage      int     `json:"default_per_page"`
	MaxPerPage          int     `json:"max_per_page"`
	ChunkLimit          int     `json:"chunk_limit"`
	SimilarLimit        int     `json:"similar_limit"`
	SuggestLimit        int     `json:"suggest_limit"`
	QueryTimeoutSeconds int     `json:"query_timeout_seconds"`
	RequestsPerSecond   float64 `json:"requests_per_second"`
	Burst               int     `json:"burst"`
}

type EmbeddingConfig struct {
	TimeoutSeconds  int  `json:"timeout_seconds"`
	MaxRetries      int  `json:"max_retries"`
	RetryDelayMs    int  `json:"retry_delay_ms"`
	LRUSize         int  `json:"lru_size"`
	LRUTTLSeconds   int  `json:"lru_ttl_seconds"`
	DBCache         bool `json:"db_cache"`
	CacheRetainDays int  `json:"cache_retain_days"`
}

type JobsConfig struct {
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
	MaxAttempts    int    `json:"max_attempts"`
	SweepCron      string `json:"sweep_cron"`
	SweepBatch     int    `json:"sweep_batch"`
	CacheCleanCron string `json:"cache_clean_cron"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDBDSN)); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSecretKey)); v != "" {
		cfg.SecretKey = v
	}
}

func (cfg *Config) normalize() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if len(cfg.SecretKey) < 16 {
		return fmt.Errorf("secret_key must be at least 16 characters")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}

	s := &cfg.Search
	if s.DefaultPerPage <= 0 {
		s.DefaultPerPage = 20
	}
	if s.MaxPerPage <= 0 {
		s.MaxPerPage = 100
	}
	if s.DefaultPerPage > s.MaxPerPage {
		return fmt.Errorf("search.default_per_page exceeds search.max_per_page")
	}
	if s.ChunkLimit <= 0 {
		s.ChunkLimit = 10
	}
	if s.SimilarLimit <= 0 {
		s.SimilarLimit = 5
	}
	if s.SuggestLimit <= 0 {
		s.SuggestLimit = 8
	}
	if s.QueryTimeoutSeconds <= 0 {
		s.QueryTimeoutSeconds = 10
	}
	if s.RequestsPerSecond > 0 && s.Burst <= 0 {
		s.Burst = int(s.RequestsPerSecond) + 1
	}

	e := &cfg.Embedding
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = 60
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 3
	}
	if e.RetryDelayMs <= 0 {
		e.RetryDelayMs = 500
	}
	if e.LRUSize > 0 && e.LRUTTLSeconds <= 0 {
		e.LRUTTLSeconds = 600
	}
	if e.CacheRetainDays <= 0 {
		e.CacheRetainDays = 30
	}

	j := &cfg.Jobs
	if j.Workers <= 0 {
		j.Workers = 4
	}
	if j.QueueSize <= 0 {
		j.QueueSize = 1024
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}
	if j.SweepCron == "" {
		j.SweepCron = "*/5 * * * *"
	}
	if j.SweepBatch <= 0 {
		j.SweepBatch = 100
	}
	if j.CacheCleanCron == "" {
		j.CacheCleanCron = "30 3 * * *"
	}
	return nil
}
