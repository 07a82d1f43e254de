package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 儲存執行核心與外部相依的執行設定。
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	DB        DBConfig        `yaml:"db"`
	Batch     BatchConfig     `yaml:"batch"`
	Execution ExecutionConfig `yaml:"execution"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type StorageConfig struct {
	// Root 為快照與 checkpoint 的根目錄。
	Root string `yaml:"root"`
}

type DBConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time"`
}

type BatchConfig struct {
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type ExecutionConfig struct {
	// DefaultLatencyProfile 用於請求未指定 profile 時。
	DefaultLatencyProfile string  `yaml:"default_latency_profile"`
	DefaultInitialCash    float64 `yaml:"default_initial_cash"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFromFile 從 YAML 組態檔載入設定。
func LoadFromFile(path string) (Config, error) {
	// 嘗試載入 .env 檔案（如果存在）
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg = applyDefaults(cfg)
	cfg = applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "data"
	}
	if cfg.DB.MaxOpenConns == 0 {
		cfg.DB.MaxOpenConns = 5
	}
	if cfg.DB.MaxIdleConns == 0 {
		cfg.DB.MaxIdleConns = 2
	}
	if cfg.DB.MaxIdleTime == 0 {
		cfg.DB.MaxIdleTime = 15 * time.Minute
	}
	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = 4
	}
	if cfg.Batch.MaxAttempts == 0 {
		cfg.Batch.MaxAttempts = 3
	}
	if cfg.Batch.Backoff == 0 {
		cfg.Batch.Backoff = 2 * time.Second
	}
	if cfg.Execution.DefaultLatencyProfile == "" {
		cfg.Execution.DefaultLatencyProfile = "normal"
	}
	if cfg.Execution.DefaultInitialCash == 0 {
		cfg.Execution.DefaultInitialCash = 100000
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9100"
	}
	return cfg
}

func applyEnv(cfg Config) Config {
	if val := os.Getenv("STORAGE_ROOT"); val != "" {
		cfg.Storage.Root = val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		cfg.DB.DSN = val
	}
	if val := os.Getenv("BATCH_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Batch.Workers = n
		}
	}
	if val := os.Getenv("BATCH_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Batch.MaxAttempts = n
		}
	}
	if val := os.Getenv("BATCH_BACKOFF"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Batch.Backoff = d
		}
	}
	if val := os.Getenv("LATENCY_PROFILE"); val != "" {
		cfg.Execution.DefaultLatencyProfile = val
	}
	if val := os.Getenv("METRICS_ADDR"); val != "" {
		cfg.Metrics.Addr = val
	}
	return cfg
}
