// Package config 載入 MechFlow 設定
//
// 來源優先順序（後者覆蓋前者）：
//  1. 內建預設值
//  2. YAML 設定檔（預設 configs/default.yaml）
//  3. .env 檔（僅 APP_ENV=local 時載入）
//  4. MECHFLOW_* 環境變數
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 環境變數前綴
const EnvPrefix = "MECHFLOW_"

// DefaultPath 預設設定檔路徑
const DefaultPath = "configs/default.yaml"

// Config 完整系統設定
type Config struct {
	Logger   Logger   `yaml:"logger" envPrefix:"LOGGER_"`
	Ledger   Ledger   `yaml:"ledger" envPrefix:"LEDGER_"`
	Analysis Analysis `yaml:"analysis" envPrefix:"ANALYSIS_"`
	HTTP     HTTP     `yaml:"http" envPrefix:"HTTP_"`
	GRPC     GRPC     `yaml:"grpc" envPrefix:"GRPC_"`
	Metrics  Metrics  `yaml:"metrics" envPrefix:"METRICS_"`
}

type Logger struct {
	Level  string `yaml:"level" env:"LEVEL"`
	AsJSON bool   `yaml:"as_json" env:"AS_JSON"`
}

// Ledger 任務台帳的持久化設定；WALPath 為空時只保存在記憶體
type Ledger struct {
	SnapshotPath     string        `yaml:"snapshot_path" env:"SNAPSHOT_PATH"`
	WALPath          string        `yaml:"wal_path" env:"WAL_PATH"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" env:"SNAPSHOT_INTERVAL"`
	SnapshotBackups  int           `yaml:"snapshot_backups" env:"SNAPSHOT_BACKUPS"`
	SyncWAL          bool          `yaml:"sync_wal" env:"SYNC_WAL"`
	ArchiveWAL       bool          `yaml:"archive_wal" env:"ARCHIVE_WAL"`
}

// Analysis 圖紙分析工作池設定
type Analysis struct {
	Workers    int           `yaml:"workers" env:"WORKERS"`
	BufferSize int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	BaseDir    string        `yaml:"base_dir" env:"BASE_DIR"`
}

type HTTP struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type GRPC struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

// Metrics Addr 為空時 /metrics 掛在 HTTP API 上
type Metrics struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

// Default 內建預設值
func Default() Config {
	return Config{
		Logger: Logger{Level: "info"},
		Ledger: Ledger{
			SnapshotPath:     "data/ledger.snapshot.json",
			WALPath:          "data/ledger.wal",
			SnapshotInterval: 30 * time.Second,
			SnapshotBackups:  3,
		},
		Analysis: Analysis{
			Workers:    4,
			BufferSize: 64,
			Timeout:    60 * time.Second,
		},
		HTTP: HTTP{
			Enabled:         true,
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		GRPC:    GRPC{Enabled: true, Addr: ":9000"},
		Metrics: Metrics{Enabled: true},
	}
}

// Load 依序套用預設值、設定檔、.env 與環境變數
//
// path 為空時略過設定檔；指定的檔案不存在時回傳錯誤。
func Load(path string) (*Config, error) {
	const op = "config.Load"

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: read %s: %w", op, path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%s: parse %s: %w", op, path, err)
		}
	}

	if shouldLoadDotenv() {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: load .env: %w", op, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("%s: env: %w", op, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate 檢查設定是否合理
func (c *Config) Validate() error {
	var errs []error
	if c.Ledger.SnapshotInterval < 0 {
		errs = append(errs, errors.New("ledger.snapshot_interval must not be negative"))
	}
	if c.Ledger.WALPath != "" && c.Ledger.SnapshotPath == "" {
		errs = append(errs, errors.New("ledger.snapshot_path is required when wal_path is set"))
	}
	if c.Analysis.Workers < 0 {
		errs = append(errs, errors.New("analysis.workers must not be negative"))
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required when http is enabled"))
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		errs = append(errs, errors.New("grpc.addr is required when grpc is enabled"))
	}
	return errors.Join(errs...)
}

// applyDefaults 把明確寫成 0 的數值欄位補回預設
func (c *Config) applyDefaults() {
	d := Default()
	if c.Logger.Level == "" {
		c.Logger.Level = d.Logger.Level
	}
	if c.Analysis.Workers == 0 {
		c.Analysis.Workers = d.Analysis.Workers
	}
	if c.Analysis.BufferSize <= 0 {
		c.Analysis.BufferSize = d.Analysis.BufferSize
	}
	if c.Analysis.Timeout <= 0 {
		c.Analysis.Timeout = d.Analysis.Timeout
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = d.HTTP.ReadTimeout
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = d.HTTP.ShutdownTimeout
	}
}

func shouldLoadDotenv() bool {
	return os.Getenv("APP_ENV") == "local"
}
