// Package config loads the service configuration from YAML, a .env file and
// PINBAR_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pinbar-backtest/services/engine"
	"pinbar-backtest/strategies"
)

const envPrefix = "PINBAR_"

type ServerConfig struct {
	HTTPPort int `yaml:"http_port" validate:"gt=0,lt=65536"`
	GRPCPort int `yaml:"grpc_port" validate:"gt=0,lt=65536,nefield=HTTPPort"`
}

type EngineConfig struct {
	MaxWorkers int `yaml:"max_workers" validate:"gte=1,lte=256"`
}

type ClickHouseConfig struct {
	Addr        string `yaml:"addr"`
	Database    string `yaml:"database" validate:"required_with=Addr"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	CandleTable string `yaml:"candle_table" validate:"required_with=Addr"`
	TradeTable  string `yaml:"trade_table" validate:"required_with=Addr"`
	Interval    string `yaml:"interval" validate:"required_with=Addr"`
}

// Enabled reports whether a ClickHouse address was configured.
func (c ClickHouseConfig) Enabled() bool { return c.Addr != "" }

type ArrowConfig struct {
	BatchSize int `yaml:"batch_size" validate:"gte=1"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

type Config struct {
	Environment string            `yaml:"environment" validate:"oneof=dev test prod"`
	Server      ServerConfig      `yaml:"server"`
	Engine      EngineConfig      `yaml:"engine"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	Arrow       ArrowConfig       `yaml:"arrow"`
	Logging     LoggingConfig     `yaml:"logging"`
	Strategy    strategies.Params `yaml:"strategy"`
}

func Default() *Config {
	return &Config{
		Environment: "dev",
		Server:      ServerConfig{HTTPPort: 8080, GRPCPort: 9091},
		Engine:      EngineConfig{MaxWorkers: 4},
		ClickHouse: ClickHouseConfig{
			Database:    "backtest",
			Username:    "backtest",
			CandleTable: "data",
			TradeTable:  "pinbar_trades",
			Interval:    "5m",
		},
		Arrow: ArrowConfig{BatchSize: 8192},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Strategy: strategies.DefaultParams(),
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then PINBAR_* overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(environ()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return engine.DescribeValidation(err)
	}
	return c.Strategy.Validate()
}

// applyEnv overrides scalar settings from the environment. Strategy values use
// the flat dotted keys of strategies.ParamsFromMap with dots as underscores
// after PINBAR_STRATEGY__, e.g. PINBAR_STRATEGY__RISK__RISK_PER_TRADE.
func (c *Config) applyEnv(env map[string]string) error {
	str := func(key string, dst *string) {
		if v, ok := env[envPrefix+key]; ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := env[envPrefix+key]
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("ENVIRONMENT", &c.Environment)
	str("CLICKHOUSE_ADDR", &c.ClickHouse.Addr)
	str("CLICKHOUSE_DATABASE", &c.ClickHouse.Database)
	str("CLICKHOUSE_USERNAME", &c.ClickHouse.Username)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("CLICKHOUSE_INTERVAL", &c.ClickHouse.Interval)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FILE", &c.Logging.File)
	for key, dst := range map[string]*int{
		"HTTP_PORT":        &c.Server.HTTPPort,
		"GRPC_PORT":        &c.Server.GRPCPort,
		"MAX_WORKERS":      &c.Engine.MaxWorkers,
		"ARROW_BATCH_SIZE": &c.Arrow.BatchSize,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	overrides := map[string]string{}
	for k, v := range env {
		rest, ok := strings.CutPrefix(k, envPrefix+"STRATEGY__")
		if !ok {
			continue
		}
		overrides[strings.ToLower(strings.ReplaceAll(rest, "__", "."))] = v
	}
	if len(overrides) == 0 {
		return nil
	}
	p, err := strategies.ParamsFromMap(c.Strategy, overrides)
	if err != nil {
		return fmt.Errorf("strategy env overrides: %w", err)
	}
	c.Strategy = p
	return nil
}

func environ() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, envPrefix) {
			env[k] = v
		}
	}
	return env
}
