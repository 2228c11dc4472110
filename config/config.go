package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vultisig/dca-exchange/api"
	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/storage"
)

const (
	BackendMemory = "memory"
	BackendEth    = "eth"
)

type ExchangeConfig struct {
	Owner                string        `mapstructure:"owner" json:"owner,omitempty"`
	Address              string        `mapstructure:"address" json:"address,omitempty"`
	MaxSegmentsPerConfig uint64        `mapstructure:"max_segments_per_config" json:"max_segments_per_config,omitempty"`
	MaxConfigsPerCall    uint64        `mapstructure:"max_configs_per_call" json:"max_configs_per_call,omitempty"`
	SlippageBps          uint64        `mapstructure:"slippage_bps" json:"slippage_bps,omitempty"`
	SwapDeadline         time.Duration `mapstructure:"swap_deadline" json:"swap_deadline,omitempty"`
}

// Options converts the section into core options.
func (c ExchangeConfig) Options() exchange.Options {
	return exchange.Options{
		Address:              common.HexToAddress(c.Address),
		MaxSegmentsPerConfig: c.MaxSegmentsPerConfig,
		MaxConfigsPerCall:    c.MaxConfigsPerCall,
		SlippageBps:          c.SlippageBps,
		SwapDeadline:         c.SwapDeadline,
	}
}

// BackendConfig selects the collaborators behind the core. Options is kept
// raw because its shape depends on Type.
type BackendConfig struct {
	Type    string                 `mapstructure:"type" json:"type,omitempty"`
	Options map[string]interface{} `mapstructure:"options" json:"options,omitempty"`
}

// DecodeOptions decodes Options into out. Durations accept strings such as
// "30s".
func (b BackendConfig) DecodeOptions(out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("mapstructure.NewDecoder failed: %w", err)
	}
	if err := decoder.Decode(b.Options); err != nil {
		return fmt.Errorf("fail to decode %s backend options: %w", b.Type, err)
	}
	return nil
}

type Config struct {
	Server    api.ServerConfig    `mapstructure:"server" json:"server"`
	Exchange  ExchangeConfig      `mapstructure:"exchange" json:"exchange"`
	Backend   BackendConfig       `mapstructure:"backend" json:"backend"`
	Redis     storage.RedisConfig `mapstructure:"redis" json:"redis,omitempty"`
	Scheduler struct {
		Spec        string        `mapstructure:"spec" json:"spec,omitempty"`
		Unique      time.Duration `mapstructure:"unique" json:"unique,omitempty"`
		Concurrency int           `mapstructure:"concurrency" json:"concurrency,omitempty"`
	} `mapstructure:"scheduler" json:"scheduler"`
	Datadog struct {
		Host string `mapstructure:"host" json:"host,omitempty"`
		Port string `mapstructure:"port" json:"port,omitempty"`
	} `mapstructure:"datadog" json:"datadog"`
	Log struct {
		Level  string `mapstructure:"level" json:"level,omitempty"`
		Format string `mapstructure:"format" json:"format,omitempty"`
	} `mapstructure:"log" json:"log"`
}

func GetConfigure() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	configName := os.Getenv("VS_CONFIG_NAME")
	if configName == "" {
		configName = "config"
	}

	return ReadConfig(configName, ".")
}

func ReadConfig(configName string, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("DCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := exchange.DefaultOptions()
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.database.dsn", "")
	v.SetDefault("server.auth_disabled", false)
	v.SetDefault("server.idempotency_ttl", 24*time.Hour)
	v.SetDefault("server.signature_window", 5*time.Minute)
	v.SetDefault("server.body_limit", "2M")
	v.SetDefault("server.rate_limit", 5)
	v.SetDefault("server.rate_burst", 30)
	v.SetDefault("exchange.owner", "")
	v.SetDefault("exchange.address", "")
	v.SetDefault("exchange.max_segments_per_config", defaults.MaxSegmentsPerConfig)
	v.SetDefault("exchange.max_configs_per_call", defaults.MaxConfigsPerCall)
	v.SetDefault("exchange.slippage_bps", defaults.SlippageBps)
	v.SetDefault("exchange.swap_deadline", defaults.SwapDeadline)
	v.SetDefault("backend.type", BackendMemory)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.user", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("scheduler.spec", "@every 5m")
	v.SetDefault("scheduler.unique", 5*time.Minute)
	v.SetDefault("scheduler.concurrency", 10)
	v.SetDefault("datadog.host", "localhost")
	v.SetDefault("datadog.port", "8125")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fail to reading config file, %w", err)
	}
	var cfg Config
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	return &cfg, nil
}

// Validate checks the keys the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.Database.DSN == "" {
		errs = append(errs, errors.New("server.database.dsn is required"))
	}
	if !common.IsHexAddress(c.Exchange.Owner) {
		errs = append(errs, fmt.Errorf("exchange.owner %q is not an address", c.Exchange.Owner))
	}
	// the eth backend uses its signing key address when none is set
	if !common.IsHexAddress(c.Exchange.Address) && !(c.Backend.Type == BackendEth && c.Exchange.Address == "") {
		errs = append(errs, fmt.Errorf("exchange.address %q is not an address", c.Exchange.Address))
	}
	if !c.Server.AuthDisabled && c.Server.IdempotencyTTL < c.Server.SignatureWindow {
		errs = append(errs, errors.New("server.idempotency_ttl must cover server.signature_window"))
	}
	if c.Exchange.MaxConfigsPerCall == 0 {
		errs = append(errs, errors.New("exchange.max_configs_per_call must be greater than 0"))
	}
	if c.Exchange.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("exchange.slippage_bps %d exceeds 10000", c.Exchange.SlippageBps))
	}
	switch c.Backend.Type {
	case BackendMemory, BackendEth:
	default:
		errs = append(errs, fmt.Errorf("backend.type %q is not supported", c.Backend.Type))
	}
	if c.Redis.Host == "" {
		errs = append(errs, errors.New("redis.host is required"))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	logger.SetLevel(level)
	switch c.Log.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
