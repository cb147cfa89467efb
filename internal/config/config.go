package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/orchestrator"
	"github.com/hamzaKhattat/call-mediator/internal/store"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Audio        AudioConfig        `mapstructure:"audio"`
	Filter       FilterConfig       `mapstructure:"filter"`
	Store        StoreConfig        `mapstructure:"store"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Accounts     []call.Account     `mapstructure:"accounts"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type OrchestratorConfig struct {
	MaxSelfManagedCalls          int           `mapstructure:"max_self_managed_calls"`
	SilenceWhenDifferentProvider bool          `mapstructure:"silence_when_different_provider"`
	FilterTimeout                time.Duration `mapstructure:"filter_timeout"`
	EmergencyNumbers             []string      `mapstructure:"emergency_numbers"`
	DefaultAccount               string        `mapstructure:"default_account"`
	QueueSize                    int           `mapstructure:"queue_size"`
}

type AudioConfig struct {
	HasEarpiece        bool `mapstructure:"has_earpiece"`
	HeadsetConnected   bool `mapstructure:"headset_connected"`
	BluetoothConnected bool `mapstructure:"bluetooth_connected"`
	DockConnected      bool `mapstructure:"dock_connected"`
}

type FilterConfig struct {
	BlockRestricted bool          `mapstructure:"block_restricted"`
	BlockUnknown    bool          `mapstructure:"block_unknown"`
	BlockedNumbers  []string      `mapstructure:"blocked_numbers"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

type StoreConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Migrate       bool `mapstructure:"migrate"`
	CallLog       bool `mapstructure:"call_log"`
	CallLogBuffer int  `mapstructure:"call_log_buffer"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	MaxRetries   int    `mapstructure:"max_retries"`
	Prefix       string `mapstructure:"prefix"`
}

type MonitoringConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Health struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"health"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Output string `mapstructure:"output"`
		File   struct {
			Enabled    bool   `mapstructure:"enabled"`
			Path       string `mapstructure:"path"`
			MaxSize    int    `mapstructure:"max_size"`
			MaxBackups int    `mapstructure:"max_backups"`
			MaxAge     int    `mapstructure:"max_age"`
			Compress   bool   `mapstructure:"compress"`
		} `mapstructure:"file"`
	} `mapstructure:"logging"`
}

// LoadEnvFiles loads .env style files into the environment. Missing files
// are skipped.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrap(err, errors.ErrConfiguration, "failed to load env file").
				WithContext("file", f)
		}
	}
	return nil
}

// Setup points v at the config file, the environment and the defaults.
func Setup(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("callmediator")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/call-mediator")
	}

	v.SetEnvPrefix("CALL_MEDIATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
}

func SetDefaults(v *viper.Viper) {
	def := orchestrator.DefaultConfig()

	v.SetDefault("app.name", "call-mediator")
	v.SetDefault("app.environment", "production")

	// Orchestrator defaults
	v.SetDefault("orchestrator.max_self_managed_calls", def.MaxSelfManagedCalls)
	v.SetDefault("orchestrator.silence_when_different_provider", def.SilenceWhenDifferentProvider)
	v.SetDefault("orchestrator.filter_timeout", def.FilterTimeout.String())
	v.SetDefault("orchestrator.emergency_numbers", def.EmergencyNumbers)
	v.SetDefault("orchestrator.default_account", "")
	v.SetDefault("orchestrator.queue_size", def.QueueSize)

	v.SetDefault("audio.has_earpiece", true)

	v.SetDefault("filter.block_restricted", false)
	v.SetDefault("filter.block_unknown", false)
	v.SetDefault("filter.cache_ttl", "5m")

	// Store defaults
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.migrate", true)
	v.SetDefault("store.call_log", true)
	v.SetDefault("store.call_log_buffer", 1000)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "callmediator")
	v.SetDefault("database.password", "callmediator")
	v.SetDefault("database.database", "call_mediator")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.retry_attempts", 3)
	v.SetDefault("database.retry_delay", "1s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.prefix", "call-mediator")

	// Monitoring defaults
	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.health.enabled", true)
	v.SetDefault("monitoring.health.port", 8080)
	v.SetDefault("monitoring.logging.level", "info")
	v.SetDefault("monitoring.logging.format", "json")
	v.SetDefault("monitoring.logging.output", "stdout")
	v.SetDefault("monitoring.logging.file.max_size", 100)
	v.SetDefault("monitoring.logging.file.max_backups", 5)
	v.SetDefault("monitoring.logging.file.max_age", 30)
}

// Load reads the config file, if any, and decodes everything into a Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to read config file")
		}
		logger.Warn("No config file found, using defaults and environment")
	}
	return Decode(v)
}

// Decode turns v into a validated Config.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Orchestrator.MaxSelfManagedCalls < 1 {
		problems = append(problems, "orchestrator.max_self_managed_calls must be at least 1")
	}
	if c.Orchestrator.FilterTimeout <= 0 {
		problems = append(problems, "orchestrator.filter_timeout must be positive")
	}
	if c.Orchestrator.DefaultAccount != "" {
		if _, err := ParseAccountHandle(c.Orchestrator.DefaultAccount); err != nil {
			problems = append(problems, err.Error())
		}
	}

	seen := make(map[call.AccountHandle]bool)
	for i, acct := range c.Accounts {
		if acct.Handle.Provider == "" || acct.Handle.ID == "" {
			problems = append(problems, fmt.Sprintf("accounts[%d] needs a provider and an id", i))
			continue
		}
		if seen[acct.Handle] {
			problems = append(problems, fmt.Sprintf("accounts[%d] duplicates %s", i, acct.Handle))
		}
		seen[acct.Handle] = true
	}

	if c.Store.Enabled && c.Database.Host == "" {
		problems = append(problems, "database.host is required when the store is enabled")
	}
	for name, port := range map[string]int{
		"monitoring.metrics.port": c.Monitoring.Metrics.Port,
		"monitoring.health.port":  c.Monitoring.Health.Port,
	} {
		if port < 0 || port > 65535 {
			problems = append(problems, fmt.Sprintf("%s out of range: %d", name, port))
		}
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrConfiguration, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

// ParseAccountHandle parses "provider/id".
func ParseAccountHandle(s string) (call.AccountHandle, error) {
	provider, id, ok := strings.Cut(s, "/")
	if !ok || provider == "" || id == "" {
		return call.AccountHandle{}, errors.New(errors.ErrConfiguration, "account handle must be provider/id").
			WithContext("value", s)
	}
	return call.AccountHandle{Provider: provider, ID: id}, nil
}

func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxSelfManagedCalls:          c.Orchestrator.MaxSelfManagedCalls,
		SilenceWhenDifferentProvider: c.Orchestrator.SilenceWhenDifferentProvider,
		FilterTimeout:                c.Orchestrator.FilterTimeout,
		EmergencyNumbers:             c.Orchestrator.EmergencyNumbers,
		QueueSize:                    c.Orchestrator.QueueSize,
	}
}

// NewAccounts builds the account registry, including the default account.
func (c *Config) NewAccounts() (*orchestrator.Accounts, error) {
	accounts := orchestrator.NewAccounts()
	for _, acct := range c.Accounts {
		if err := accounts.Register(acct); err != nil {
			return nil, err
		}
	}
	if c.Orchestrator.DefaultAccount != "" {
		h, err := ParseAccountHandle(c.Orchestrator.DefaultAccount)
		if err != nil {
			return nil, err
		}
		if err := accounts.SetDefault(h); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (c *Config) AudioOptions() audio.Options {
	return audio.Options{
		HasEarpiece:        c.Audio.HasEarpiece,
		HeadsetConnected:   c.Audio.HeadsetConnected,
		BluetoothConnected: c.Audio.BluetoothConnected,
		DockConnected:      c.Audio.DockConnected,
	}
}

func (c *Config) LoggerConfig(verbose bool) logger.Config {
	l := c.Monitoring.Logging
	cfg := logger.Config{
		Level:  l.Level,
		Format: l.Format,
		Output: l.Output,
		File: logger.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSize:    l.File.MaxSize,
			MaxBackups: l.File.MaxBackups,
			MaxAge:     l.File.MaxAge,
			Compress:   l.File.Compress,
		},
		Fields: map[string]interface{}{"app": c.App.Name},
	}
	if verbose {
		cfg.Level = "debug"
	}
	return cfg
}

func (c *Config) StoreConfig() store.Config {
	d := c.Database
	return store.Config{
		Driver:          d.Driver,
		Host:            d.Host,
		Port:            d.Port,
		Username:        d.Username,
		Password:        d.Password,
		Database:        d.Database,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		RetryAttempts:   d.RetryAttempts,
		RetryDelay:      d.RetryDelay,
	}
}

func (c *Config) CacheConfig() store.CacheConfig {
	r := c.Redis
	return store.CacheConfig{
		Host:         r.Host,
		Port:         r.Port,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
		MaxRetries:   r.MaxRetries,
	}
}
