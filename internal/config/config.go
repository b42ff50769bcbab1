// Package config loads service configuration from defaults, an optional
// forecast.yaml, FORECAST_* environment variables and command line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FORECAST_SERVER_PORT.
const EnvPrefix = "FORECAST"

// Config is the fully resolved service configuration.
type Config struct {
	Server      types.ServerConfig
	Data        types.DataConfig
	WalkForward types.WalkForwardConfig
	Workers     WorkersConfig
	LogLevel    string
	// File is the config file that was read, empty if none was found.
	File string
}

// WorkersConfig sizes the grid-search pool.
type WorkersConfig struct {
	Count     int
	QueueSize int
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"data":      "data.dir",
	"log-level": "log.level",
	"workers":   "workers.count",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a config file (default: forecast.yaml in . or ./config)")
	fs.String("host", "localhost", "Server host")
	fs.Int("port", 8000, "Server port")
	fs.String("data", "./data", "Data directory")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Int("workers", runtime.NumCPU(), "Grid-search worker count")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.max_upload_size", 32<<20)
	v.SetDefault("data.dir", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("walkforward.insample_days", 252)
	v.SetDefault("walkforward.outsample_days", 63)
	v.SetDefault("workers.count", runtime.NumCPU())
	v.SetDefault("workers.queue_size", 4096)
	v.SetDefault("metrics.enabled", true)
}

// Load resolves the configuration. fs may be nil; flags registered with
// RegisterFlags override only when set explicitly.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("forecast")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Server: types.ServerConfig{
			Host:          v.GetString("server.host"),
			Port:          v.GetInt("server.port"),
			WebSocketPath: v.GetString("server.websocket_path"),
			ReadTimeout:   v.GetDuration("server.read_timeout"),
			WriteTimeout:  v.GetDuration("server.write_timeout"),
			EnableMetrics: v.GetBool("metrics.enabled"),
			MaxUploadSize: v.GetInt64("server.max_upload_size"),
		},
		Data: types.DataConfig{
			DataDir: v.GetString("data.dir"),
		},
		WalkForward: types.WalkForwardConfig{
			InSampleDays:  v.GetInt("walkforward.insample_days"),
			OutSampleDays: v.GetInt("walkforward.outsample_days"),
		},
		Workers: WorkersConfig{
			Count:     v.GetInt("workers.count"),
			QueueSize: v.GetInt("workers.queue_size"),
		},
		LogLevel: strings.ToLower(v.GetString("log.level")),
		File:     v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail at runtime.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	case c.WalkForward.InSampleDays < 1 || c.WalkForward.OutSampleDays < 1:
		return fmt.Errorf("walkforward window sizes must be >= 1 (insample=%d outsample=%d)",
			c.WalkForward.InSampleDays, c.WalkForward.OutSampleDays)
	case c.Workers.Count < 1:
		return fmt.Errorf("invalid workers.count %d", c.Workers.Count)
	case c.Workers.QueueSize < 0:
		return fmt.Errorf("invalid workers.queue_size %d", c.Workers.QueueSize)
	case c.Data.DataDir == "":
		return errors.New("data.dir must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.LogLevel)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
