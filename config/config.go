// Package config loads the node configuration from defaults, an optional
// config file and POLLCORE_* environment variables, in increasing order of
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the node configuration.
type Config struct {
	// Host and Port bind the HTTP API server.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// DataDir is the directory holding the key-value database.
	DataDir string `mapstructure:"datadir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"loglevel"`
	// LogOutput is stdout, stderr or a file path.
	LogOutput string `mapstructure:"logoutput"`
	// MonitorInterval is how often the poll monitor looks for polls past
	// their end time.
	MonitorInterval time.Duration `mapstructure:"monitorinterval"`
}

// Load reads the configuration. If path is empty only defaults and the
// environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8545)
	v.SetDefault("datadir", "./pollcore-data")
	v.SetDefault("loglevel", "info")
	v.SetDefault("logoutput", "stdout")
	v.SetDefault("monitorinterval", 10*time.Second)

	v.SetEnvPrefix("POLLCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.MonitorInterval <= 0 {
		return nil, fmt.Errorf("monitor interval must be positive")
	}
	return cfg, nil
}
