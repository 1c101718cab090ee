// Package conf loads the traywatcher configuration: flags beat environment,
// environment beats the config file, the file beats defaults.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the effective configuration of the process.
type Config struct {
	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat selects console or json output.
	LogFormat string `mapstructure:"log_format"`

	// BusAddress overrides the session bus address. Empty means the
	// DBUS_SESSION_BUS_ADDRESS environment the process inherited.
	BusAddress string `mapstructure:"bus_address"`
}

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Load reads the configuration. With an empty path it looks for
// config.yaml under the user config directory; a missing file is not an
// error, defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("bus_address", "")

	v.SetEnvPrefix("TRAYWATCHER")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "traywatcher"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("conf: read %s: %w", path, err)
		}

		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("conf: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("conf: unmarshal: %w", err)
	}

	return &cfg, nil
}
