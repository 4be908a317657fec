// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	API     APIConfig      `mapstructure:"api"`
	Logging LoggingConfig  `mapstructure:"logging"`
	App     AppConfig      `mapstructure:"app"`
	Bridges []BridgeConfig `mapstructure:"bridges"`
}

// APIConfig represents the status/monitoring HTTP server configuration
type APIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// RS485Config represents the half-duplex direction control settings of a
// bridge entry
type RS485Config struct {
	Enabled         bool          `mapstructure:"enabled"`
	RTSOnSend       bool          `mapstructure:"rts_on_send"`
	DelayBeforeSend time.Duration `mapstructure:"delay_before_send"`
	DelayAfterSend  time.Duration `mapstructure:"delay_after_send"`
}

// BridgeConfig represents one bridge entry: a serial line URL, the TCP
// listener it is exposed on and the line parameters
type BridgeConfig struct {
	Name     string      `mapstructure:"name"`
	URL      string      `mapstructure:"url"`
	Listener string      `mapstructure:"listener"`
	Mode     string      `mapstructure:"mode"`
	NoDelay  bool        `mapstructure:"no_delay"`
	Baudrate int         `mapstructure:"baudrate"`
	Bytesize int         `mapstructure:"bytesize"`
	Parity   string      `mapstructure:"parity"`
	Stopbits float64     `mapstructure:"stopbits"`
	Rtscts   bool        `mapstructure:"rtscts"`
	Xonxoff  bool        `mapstructure:"xonxoff"`
	RS485    RS485Config `mapstructure:"rs485"`
}

// Load loads configuration from file and environment variables. An empty
// path falls back to the conventional search locations.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/serial-bridge")
	}

	// Environment variable support
	v.SetEnvPrefix("SERIAL_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	// UnmarshalExact rejects unrecognized fields instead of silently
	// dropping typos
	if err := v.UnmarshalExact(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", "8094")
	v.SetDefault("api.read_timeout", "30s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "serial-bridge")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.environment", "development")
}

// validate checks global configuration consistency. Bridge entries are
// validated individually during server construction so one bad entry does
// not take the others down.
func validate(config *Config) error {
	switch config.Logging.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging level: %s", config.Logging.Level)
	}
	if config.API.Enabled {
		if config.API.Host == "" || config.API.Port == "" {
			return fmt.Errorf("api host and port are required when the api is enabled")
		}
	}
	return nil
}

// GetAPIAddr returns the listen address of the status API
func (c *Config) GetAPIAddr() string {
	return fmt.Sprintf("%s:%s", c.API.Host, c.API.Port)
}

// IsProduction checks if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
