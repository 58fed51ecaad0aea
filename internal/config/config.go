package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	ProviderCoordinator = "coordinator"
	ProviderMemory      = "memory"

	PermissionStatic = "static"
	PermissionFile   = "file"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Provider string `mapstructure:"provider"`
	BaseURL  string `mapstructure:"base_url"`
	WSURL    string `mapstructure:"ws_url"`
	CallType string `mapstructure:"call_type"`

	APIKey    string `mapstructure:"api_key"`
	UserID    string `mapstructure:"user_id"`
	UserToken string `mapstructure:"user_token"`

	Permission        string        `mapstructure:"permission"`
	PermissionDir     string        `mapstructure:"permission_dir"`
	PermissionGranted bool          `mapstructure:"permission_granted"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`

	AutoJoin string `mapstructure:"auto_join"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). Every key
// can be overridden by AUDIOROOMS_<KEY>.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("audiorooms")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("provider", cfg.Provider).Str("permission", cfg.Permission).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("provider", ProviderMemory)
	v.SetDefault("base_url", "http://localhost:3030/video")
	v.SetDefault("ws_url", "ws://localhost:8800/video/connect")
	v.SetDefault("call_type", string(domain.DefaultCallType))
	v.SetDefault("api_key", "")
	v.SetDefault("user_id", "")
	v.SetDefault("user_token", "")
	v.SetDefault("permission", PermissionStatic)
	v.SetDefault("permission_dir", "./permissions")
	v.SetDefault("permission_granted", true)
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("auto_join", "")
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderCoordinator, ProviderMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	switch c.Permission {
	case PermissionStatic, PermissionFile:
	default:
		errs = append(errs, fmt.Errorf("unknown permission gate %q", c.Permission))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	return errors.Join(errs...)
}

// Credentials builds the user credentials from the config.
func (c *Config) Credentials() (domain.Credentials, error) {
	return domain.NewCredentials(c.APIKey, domain.UserID(c.UserID), c.UserToken)
}
