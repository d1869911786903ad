package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved service configuration. Precedence:
// flags > environment (PRESENCE_ prefix) > config file > defaults.
type Config struct {
	APIListenAddr string `mapstructure:"api-listen-addr"`
	WSListenAddr  string `mapstructure:"ws-listen-addr"`
	LogLevel      string `mapstructure:"log-level"`

	AuthSecret       string        `mapstructure:"auth-secret"`
	LedgerURL        string        `mapstructure:"ledger-url"`
	SessionTTL       time.Duration `mapstructure:"session-ttl"`
	AuthorizeTimeout time.Duration `mapstructure:"authorize-timeout"`
	GateCacheTTL     time.Duration `mapstructure:"gate-cache-ttl"`

	CleanupOnDisconnect bool `mapstructure:"cleanup-on-disconnect"`
}

func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigName("presence")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("PRESENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("api-listen-addr", ":8080")
	v.SetDefault("ws-listen-addr", ":8888")
	v.SetDefault("log-level", "debug")
	v.SetDefault("auth-secret", "")
	v.SetDefault("ledger-url", "http://localhost:9933/verify-enrollment")
	v.SetDefault("session-ttl", 24*time.Hour)
	v.SetDefault("authorize-timeout", 5*time.Second)
	v.SetDefault("gate-cache-ttl", 30*time.Second)
	v.SetDefault("cleanup-on-disconnect", false)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
