package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "AUTHBRIDGE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "authbridge.db"
	defaultLogLevel      = "info"
	defaultListPageSize  = 200
	defaultProviderTimeS = 15
)

// AppConfig captures runtime configuration shared by the API server and the
// reconciliation command.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	ProviderURL        string
	ProviderAnonKey    string
	ProviderServiceKey string
	ProviderJWTSecret  string
	ProviderTimeout    time.Duration
	ListPageSize       int
	LegacyFallback     bool
	DryRun             bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("provider.timeout_seconds", defaultProviderTimeS)
	configViper.SetDefault("provider.page_size", defaultListPageSize)
	configViper.SetDefault("auth.legacy_fallback", true)
	configViper.SetDefault("reconcile.dry_run", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		ProviderURL:        configViper.GetString("provider.url"),
		ProviderAnonKey:    configViper.GetString("provider.anon_key"),
		ProviderServiceKey: configViper.GetString("provider.service_key"),
		ProviderJWTSecret:  configViper.GetString("provider.jwt_secret"),
		ProviderTimeout:    time.Duration(configViper.GetInt("provider.timeout_seconds")) * time.Second,
		ListPageSize:       configViper.GetInt("provider.page_size"),
		LegacyFallback:     configViper.GetBool("auth.legacy_fallback"),
		DryRun:             configViper.GetBool("reconcile.dry_run"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.ProviderURL) == "" {
		return fmt.Errorf("provider.url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.ListPageSize <= 0 {
		return fmt.Errorf("provider.page_size must be positive")
	}
	return nil
}
