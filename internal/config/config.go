package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "DRIFTNOTE"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "driftnote.db"
	defaultLogLevel       = "info"
	defaultTokenTTL       = 30
	defaultIdentityIssuer = "driftnote-idp"
	defaultMaxVersions    = 1000
	defaultVersionPage    = 50
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	SigningSecret   string
	IdentitySecret  string
	IdentityIssuer  string
	TokenTTL        time.Duration
	LogLevel        string
	MaxVersions     int
	VersionPageSize int
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
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("auth.identity_issuer", defaultIdentityIssuer)
	configViper.SetDefault("versions.max_retained", defaultMaxVersions)
	configViper.SetDefault("versions.page_size", defaultVersionPage)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		IdentitySecret:  configViper.GetString("auth.identity_secret"),
		IdentityIssuer:  configViper.GetString("auth.identity_issuer"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LogLevel:        configViper.GetString("log.level"),
		MaxVersions:     configViper.GetInt("versions.max_retained"),
		VersionPageSize: configViper.GetInt("versions.page_size"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.IdentitySecret) == "" {
		return fmt.Errorf("auth.identity_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.MaxVersions <= 0 {
		return fmt.Errorf("versions.max_retained must be positive")
	}
	if c.VersionPageSize <= 0 {
		return fmt.Errorf("versions.page_size must be positive")
	}
	return nil
}
