package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds everything the sync engine and its CLI need. Tags use
// mapstructure for viper unmarshalling.
type Config struct {
	// OAuth server connection.
	OAuthHost    string `mapstructure:"OAUTH_HOST"`
	ClientID     string `mapstructure:"OAUTH_CLIENT_ID"`
	ClientSecret string `mapstructure:"OAUTH_CLIENT_SECRET"`

	// Local user store.
	MongoURI        string `mapstructure:"MONGO_URI"`
	MongoDBName     string `mapstructure:"MONGO_DB_NAME"`
	UsersCollection string `mapstructure:"USERS_COLLECTION"`

	// Optional Redis-backed token cache for multi-process hosts.
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	RedisPrefix string `mapstructure:"REDIS_PREFIX"`

	// Sync behavior defaults; run flags override these.
	AppName            string   `mapstructure:"APP_NAME"`
	BatchSize          int      `mapstructure:"BATCH_SIZE"`
	DefaultRole        string   `mapstructure:"DEFAULT_ROLE"`
	RoleColumn         string   `mapstructure:"ROLE_COLUMN"`
	PreservedFields    []string `mapstructure:"PRESERVED_FIELDS"`
	KnownColumns       []string `mapstructure:"KNOWN_COLUMNS"`
	RedirectAfterLogin string   `mapstructure:"REDIRECT_AFTER_LOGIN"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	HTTPPort string `mapstructure:"HTTP_PORT"`
}

// Load reads configuration from file, environment and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/sso-sync/")
	v.AddConfigPath("$HOME/.sso-sync")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/sso_sync")
	v.SetDefault("MONGO_DB_NAME", "sso_sync")
	v.SetDefault("USERS_COLLECTION", "users")
	v.SetDefault("REDIS_PREFIX", "sso-sync")
	v.SetDefault("APP_NAME", "sso-sync")
	v.SetDefault("BATCH_SIZE", 100)
	v.SetDefault("REDIRECT_AFTER_LOGIN", "/dashboard")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("HTTP_PORT", "8080")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields every remote call depends on.
func (c *Config) Validate() error {
	if c.OAuthHost == "" {
		return fmt.Errorf("OAUTH_HOST is not set")
	}
	if c.ClientID == "" {
		return fmt.Errorf("OAUTH_CLIENT_ID is not set")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("OAUTH_CLIENT_SECRET is not set")
	}
	return nil
}
