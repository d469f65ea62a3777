package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`

	DatabaseURL string `mapstructure:"database_url"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`

	JWTSecret     string `mapstructure:"jwt_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// Load reads configuration from an optional config file and the
// environment. A .env file is loaded first so local development matches
// the deployed env-var contract.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// key must be bound explicitly or env-only settings never reach the
	// struct.
	for _, key := range []string{
		"env", "port", "database_url",
		"redis_addr", "redis_password", "redis_db", "redis_prefix",
		"jwt_secret", "webhook_secret",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	v.SetDefault("env", "development")
	v.SetDefault("port", "3001")
	v.SetDefault("redis_prefix", "dm")
	v.SetDefault("jwt_secret", "secret")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Development reports whether the server runs in development mode.
func (c *Config) Development() bool {
	return c.Env != "production"
}
