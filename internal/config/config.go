package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	// Secret signs the session cookie store.
	Secret string `mapstructure:"secret"`

	// Room token signing.
	TokenSecret string        `mapstructure:"token_secret"`
	TokenIssuer string        `mapstructure:"token_issuer"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`

	// Empty disables Redis; revocations then live in process memory.
	RedisAddr string `mapstructure:"redis_addr"`

	// Base URL of the appointment service.
	AppointmentsURL string `mapstructure:"appointments_url"`

	ICEServers []string `mapstructure:"ice_servers"`

	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`

	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("token_issuer", "teleconsult")
	v.SetDefault("token_ttl", "1h")
	v.SetDefault("appointments_url", "http://localhost:9000")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("join_limit", 5)
	v.SetDefault("join_interval", "1m")
	v.SetDefault("metrics_namespace", "teleconsult")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("token_secret is required")
	}
	fmt.Printf("🧩 Mode: %s | Port: %d\n", cfg.Mode, cfg.Port)
	return &cfg, nil
}
