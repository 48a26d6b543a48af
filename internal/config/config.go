package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Miner    MinerConfig    `mapstructure:"miner"`
	Devices  DevicesConfig  `mapstructure:"device_profiles"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	APIKeyEnv      string        `mapstructure:"api_key_env"`
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type MinerConfig struct {
	Port           int           `mapstructure:"port"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeAttempts  int           `mapstructure:"probe_attempts"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ScanWorkers    int           `mapstructure:"scan_workers"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
	PingAttempts   int           `mapstructure:"ping_attempts"`
}

type DevicesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
	MarkerFiles []string `mapstructure:"marker_files"`
}

const (
	devJWTSecret = "dev-secret-change-in-production-min-32-chars"
	devAPIKey    = "dev-api-key"
)

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults setzen
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("miner.port", 4028)
	v.SetDefault("miner.command_timeout", "10s")
	v.SetDefault("miner.probe_timeout", "7s")
	v.SetDefault("miner.probe_attempts", 3)
	v.SetDefault("miner.poll_interval", "30s")
	v.SetDefault("miner.scan_workers", 256)
	v.SetDefault("miner.ping_timeout", "1s")
	v.SetDefault("miner.ping_attempts", 3)

	v.SetDefault("device_profiles.search_paths", []string{"./profiles"})

	// Auth Defaults
	v.SetDefault("auth.api_key_env", "OMC_API_KEY")
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	// Environment Variables mit Prefix OMC_, z.B. OMC_MINER_PROBE_TIMEOUT
	v.SetEnvPrefix("OMC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Miner.Port <= 0 || c.Miner.Port > 65535 {
		return fmt.Errorf("invalid miner.port %d", c.Miner.Port)
	}
	if c.Miner.ProbeAttempts <= 0 {
		return fmt.Errorf("miner.probe_attempts must be positive")
	}
	if c.Miner.PollInterval <= 0 {
		return fmt.Errorf("miner.poll_interval must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devJWTSecret
	}
	return secret
}

// GetAPIKey returns the key clients exchange for an access token.
func (a *AuthConfig) GetAPIKey() string {
	envVar := a.APIKeyEnv
	if envVar == "" {
		envVar = "OMC_API_KEY"
	}

	key := os.Getenv(envVar)
	if key == "" {
		return devAPIKey
	}
	return key
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32 && a.GetAPIKey() != devAPIKey
}
