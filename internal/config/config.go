package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"sslmode"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	APIKeyEnv      string        `mapstructure:"api_key_env"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// SyncConfig steuert die Gerätesynchronisation: Timeouts der einzelnen
// Phasen und das Backoff-Verhalten bei Wiederverbindung.
type SyncConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	BootstrapTimeout time.Duration `mapstructure:"bootstrap_timeout"`
	LiveReadTimeout  time.Duration `mapstructure:"live_read_timeout"`
	StoreTimeout     time.Duration `mapstructure:"store_timeout"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	BackoffJitter    float64       `mapstructure:"backoff_jitter"`
	SummaryInterval  time.Duration `mapstructure:"summary_interval"`
}

type FleetConfig struct {
	InventoryPath string `mapstructure:"inventory_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Defaults setzen
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.min_connections", 2)

	viper.SetDefault("sync.connect_timeout", "5s")
	viper.SetDefault("sync.bootstrap_timeout", "60s")
	viper.SetDefault("sync.live_read_timeout", "30s")
	viper.SetDefault("sync.store_timeout", "10s")
	viper.SetDefault("sync.backoff_base", "1s")
	viper.SetDefault("sync.backoff_max", "60s")
	viper.SetDefault("sync.backoff_jitter", 0.2)
	viper.SetDefault("sync.summary_interval", "60s")

	viper.SetDefault("fleet.inventory_path", "configs/devices.yaml")

	// Auth Defaults
	viper.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	viper.SetDefault("auth.api_key_env", "ZEIT_API_KEY")
	viper.SetDefault("auth.access_token_ttl", "60m")

	// Environment Variables automatisch binden (Viper Feature)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ZEIT") // Environment Variables mit Prefix ZEIT_

	if err := viper.ReadInConfig(); err != nil {
		return nil, &ConfigError{Source: path, Err: fmt.Errorf("failed to read config: %w", err)}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, &ConfigError{Source: path, Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate fängt kaputte Werte beim Start ab; zur Laufzeit gibt es keine
// Konfigurationsfehler mehr.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return &ConfigError{Source: "config", Err: fmt.Errorf(format, args...)}
	}

	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fail("server.http_port out of range: %d", c.Server.HTTPPort)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fail("server.shutdown_timeout must be positive")
	}
	if c.Sync.ConnectTimeout <= 0 || c.Sync.BootstrapTimeout <= 0 ||
		c.Sync.LiveReadTimeout <= 0 || c.Sync.StoreTimeout <= 0 {
		return fail("sync timeouts must be positive")
	}
	if c.Sync.BackoffBase <= 0 || c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fail("sync backoff: base must be positive and max >= base")
	}
	if c.Sync.BackoffJitter < 0 || c.Sync.BackoffJitter > 1 {
		return fail("sync.backoff_jitter out of range: %f", c.Sync.BackoffJitter)
	}
	if c.Fleet.InventoryPath == "" {
		return fail("fleet.inventory_path must be set")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
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
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

// GetAPIKey liefert den Operator-Schlüssel für den Token-Tausch.
// Leer heißt: Login deaktiviert, nur /health bleibt erreichbar.
func (a *AuthConfig) GetAPIKey() string {
	envVar := a.APIKeyEnv
	if envVar == "" {
		envVar = "ZEIT_API_KEY"
	}
	return os.Getenv(envVar)
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
