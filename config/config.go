// Package config loads SafeRoam service configuration from a YAML file
// and SAFEROAM_* environment variables, with sane defaults for every
// setting.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"saferoam/geo"
)

// Config holds all configuration for the SafeRoam service.
type Config struct {
	DataPaths struct {
		// DataDir is the base data directory (SAFEROAM_DATA_PATHS_DATA_DIR, default: ./data)
		DataDir string `mapstructure:"data_dir"`
		// SQLitePath is the SQLite database file path (default: ${DataDir}/saferoam.db)
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"data_paths"`

	API struct {
		Port           int      `mapstructure:"port"`
		TLS            bool     `mapstructure:"tls"`
		CertFile       string   `mapstructure:"cert_file"`
		KeyFile        string   `mapstructure:"key_file"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		TrustProxy     bool     `mapstructure:"trust_proxy"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`

	Geofence struct {
		CenterLat float64 `mapstructure:"center_lat"`
		CenterLng float64 `mapstructure:"center_lng"`
		RadiusKM  float64 `mapstructure:"radius_km"`
	} `mapstructure:"geofence"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"redis"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")

	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.trust_proxy", false)
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("auth.token_ttl", 24*time.Hour)

	viper.SetDefault("geofence.center_lat", 12.9716)
	viper.SetDefault("geofence.center_lng", 77.5946)
	viper.SetDefault("geofence.radius_km", geo.DefaultFenceRadiusKM)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.channel", "saferoam:broadcast")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// LoadConfig reads configuration from config.yaml (if present) and the
// environment. Environment variables use the SAFEROAM_ prefix with
// underscores, e.g. SAFEROAM_API_PORT.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("SAFEROAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// AutomaticEnv only applies to keys viper already knows about when
	// unmarshalling; bind keys that have no default so their SAFEROAM_*
	// variables are seen.
	viper.BindEnv("auth.jwt_secret")
	viper.BindEnv("api.cert_file")
	viper.BindEnv("api.key_file")
	viper.BindEnv("redis.password")
	viper.BindEnv("data_paths.sqlite_path")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, defaults and env vars apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	config.ResolveDataPaths()
	return &config, nil
}

func (c *Config) validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}
	if c.API.TLS && (c.API.CertFile == "" || c.API.KeyFile == "") {
		return fmt.Errorf("tls enabled but cert_file or key_file missing")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set SAFEROAM_AUTH_JWT_SECRET)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Geofence.RadiusKM <= 0 {
		return fmt.Errorf("geofence.radius_km must be positive")
	}
	return nil
}

// ResolveDataPaths derives unset file paths from the base data directory.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "saferoam.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}
	c.DataPaths.DataDir = dataDir
}

// GetSQLitePath returns the resolved SQLite database path.
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		c.ResolveDataPaths()
	}
	return c.DataPaths.SQLitePath
}
