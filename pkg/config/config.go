package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/skpeterson2000/towerwitch/pkg/geo"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
)

// Config represents the complete application configuration.
// Configuration can be loaded from a file, with environment overrides
// for values that should stay out of version control.
type Config struct {
	Registry RegistryConfig `json:"registry"`
	Query    QueryConfig    `json:"query"`
	GPS      GPSConfig      `json:"gps"`
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Auth     AuthConfig     `json:"auth"`
	Log      LogConfig      `json:"log"`
}

// RegistryConfig describes the trunked-site registry to load.
type RegistryConfig struct {
	// CSVPath is the site export to load (default: "sites.csv")
	CSVPath string `json:"csv_path"`

	// BandFilterEnabled restricts loaded frequencies to the band below.
	// Off by default; enable it to keep only the 800-900 MHz P25
	// public-safety band from mixed exports.
	BandFilterEnabled bool `json:"band_filter_enabled"`

	// BandMinMHz is the inclusive lower bound of the kept band
	BandMinMHz float64 `json:"band_min_mhz"`

	// BandMaxMHz is the inclusive upper bound of the kept band
	BandMaxMHz float64 `json:"band_max_mhz"`
}

// QueryConfig holds the default resolver parameters. The TUIs can change
// them at runtime; these are the values a session starts with.
type QueryConfig struct {
	// Unit is the distance unit: "mi", "km", or "nm" (default: "mi")
	Unit string `json:"unit"`

	// NearestCount is how many control-channel sites to rank (default: 5)
	NearestCount int `json:"nearest_count"`

	// Radius bounds the in-range list, measured in Unit (default: 30)
	Radius float64 `json:"radius"`
}

// GPSConfig contains position feed settings.
type GPSConfig struct {
	// GPSDAddress is the gpsd host:port (default: "localhost:2947")
	GPSDAddress string `json:"gpsd_address"`

	// DialTimeoutSeconds bounds each connection attempt (default: 5)
	DialTimeoutSeconds int `json:"dial_timeout_seconds"`

	// ReconnectSeconds is the delay between reconnection attempts (default: 5)
	ReconnectSeconds int `json:"reconnect_seconds"`

	// FixTimeoutSeconds bounds the one-shot wait for a usable fix (default: 30)
	FixTimeoutSeconds int `json:"fix_timeout_seconds"`

	// SnapshotPath is where the last known position is persisted between
	// sessions (default: "last_position.json"). Empty disables snapshots.
	SnapshotPath string `json:"snapshot_path"`

	// MinResolveIntervalMS paces fix-triggered resolutions in
	// milliseconds; faster fixes are coalesced (default: 200)
	MinResolveIntervalMS int `json:"min_resolve_interval_ms"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// AllowedOrigins lists CORS origins (default: ["*"])
	AllowedOrigins []string `json:"allowed_origins"`

	// TLSEnabled determines if HTTPS should be used
	TLSEnabled bool `json:"tls_enabled"`

	// TLSCertFile is the path to the TLS certificate
	TLSCertFile string `json:"tls_cert_file"`

	// TLSKeyFile is the path to the TLS private key
	TLSKeyFile string `json:"tls_key_file"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Driver is the database driver (postgres)
	Driver string `json:"driver"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// AuthConfig contains web API authentication settings.
type AuthConfig struct {
	// JWTSecret signs API tokens (should be loaded from environment)
	JWTSecret string `json:"jwt_secret"`

	// TokenDurationHours is how long issued tokens stay valid (default: 24)
	TokenDurationHours int `json:"token_duration_hours"`

	// Users are the accounts allowed to log in. Password hashes are
	// bcrypt; generate them with the web-server -hash flag.
	Users []UserConfig `json:"users"`
}

// UserConfig is one login account.
type UserConfig struct {
	// Username identifies the account
	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the account password
	PasswordHash string `json:"password_hash"`

	// Role is either "operator" or "viewer"
	Role string `json:"role"`
}

// LogConfig controls diagnostic output.
type LogConfig struct {
	// Level is the minimum level to emit: debug, info, warn, error (default: info)
	Level string `json:"level"`

	// Format is "text" or "json" (default: "text")
	Format string `json:"format"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
func Load(path string) (*Config, error) {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	return &cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to JSON with indentation
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			CSVPath:           "sites.csv",
			BandFilterEnabled: false,
			BandMinMHz:        800.0,
			BandMaxMHz:        900.0,
		},
		Query: QueryConfig{
			Unit:         "mi",
			NearestCount: 5,
			Radius:       30.0,
		},
		GPS: GPSConfig{
			GPSDAddress:          "localhost:2947",
			DialTimeoutSeconds:   5,
			ReconnectSeconds:     5,
			FixTimeoutSeconds:    30,
			SnapshotPath:         "last_position.json",
			MinResolveIntervalMS: 200,
		},
		Server: ServerConfig{
			Port:           "8080",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
			TLSEnabled:     false,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			Database:     "towerwitch",
			Username:     "towerwitch",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Auth: AuthConfig{
			TokenDurationHours: 24,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports the first problem that would break a session at
// runtime. Call it after Load.
func (c *Config) Validate() error {
	if _, err := geo.ParseUnit(c.Query.Unit); err != nil {
		return fmt.Errorf("query.unit: %w", err)
	}
	if c.Query.NearestCount <= 0 {
		return fmt.Errorf("query.nearest_count must be positive, got %d", c.Query.NearestCount)
	}
	if c.Query.Radius <= 0 {
		return fmt.Errorf("query.radius must be positive, got %g", c.Query.Radius)
	}
	if c.Registry.BandFilterEnabled {
		if c.Registry.BandMinMHz <= 0 || c.Registry.BandMaxMHz <= c.Registry.BandMinMHz {
			return fmt.Errorf("registry band filter bounds %g-%g MHz are not a valid band",
				c.Registry.BandMinMHz, c.Registry.BandMaxMHz)
		}
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port must not be empty")
	}
	return nil
}

// LoadOptions returns the registry load options this config describes.
func (c RegistryConfig) LoadOptions() registry.Options {
	return registry.Options{
		Band: registry.BandFilter{
			Enabled: c.BandFilterEnabled,
			MinMHz:  c.BandMinMHz,
			MaxMHz:  c.BandMaxMHz,
		},
	}
}

// ParsedUnit returns the configured distance unit.
func (c QueryConfig) ParsedUnit() (geo.Unit, error) {
	return geo.ParseUnit(c.Unit)
}

// DialTimeout returns the gpsd dial timeout as a duration.
func (c GPSConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// ReconnectDelay returns the gpsd reconnect delay as a duration.
func (c GPSConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectSeconds) * time.Second
}

// FixTimeout returns the one-shot fix wait as a duration.
func (c GPSConfig) FixTimeout() time.Duration {
	return time.Duration(c.FixTimeoutSeconds) * time.Second
}

// MinResolveInterval returns the resolve pacing as a duration.
func (c GPSConfig) MinResolveInterval() time.Duration {
	return time.Duration(c.MinResolveIntervalMS) * time.Millisecond
}

// Address returns the host:port the HTTP server should bind.
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// TokenDuration returns the JWT validity window as a duration.
func (c AuthConfig) TokenDuration() time.Duration {
	return time.Duration(c.TokenDurationHours) * time.Hour
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if csvPath := os.Getenv("TOWERWITCH_CSV"); csvPath != "" {
		c.Registry.CSVPath = csvPath
	}
	if gpsd := os.Getenv("TOWERWITCH_GPSD"); gpsd != "" {
		c.GPS.GPSDAddress = gpsd
	}
	if port := os.Getenv("TOWERWITCH_PORT"); port != "" {
		c.Server.Port = port
	}
	if dbPassword := os.Getenv("TOWERWITCH_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if secret := os.Getenv("TOWERWITCH_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if level := os.Getenv("TOWERWITCH_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}
