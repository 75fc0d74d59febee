// Package config handles configuration loading, validation, and persistence
// for the Conduit proxy.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "conduit.json"
	DefaultBind       = "0.0.0.0:25577"
	DefaultAPIPort    = 8081
)

// Config is the root configuration structure for Conduit.
type Config struct {
	mu      sync.RWMutex
	path    string
	created bool

	Proxy       ProxyConfig       `json:"proxy"`
	Compression CompressionConfig `json:"compression"`
	Admission   AdmissionConfig   `json:"admission"`
	API         APIConfig         `json:"api"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Database    DatabaseConfig    `json:"database"`
	Logging     LoggingConfig     `json:"logging"`
}

// ProxyConfig holds the player-facing listener settings.
type ProxyConfig struct {
	Bind           string `json:"bind"`
	MOTD           string `json:"motd"`
	MaxPlayers     int    `json:"max_players"`
	MaxConnections int    `json:"max_connections"`
	OnlineMode     bool   `json:"online_mode"`
	// Backend is the server players are bridged to after login; empty keeps
	// them on the proxy.
	Backend string `json:"backend"`
	// ForwardUnknown relays packets the proxy does not model to the backend.
	ForwardUnknown   bool   `json:"forward_unknown_packets"`
	SessionServerURL string `json:"session_server_url"`

	ReadTimeoutMs    int `json:"read_timeout_ms"`
	LoginTimeoutMs   int `json:"login_timeout_ms"`
	AuthTimeoutMs    int `json:"auth_timeout_ms"`
	ConnectTimeoutMs int `json:"connect_timeout_ms"`
	KeepAliveSec     int `json:"keep_alive_interval_sec"`
}

// CompressionConfig controls the stream compression negotiated at login.
type CompressionConfig struct {
	// Threshold is the smallest packet body compressed; negative disables.
	Threshold      int    `json:"threshold"`
	Level          int    `json:"level"`
	Implementation string `json:"implementation"`
	// MaxUncompressed caps the size a compressed frame may claim.
	MaxUncompressed int `json:"max_uncompressed_bytes"`
}

// AdmissionConfig tunes the connection admission gate.
type AdmissionConfig struct {
	IntervalMs         int `json:"limiter_interval_ms"`
	WhitelistTTLSec    int `json:"whitelist_ttl_sec"`
	ThrottleCapacity   int `json:"throttle_capacity"`
	ThrottleDurationMs int `json:"throttle_duration_ms"`
	MaxTracked         int `json:"max_tracked_addresses"`
}

// APIConfig holds the admin REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled          bool   `json:"enabled"`
	BrokerURL        string `json:"broker_url"`
	Port             int    `json:"port"`
	UseTLS           bool   `json:"use_tls"`
	CertFile         string `json:"cert_file"`
	KeyFile          string `json:"key_file"`
	CAFile           string `json:"ca_file"`
	ClientID         string `json:"client_id"`
	TopicPrefix      string `json:"topic_prefix"`
	StatsIntervalSec int    `json:"stats_interval_sec"`
}

// DatabaseConfig holds the audit log database settings.
type DatabaseConfig struct {
	Path               string `json:"path"`
	AuditRetentionDays int    `json:"audit_retention_days"`
	// PruneTime is the local HH:MM at which expired audit entries are removed.
	PruneTime string `json:"prune_time"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Bind:             DefaultBind,
			MOTD:             "A Conduit Proxy",
			MaxPlayers:       500,
			MaxConnections:   2048,
			OnlineMode:       true,
			SessionServerURL: "https://sessionserver.mojang.com",
			ReadTimeoutMs:    30000,
			LoginTimeoutMs:   30000,
			AuthTimeoutMs:    5000,
			ConnectTimeoutMs: 5000,
			KeepAliveSec:     15,
		},
		Compression: CompressionConfig{
			Threshold:       256,
			Level:           -1,
			Implementation:  "auto",
			MaxUncompressed: 8 * 1024 * 1024,
		},
		Admission: AdmissionConfig{
			IntervalMs:         100,
			WhitelistTTLSec:    600,
			ThrottleCapacity:   500,
			ThrottleDurationMs: 20000,
			MaxTracked:         65536,
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Enabled:          false,
			Port:             1883,
			TopicPrefix:      "conduit",
			StatsIntervalSec: 60,
		},
		Database: DatabaseConfig{
			Path:               "data/conduit.db",
			AuditRetentionDays: 30,
			PruneTime:          "04:00",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// it does not exist yet.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			cfg.created = true
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file always lists every option.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetProxy returns a copy of the proxy section.
func (c *Config) GetProxy() ProxyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Proxy
}

// GetCompression returns a copy of the compression section.
func (c *Config) GetCompression() CompressionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Compression
}

// GetAdmission returns a copy of the admission section.
func (c *Config) GetAdmission() AdmissionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Admission
}

// SetProxy replaces the proxy section.
func (c *Config) SetProxy(p ProxyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Proxy = p
}

// UpdateProxyField updates one proxy field by its JSON key.
func (c *Config) UpdateProxyField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Proxy)
	m := make(map[string]interface{})
	_ = json.Unmarshal(data, &m)
	if _, known := m[key]; !known {
		return fmt.Errorf("unknown proxy field %q", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	var next ProxyConfig
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Proxy = next
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Created reports whether Load generated the file on this run.
func (c *Config) Created() bool {
	return c.created
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (p ProxyConfig) ReadTimeout() time.Duration    { return ms(p.ReadTimeoutMs) }
func (p ProxyConfig) LoginTimeout() time.Duration   { return ms(p.LoginTimeoutMs) }
func (p ProxyConfig) AuthTimeout() time.Duration    { return ms(p.AuthTimeoutMs) }
func (p ProxyConfig) ConnectTimeout() time.Duration { return ms(p.ConnectTimeoutMs) }
func (p ProxyConfig) KeepAliveInterval() time.Duration {
	return time.Duration(p.KeepAliveSec) * time.Second
}

func (a AdmissionConfig) Interval() time.Duration         { return ms(a.IntervalMs) }
func (a AdmissionConfig) ThrottleDuration() time.Duration { return ms(a.ThrottleDurationMs) }
func (a AdmissionConfig) WhitelistTTL() time.Duration {
	return time.Duration(a.WhitelistTTLSec) * time.Second
}
