package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/energizer-project/conduit/internal/compression"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateProxy(&cfg.Proxy, result)
	validateCompression(&cfg.Compression, result)
	validateAdmission(&cfg.Admission, result)
	validateAPI(&cfg.API, cfg.Proxy.Bind, result)
	validateMQTT(&cfg.MQTT, result)

	if cfg.Database.AuditRetentionDays < 1 {
		result.AddError("database.audit_retention_days", "retention days must be at least 1")
	}
	if _, err := time.Parse("15:04", cfg.Database.PruneTime); err != nil {
		result.AddWarning("database.prune_time", "expected HH:MM, audit pruning falls back to 04:00")
	}

	return result
}

func validateProxy(p *ProxyConfig, result *ValidationResult) {
	if _, err := bindPort(p.Bind); err != nil {
		result.AddError("proxy.bind", err.Error())
	}
	if p.Backend != "" {
		if _, _, err := net.SplitHostPort(p.Backend); err != nil {
			result.AddError("proxy.backend", fmt.Sprintf("invalid backend address %q: %v", p.Backend, err))
		}
	}

	if p.MaxPlayers < 1 {
		result.AddError("proxy.max_players", "must allow at least 1 player")
	}
	if p.MaxConnections > 0 && p.MaxConnections < p.MaxPlayers {
		result.AddWarning("proxy.max_connections", "connection cap is below max players")
	}

	if p.OnlineMode && strings.TrimSpace(p.SessionServerURL) == "" {
		result.AddError("proxy.session_server_url", "session server is required in online mode")
	}
	if !p.OnlineMode {
		result.AddWarning("proxy.online_mode", "offline mode: player identities are not verified")
	}

	if p.AuthTimeoutMs < 100 {
		result.AddError("proxy.auth_timeout_ms", "auth timeout must be at least 100ms")
	}
	if p.LoginTimeoutMs > 0 && p.LoginTimeoutMs < p.AuthTimeoutMs {
		result.AddWarning("proxy.login_timeout_ms", "login timeout is shorter than the auth timeout")
	}
	if p.ReadTimeoutMs > 0 && p.ReadTimeoutMs < 1000 {
		result.AddWarning("proxy.read_timeout_ms", "read timeout under 1s will drop slow clients")
	}
	if p.KeepAliveSec < 1 {
		result.AddError("proxy.keep_alive_interval_sec", "keep-alive interval must be at least 1s")
	}
}

func validateCompression(c *CompressionConfig, result *ValidationResult) {
	if _, _, err := compression.Select(c.Implementation); err != nil {
		result.AddError("compression.implementation", err.Error())
	}
	if !compression.ValidLevel(c.Level) {
		result.AddError("compression.level", fmt.Sprintf("invalid zlib level %d (must be -1..9)", c.Level))
	}
	if c.MaxUncompressed < 1 {
		result.AddError("compression.max_uncompressed_bytes", "ceiling must be positive")
	}
	if c.Threshold > c.MaxUncompressed {
		result.AddWarning("compression.threshold", "threshold above the ceiling disables compression in practice")
	}
}

func validateAdmission(a *AdmissionConfig, result *ValidationResult) {
	if a.IntervalMs < 0 {
		result.AddError("admission.limiter_interval_ms", "interval cannot be negative")
	}
	if a.ThrottleCapacity < 1 {
		result.AddError("admission.throttle_capacity", "capacity must be at least 1")
	}
	if a.ThrottleDurationMs < 1 {
		result.AddError("admission.throttle_duration_ms", "duration must be positive")
	}
	if a.WhitelistTTLSec < 1 {
		result.AddWarning("admission.whitelist_ttl_sec", "whitelist disabled, reconnecting players are throttled during floods")
	}
}

func validateAPI(a *APIConfig, proxyBind string, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if port, err := bindPort(proxyBind); err == nil && port == a.Port {
		result.AddError("api.port", "API port conflicts with the proxy listener")
	}

	if a.TLSEnabled {
		if strings.TrimSpace(a.TLSCertFile) == "" {
			result.AddError("api.tls_cert_file", "TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(a.TLSKeyFile) == "" {
			result.AddError("api.tls_key_file", "TLS key file is required when TLS is enabled")
		}
	}
	if a.Token == "" {
		result.AddWarning("api.token", "no API token set, control routes are open to whitelisted addresses")
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	for _, entry := range a.IPWhitelist {
		if net.ParseIP(entry) == nil {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				result.AddError("api.ip_whitelist", fmt.Sprintf("invalid address or CIDR %q", entry))
			}
		}
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.StatsIntervalSec < 5 {
		result.AddWarning("mqtt.stats_interval_sec", "stats interval under 5s may cause excessive traffic")
	}
}

func bindPort(bind string) (int, error) {
	_, portStr, err := net.SplitHostPort(bind)
	if err != nil {
		return 0, fmt.Errorf("invalid bind address %q: %v", bind, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port in bind address %q", bind)
	}
	return port, nil
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
