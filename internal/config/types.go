package config

import (
	"time"
)

// Config is the top-level wifisplit configuration, loaded from a TOML file.
type Config struct {
	// General holds daemon-wide settings.
	General *GeneralConfig `toml:"general" json:"general"`
	// Policy holds the included/excluded network prefix lists.
	Policy *PolicyConfig `toml:"policy" json:"policy"`
	// Exemptions are extra firewall pass rules applied regardless of policy.
	// The built-in essential exemptions (link-local, DHCP, DNS) are always
	// present; entries here are appended after them.
	Exemptions []*ExemptionRule `toml:"exemption,omitempty" json:"exemption,omitempty" validate:"dive"`
	// API configures the local HTTP status API.
	API *APIConfig `toml:"api" json:"api"`

	_absConfigFilePath string
}

// GeneralConfig holds daemon-wide settings.
type GeneralConfig struct {
	// Interface is the WiFi interface to enforce split tunneling on.
	Interface string `toml:"interface" json:"interface" validate:"required"`
	// SSID restricts enforcement to this network name (empty = any SSID).
	SSID string `toml:"ssid" json:"ssid"`
	// PollIntervalSeconds is the watcher poll interval in seconds (default: 5).
	PollIntervalSeconds int `toml:"poll_interval_seconds" json:"poll_interval_seconds" validate:"gte=1"`
	// MaxApplyRetries bounds consecutive failed apply attempts per
	// connection session (default: 3).
	MaxApplyRetries int `toml:"max_apply_retries" json:"max_apply_retries" validate:"gte=0"`
	// BackendTimeoutSeconds bounds every firewall/routing backend call
	// (default: 15).
	BackendTimeoutSeconds int `toml:"backend_timeout_seconds" json:"backend_timeout_seconds" validate:"gte=1"`
	// StateDir is the directory for the persisted default-route backup.
	StateDir string `toml:"state_dir" json:"state_dir" validate:"required"`
	// SelfCheckHostname is resolved through the WiFi gateway during
	// self-check (default: captive.apple.com).
	SelfCheckHostname string `toml:"self_check_hostname" json:"self_check_hostname"`
}

// PolicyConfig is the raw prefix policy as written in the config file: two
// ordered lists of CIDR strings. Entries are validated by the CIDR parser
// at load time; malformed entries are skipped with a warning.
type PolicyConfig struct {
	// Included networks are routed through the WiFi interface.
	Included []string `toml:"included" json:"included" validate:"required,min=1"`
	// Excluded sub-networks are carved out of the included networks and
	// keep using the primary interface.
	Excluded []string `toml:"excluded,omitempty" json:"excluded,omitempty"`
}

// ExemptionRule describes one extra always-permitted traffic class.
// CIDR may reference the template variables {{interface}} and {{gateway}},
// substituted when the rule set is compiled for a connection.
type ExemptionRule struct {
	// Description is carried into the rule comment.
	Description string `toml:"description" json:"description"`
	// Direction is "in", "out" or "both" (default: "both").
	Direction string `toml:"direction" json:"direction" validate:"omitempty,oneof=in out both"`
	// Proto is "tcp", "udp" or empty for any protocol.
	Proto string `toml:"proto" json:"proto" validate:"omitempty,oneof=tcp udp"`
	// Port is the destination port (0 = any). Requires Proto.
	Port uint16 `toml:"port" json:"port"`
	// CIDR is the peer network, or empty for any. Supports templates.
	CIDR string `toml:"cidr" json:"cidr"`
}

// APIConfig configures the local HTTP status API.
type APIConfig struct {
	// Enabled starts the HTTP API in service mode (default: true).
	Enabled bool `toml:"enabled" json:"enabled"`
	// Listen is the address to bind (default: 127.0.0.1:8321).
	Listen string `toml:"listen" json:"listen" validate:"omitempty,hostname_port"`
}

// PollInterval returns the watcher poll interval as a duration.
func (g *GeneralConfig) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalSeconds) * time.Second
}

// BackendTimeout returns the per-backend-call timeout as a duration.
func (g *GeneralConfig) BackendTimeout() time.Duration {
	return time.Duration(g.BackendTimeoutSeconds) * time.Second
}
