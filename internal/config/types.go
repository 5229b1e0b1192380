package config

import "time"

// Config is the root configuration for the FreePBX popup daemon.
// Sections mirror the preference groups of the desktop application, scoped
// to what the monitoring core needs.
type Config struct {
	AMI        AMIConfig        `yaml:"ami"`
	Extensions ExtensionsConfig `yaml:"extensions,omitempty"`
	Reconnect  ReconnectConfig  `yaml:"reconnect,omitempty"`
	Calls      CallsConfig      `yaml:"calls,omitempty"`
	Bridge     BridgeConfig     `yaml:"bridge,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// AMIConfig holds the Asterisk Manager Interface connection settings.
type AMIConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port,omitempty"`             // default 5038
	Username         string `yaml:"username"`
	Secret           string `yaml:"secret"`                     // supports ${ENV_VAR} references
	ConnectTimeoutMs int    `yaml:"connectTimeoutMs,omitempty"` // TCP dial + login deadline
	ActionTimeoutMs  int    `yaml:"actionTimeoutMs,omitempty"`  // default per-action response deadline
	KeepaliveIdleMs  int    `yaml:"keepaliveIdleMs,omitempty"`  // silence before a Ping is issued
	KeepaliveGraceMs int    `yaml:"keepaliveGraceMs,omitempty"` // Ping response deadline before declaring the link dead
}

// ConnectTimeout returns the dial/login deadline as a duration.
func (a AMIConfig) ConnectTimeout() time.Duration {
	return time.Duration(a.ConnectTimeoutMs) * time.Millisecond
}

// ActionTimeout returns the default action response deadline as a duration.
func (a AMIConfig) ActionTimeout() time.Duration {
	return time.Duration(a.ActionTimeoutMs) * time.Millisecond
}

// KeepaliveIdle returns the idle threshold as a duration.
func (a AMIConfig) KeepaliveIdle() time.Duration {
	return time.Duration(a.KeepaliveIdleMs) * time.Millisecond
}

// KeepaliveGrace returns the keepalive grace period as a duration.
func (a AMIConfig) KeepaliveGrace() time.Duration {
	return time.Duration(a.KeepaliveGraceMs) * time.Millisecond
}

// ExtensionsConfig selects which local extensions are tracked.
type ExtensionsConfig struct {
	// Monitor lists extensions to track. Entries may end in '*' to match a
	// prefix (e.g. "6*" matches 600-699). Ignored when MonitorAll is set.
	Monitor    []string `yaml:"monitor,omitempty"`
	MonitorAll bool     `yaml:"monitorAll,omitempty"`
}

// ReconnectConfig tunes the automatic reconnection policy.
type ReconnectConfig struct {
	BaseDelayMs int `yaml:"baseDelayMs,omitempty"` // first backoff step, default 2000
	MaxDelayMs  int `yaml:"maxDelayMs,omitempty"`  // backoff cap, default 60000
	MaxAttempts int `yaml:"maxAttempts,omitempty"` // 0 means retry forever
}

// BaseDelay returns the first backoff step as a duration.
func (r ReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap as a duration.
func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// CallsConfig tunes call lifecycle tracking.
type CallsConfig struct {
	GraceWindowMs   int `yaml:"graceWindowMs,omitempty"`   // ended calls stay queryable this long, default 5000
	SweepIntervalMs int `yaml:"sweepIntervalMs,omitempty"` // purge sweep period, default 1000

	// Causes overrides the built-in hangup cause table. Keys are the
	// server's numeric cause codes, values one of: normal, busy, no-answer,
	// rejected, congestion, failed, unknown.
	Causes map[int]string `yaml:"causes,omitempty"`
}

// GraceWindow returns the post-hangup retention window as a duration.
func (c CallsConfig) GraceWindow() time.Duration {
	return time.Duration(c.GraceWindowMs) * time.Millisecond
}

// SweepInterval returns the purge sweep period as a duration.
func (c CallsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// BridgeConfig controls the local WebSocket feed consumed by the UI shell.
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Port    int    `yaml:"port,omitempty"` // default 18790
	Bind    string `yaml:"bind,omitempty"` // "loopback" | "lan", default loopback
	Metrics bool   `yaml:"metrics,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
