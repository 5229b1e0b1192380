package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		AMI: AMIConfig{
			Port:             5038,
			ConnectTimeoutMs: 10000,
			ActionTimeoutMs:  5000,
			KeepaliveIdleMs:  30000,
			KeepaliveGraceMs: 5000,
		},
		Reconnect: ReconnectConfig{
			BaseDelayMs: 2000,
			MaxDelayMs:  60000,
			MaxAttempts: 10,
		},
		Calls: CallsConfig{
			GraceWindowMs:   5000,
			SweepIntervalMs: 1000,
		},
		Bridge: BridgeConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
