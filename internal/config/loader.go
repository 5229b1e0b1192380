package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so the AMI secret can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.AMI.Secret = expandEnvVars(cfg.AMI.Secret)
	cfg.AMI.Username = expandEnvVars(cfg.AMI.Username)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.AMI.Port == 0 {
		cfg.AMI.Port = 5038
	}
	if cfg.AMI.ConnectTimeoutMs == 0 {
		cfg.AMI.ConnectTimeoutMs = 10000
	}
	if cfg.AMI.ActionTimeoutMs == 0 {
		cfg.AMI.ActionTimeoutMs = 5000
	}
	if cfg.AMI.KeepaliveIdleMs == 0 {
		cfg.AMI.KeepaliveIdleMs = 30000
	}
	if cfg.AMI.KeepaliveGraceMs == 0 {
		cfg.AMI.KeepaliveGraceMs = 5000
	}
	if cfg.Reconnect.BaseDelayMs == 0 {
		cfg.Reconnect.BaseDelayMs = 2000
	}
	if cfg.Reconnect.MaxDelayMs == 0 {
		cfg.Reconnect.MaxDelayMs = 60000
	}
	if cfg.Calls.GraceWindowMs == 0 {
		cfg.Calls.GraceWindowMs = 5000
	}
	if cfg.Calls.SweepIntervalMs == 0 {
		cfg.Calls.SweepIntervalMs = 1000
	}
	if cfg.Bridge.Port == 0 {
		cfg.Bridge.Port = 18790
	}
	if cfg.Bridge.Bind == "" {
		cfg.Bridge.Bind = "loopback"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// applyEnvOverrides reads FREEPBX_POPUP_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FREEPBX_POPUP_AMI_HOST"); v != "" {
		cfg.AMI.Host = v
	}
	if v := os.Getenv("FREEPBX_POPUP_AMI_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.AMI.Port = port
		}
	}
	if v := os.Getenv("FREEPBX_POPUP_AMI_USERNAME"); v != "" {
		cfg.AMI.Username = v
	}
	if v := os.Getenv("FREEPBX_POPUP_AMI_SECRET"); v != "" {
		cfg.AMI.Secret = v
	}
	if v := os.Getenv("FREEPBX_POPUP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
