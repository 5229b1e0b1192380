package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
// Connection attempts must not start while issues exist.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if strings.TrimSpace(cfg.AMI.Host) == "" {
		issues = append(issues, ValidationIssue{
			Path:    "ami.host",
			Message: "host is required",
		})
	}
	if cfg.AMI.Port < 1 || cfg.AMI.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "ami.port",
			Message: fmt.Sprintf("port must be 1-65535, got %d", cfg.AMI.Port),
		})
	}
	if strings.TrimSpace(cfg.AMI.Username) == "" {
		issues = append(issues, ValidationIssue{
			Path:    "ami.username",
			Message: "username is required",
		})
	}
	if cfg.AMI.Secret == "" {
		issues = append(issues, ValidationIssue{
			Path:    "ami.secret",
			Message: "secret is required",
		})
	}
	if cfg.AMI.ConnectTimeoutMs < 0 || cfg.AMI.ActionTimeoutMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "ami",
			Message: "timeouts must not be negative",
		})
	}

	if cfg.Reconnect.BaseDelayMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "reconnect.baseDelayMs",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Reconnect.BaseDelayMs),
		})
	}
	if cfg.Reconnect.MaxDelayMs > 0 && cfg.Reconnect.MaxDelayMs < cfg.Reconnect.BaseDelayMs {
		issues = append(issues, ValidationIssue{
			Path:    "reconnect.maxDelayMs",
			Message: fmt.Sprintf("must be >= baseDelayMs (%d), got %d", cfg.Reconnect.BaseDelayMs, cfg.Reconnect.MaxDelayMs),
		})
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "reconnect.maxAttempts",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Reconnect.MaxAttempts),
		})
	}

	for i, pattern := range cfg.Extensions.Monitor {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("extensions.monitor[%d]", i),
				Message: "empty extension pattern",
			})
			continue
		}
		if star := strings.IndexByte(trimmed, '*'); star >= 0 && star != len(trimmed)-1 {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("extensions.monitor[%d]", i),
				Message: fmt.Sprintf("'*' is only allowed as a trailing wildcard, got %q", trimmed),
			})
		}
	}

	if cfg.Calls.GraceWindowMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "calls.graceWindowMs",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Calls.GraceWindowMs),
		})
	}
	validCauses := []string{"normal", "busy", "no-answer", "rejected", "congestion", "failed", "unknown"}
	for code, cause := range cfg.Calls.Causes {
		if !slices.Contains(validCauses, cause) {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("calls.causes[%d]", code),
				Message: fmt.Sprintf("must be one of %v, got %q", validCauses, cause),
			})
		}
	}

	if cfg.Bridge.Port < 0 || cfg.Bridge.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "bridge.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Bridge.Port),
		})
	}
	validBinds := []string{"loopback", "lan"}
	if cfg.Bridge.Bind != "" && !slices.Contains(validBinds, cfg.Bridge.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "bridge.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Bridge.Bind),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	return issues
}
