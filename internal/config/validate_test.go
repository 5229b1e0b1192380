package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.AMI.Host = "pbx.example.com"
	cfg.AMI.Username = "popup"
	cfg.AMI.Secret = "hunter2"
	return cfg
}

func issuePaths(issues []ValidationIssue) []string {
	paths := make([]string, len(issues))
	for i, iss := range issues {
		paths[i] = iss.Path
	}
	return paths
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)

	paths := issuePaths(issues)
	assert.Contains(t, paths, "ami.host")
	assert.Contains(t, paths, "ami.username")
	assert.Contains(t, paths, "ami.secret")
}

func TestValidate_PortRange(t *testing.T) {
	cfg := validConfig()
	cfg.AMI.Port = 70000
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "ami.port", issues[0].Path)

	cfg.AMI.Port = 0
	assert.Contains(t, issuePaths(Validate(&cfg)), "ami.port")
}

func TestValidate_WildcardOnlyTrailing(t *testing.T) {
	cfg := validConfig()
	cfg.Extensions.Monitor = []string{"101", "2*", "*3", "4*5"}

	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "extensions.monitor[2]")
	assert.Contains(t, paths, "extensions.monitor[3]")
	assert.NotContains(t, paths, "extensions.monitor[0]")
	assert.NotContains(t, paths, "extensions.monitor[1]")
}

func TestValidate_EmptyMonitorPattern(t *testing.T) {
	cfg := validConfig()
	cfg.Extensions.Monitor = []string{"  "}
	assert.Contains(t, issuePaths(Validate(&cfg)), "extensions.monitor[0]")
}

func TestValidate_ReconnectBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Reconnect.BaseDelayMs = 5000
	cfg.Reconnect.MaxDelayMs = 1000
	assert.Contains(t, issuePaths(Validate(&cfg)), "reconnect.maxDelayMs")

	cfg = validConfig()
	cfg.Reconnect.MaxAttempts = -1
	assert.Contains(t, issuePaths(Validate(&cfg)), "reconnect.maxAttempts")
}

func TestValidate_CauseNames(t *testing.T) {
	cfg := validConfig()
	cfg.Calls.Causes = map[int]string{17: "busy", 19: "voicemail"}

	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "calls.causes[19]")
	assert.NotContains(t, paths, "calls.causes[17]")
}

func TestValidate_BridgeBind(t *testing.T) {
	cfg := validConfig()
	cfg.Bridge.Bind = "public"
	assert.Contains(t, issuePaths(Validate(&cfg)), "bridge.bind")
}

func TestValidate_LoggingValues(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	cfg.Logging.ConsoleStyle = "fancy"

	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "logging.level")
	assert.Contains(t, paths, "logging.consoleStyle")
}

func TestValidationIssue_String(t *testing.T) {
	iss := ValidationIssue{Path: "ami.host", Message: "host is required"}
	assert.Equal(t, "ami.host: host is required", iss.String())
}
