package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8320", cfg.ListenAddr)
	assert.Equal(t, 100, cfg.General.MaxSteps)
	assert.Equal(t, 3, cfg.General.PlanningInterval)
	assert.Equal(t, "http://127.0.0.1:9222", cfg.Browser.DebuggingURL)
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webpilot.json")

	cfg := Default()
	cfg.Navigator = AgentModelConfig{
		Provider: "anthropic",
		APIKey:   "test-key",
		Model:    "claude-sonnet-4-20250514",
	}
	cfg.Firewall = FirewallSettings{
		Enabled:  true,
		DenyList: []string{"example.com"},
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", loaded.Navigator.Provider)
	assert.True(t, loaded.Firewall.Enabled)
	assert.Equal(t, []string{"example.com"}, loaded.Firewall.DenyList)
}

func TestLoad_PlannerFallsBackToNavigator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webpilot.json")
	cfg := Default()
	cfg.Navigator.Model = "gpt-4o"
	cfg.Navigator.APIKey = "k"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", loaded.Planner.Model)
	assert.Equal(t, "gpt-4o", loaded.Validator.Model)
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("WEBPILOT_API_KEY", "env-key")
	defer os.Unsetenv("WEBPILOT_API_KEY")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Navigator.APIKey)
}

func TestAgentModelConfig_IsConfigured(t *testing.T) {
	assert.False(t, AgentModelConfig{}.IsConfigured())
	assert.True(t, AgentModelConfig{Model: "gpt-4o"}.IsConfigured())
}
