package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.toml", `
[database]
path = "data/test.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "data/test.db", cfg.Database.Path)
	assert.Equal(t, "none", cfg.LLM.Adapter)
	assert.Equal(t, 1.0, cfg.Politeness.DelaySeconds)
	assert.Equal(t, 2, cfg.Politeness.ConcurrencyPerDomain)
	assert.True(t, cfg.Politeness.RespectRobotsTxt)
	assert.True(t, cfg.Admin.AutoMigrate)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.toml", `
log_level = "debug"

[database]
path = "data/test.db"

[llm]
adapter = "remote"

[admin]
auto_migrate = false

[[users]]
username = "alice"
display_name = "Alice"

[[users.feeds]]
url = "https://example.com/feed.xml"
title = "Example"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "remote", cfg.LLM.Adapter)
	assert.False(t, cfg.Admin.AutoMigrate)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "alice", cfg.Users[0].Username)
	require.Len(t, cfg.Users[0].Feeds, 1)
	assert.Equal(t, "https://example.com/feed.xml", cfg.Users[0].Feeds[0].URL)
}

func TestLoad_MissingFileUsesDefaultsOnly(t *testing.T) {
	dir := t.TempDir()
	// CONFIG_PATH points nowhere; no config.toml in cwd either, since Load
	// falls back to a relative "config.toml" that won't exist in dir.
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	// database.path default is non-empty, so the config is still valid.
	assert.NotEmpty(t, cfg.Database.Path)
}

func TestValidate_RejectsBadAdapter(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Path: "x.db"}, LLM: LLMConfig{Adapter: "bogus"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.adapter")
}

func TestValidate_RejectsMalformedSchedulerTime(t *testing.T) {
	cfg := &Config{
		Database:  DatabaseConfig{Path: "x.db"},
		LLM:       LLMConfig{Adapter: "none"},
		Scheduler: SchedulerConfig{Times: []string{"9:00"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HH:MM")
}

func TestValidate_RejectsUserWithoutUsername(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Path: "x.db"},
		LLM:      LLMConfig{Adapter: "none"},
		Users:    []UserSeed{{DisplayName: "no username"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username")
}

func TestValidate_RejectsEmptyDatabasePath(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{Adapter: "none"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLLMEndpoint_APIKey(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "secret-value")

	e := LLMEndpoint{APIKeyEnv: "TEST_LLM_KEY"}
	assert.Equal(t, "secret-value", e.APIKey())

	unset := LLMEndpoint{}
	assert.Empty(t, unset.APIKey())
}
