// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekolahdesk/sekolahdesk/internal/config"
)

func newTestConfig(t *testing.T) (*config.AppConfig, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := config.New(dir, "test")
	require.NoError(t, err)
	return c, dir
}

func TestNewWritesDefaultConfigFile(t *testing.T) {
	c, dir := newTestConfig(t)

	content, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# config.toml - Auto-generated"))

	assert.Equal(t, 4, c.Config.PoolSize)
	assert.Equal(t, "sekolahdesk.db", c.Config.DatabaseFile)
	assert.Equal(t, "INFO", c.Config.LogLevel)
	assert.True(t, c.Config.SeedSampleData)
	assert.Equal(t, 24, c.Config.MaintenanceIntervalHours)
	assert.Equal(t, 6, c.Config.BackupRetentionMonths)
	assert.False(t, c.Config.MetricsEnabled)
}

func TestNewKeepsExistingConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("poolSize = 9\n"), 0o644))

	c, err := config.New(dir, "test")
	require.NoError(t, err)
	assert.Equal(t, 9, c.Config.PoolSize)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "poolSize = 9\n", string(content))
}

func TestNewAcceptsFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("databaseFile = \"x.db\"\n"), 0o644))

	c, err := config.New(path, "test")
	require.NoError(t, err)
	assert.Equal(t, "x.db", c.Config.DatabaseFile)
	assert.Equal(t, filepath.Dir(path), c.ConfigDir())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SEKOLAHDESK__POOLSIZE", "8")
	t.Setenv("SEKOLAHDESK__LOGLEVEL", "DEBUG")

	c, _ := newTestConfig(t)
	assert.Equal(t, 8, c.Config.PoolSize)
	assert.Equal(t, "DEBUG", c.Config.LogLevel)
}

func TestPathResolution(t *testing.T) {
	c, dir := newTestConfig(t)

	// Defaults: everything lives next to config.toml, backups are off.
	assert.Equal(t, dir, c.DataDir())
	assert.Equal(t, filepath.Join(dir, "sekolahdesk.db"), c.DatabasePath())
	assert.Empty(t, c.BackupDir())

	c.Config.DataDir = filepath.Join(dir, "data")
	c.Config.BackupDir = "backups"
	assert.Equal(t, filepath.Join(dir, "data", "sekolahdesk.db"), c.DatabasePath())
	assert.Equal(t, filepath.Join(dir, "data", "backups"), c.BackupDir())

	c.Config.DatabaseFile = "/abs/school.db"
	assert.Equal(t, "/abs/school.db", c.DatabasePath())

	assert.Equal(t, filepath.Join(dir, "log/app.log"), c.ResolveLogPath("log/app.log"))
	assert.Equal(t, "/var/log/app.log", c.ResolveLogPath("/var/log/app.log"))
	assert.Empty(t, c.ResolveLogPath(""))
}

func TestGetDefaultConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "sekolahdesk"), config.GetDefaultConfigDir())

	// The bare container convention is used as-is.
	t.Setenv("XDG_CONFIG_HOME", "/config")
	assert.Equal(t, "/config", config.GetDefaultConfigDir())
}

func TestRecentLogsCapturesLogLines(t *testing.T) {
	c, _ := newTestConfig(t)

	log.Info().Msg("ring marker line")

	lines := c.RecentLogs(0)
	require.NotEmpty(t, lines)
	assert.Contains(t, strings.Join(lines, "\n"), "ring marker line")
}

func TestPersistSettingsReplacesCommentedDefaultInPlace(t *testing.T) {
	c, dir := newTestConfig(t)

	require.NoError(t, c.PersistSettings(map[string]any{"poolSize": 8}))

	content, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "poolSize = 8")
	assert.NotContains(t, text, "#poolSize")
	// Replaced where the commented default sat, not appended at the bottom.
	assert.Less(t, strings.Index(text, "poolSize = 8"), strings.Index(text, "#seedSampleData"))
}

func TestPersistSettingsUpdatesActiveLine(t *testing.T) {
	c, dir := newTestConfig(t)

	require.NoError(t, c.PersistLogSettings("DEBUG", "", 100, 5))

	content, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, `logLevel = "DEBUG"`)
	// Empty strings persist as a commented key.
	assert.Contains(t, text, `#logPath = ""`)
	assert.Contains(t, text, "logMaxSize = 100")
	assert.Contains(t, text, "logMaxBackups = 5")
	// Comments survive the rewrite.
	assert.Contains(t, text, `# Options: "TRACE", "DEBUG", "INFO", "WARN", "ERROR"`)
}

func TestPersistSettingsAppendsUnknownKeys(t *testing.T) {
	c, dir := newTestConfig(t)

	require.NoError(t, c.PersistSettings(map[string]any{"windowWidth": 1280, "windowMaximized": true}))

	content, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")

	// Appended in sorted order at the bottom.
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "windowMaximized = true", lines[len(lines)-2])
	assert.Equal(t, "windowWidth = 1280", lines[len(lines)-1])
}
