// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGenerateConfig(t *testing.T, dir string) string {
	t.Helper()
	cmd := RunGenerateConfigCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config-dir", dir})
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestGenerateConfigWritesDefaultFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := runGenerateConfig(t, dir)

	configPath := filepath.Join(dir, "config.toml")
	assert.Contains(t, out, "Generated config file at "+configPath)

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# config.toml - Auto-generated"))
	assert.Contains(t, string(content), `logLevel = "INFO"`)
}

func TestGenerateConfigSkipsExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("poolSize = 9\n"), 0o644))

	out := runGenerateConfig(t, dir)
	assert.Equal(t, "Config file already exists at "+configPath+". Skipping generation.\n", out)

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "poolSize = 9\n", string(content))
}

func TestGenerateConfigCreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "conf")
	runGenerateConfig(t, dir)

	_, err := os.Stat(filepath.Join(dir, "config.toml"))
	assert.NoError(t, err)
}
