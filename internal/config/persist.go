// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// persistMu ensures only one goroutine writes to config.toml at a time.
var persistMu sync.Mutex

// PersistSettings atomically rewrites the given keys in config.toml,
// preserving every other line and all comments. Keys absent from the file
// are appended. Values must be strings, bools or ints.
func (c *AppConfig) PersistSettings(settings map[string]any) error {
	persistMu.Lock()
	defer persistMu.Unlock()

	configPath := c.viper.ConfigFileUsed()
	if configPath == "" {
		return errors.New("no config file path available")
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	updated := updateSettingsInTOML(string(content), settings)

	// Atomic write: temp file + fsync + rename.
	dir := filepath.Dir(configPath)
	tmpFile, err := os.CreateTemp(dir, ".config.toml.tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.WriteString(updated); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// PersistLogSettings updates only the log-related keys in config.toml.
func (c *AppConfig) PersistLogSettings(level, path string, maxSize, maxBackups int) error {
	return c.PersistSettings(map[string]any{
		"logLevel":      level,
		"logPath":       path,
		"logMaxSize":    maxSize,
		"logMaxBackups": maxBackups,
	})
}

// updateSettingsInTOML rewrites the given keys in a TOML string, comments
// and unrelated lines untouched.
func updateSettingsInTOML(content string, settings map[string]any) string {
	// Lowercased key -> canonical key, so matching is case-insensitive.
	byLower := make(map[string]string, len(settings))
	for key := range settings {
		byLower[strings.ToLower(key)] = key
	}

	lines := strings.Split(content, "\n")
	result := make([]string, 0, len(lines))
	written := make(map[string]bool, len(settings))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			// A commented-out default for one of our keys gets replaced
			// in place rather than appended at the bottom.
			if key, ok := byLower[strings.ToLower(extractKey(trimmed))]; ok && !written[key] {
				result = append(result, formatTOMLLine(key, settings[key]))
				written[key] = true
				continue
			}
			result = append(result, line)
			continue
		}

		if key, ok := byLower[strings.ToLower(extractKey(trimmed))]; ok {
			result = append(result, formatTOMLLine(key, settings[key]))
			written[key] = true
			continue
		}
		result = append(result, line)
	}

	// Append whatever the file never mentioned, in stable order.
	var missing []string
	for key := range settings {
		if !written[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		result = append(result, "")
		for _, key := range missing {
			result = append(result, formatTOMLLine(key, settings[key]))
		}
	}

	return strings.Join(result, "\n")
}

func formatTOMLLine(key string, value any) string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return fmt.Sprintf("#%s = %q", key, v)
		}
		return fmt.Sprintf("%s = %q", key, v)
	case bool:
		return fmt.Sprintf("%s = %t", key, v)
	case int:
		return fmt.Sprintf("%s = %d", key, v)
	case int64:
		return fmt.Sprintf("%s = %d", key, v)
	default:
		return fmt.Sprintf("%s = %v", key, v)
	}
}

// extractKey extracts the key name from a TOML line like "key = value",
// commented lines included.
func extractKey(line string) string {
	line = strings.TrimPrefix(line, "#")
	line = strings.TrimSpace(line)

	key, _, found := strings.Cut(line, "=")
	if !found {
		return ""
	}
	return strings.TrimSpace(key)
}
