// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and persists the application configuration from
// config.toml, with environment-variable overrides under SEKOLAHDESK__.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "SEKOLAHDESK__"

// Config is the materialized configuration.
type Config struct {
	// DataDir holds the database file and its backups. Empty means the
	// config directory.
	DataDir      string `mapstructure:"dataDir"`
	DatabaseFile string `mapstructure:"databaseFile"`

	// PoolSize is the read-only connection pool size.
	PoolSize int `mapstructure:"poolSize"`

	// SeedSampleData populates a fresh database with sample rows on
	// first launch.
	SeedSampleData bool `mapstructure:"seedSampleData"`

	// Reference-table cleanup toggles for the maintenance pass.
	CleanupSubjects bool `mapstructure:"cleanupSubjects"`
	CleanupRoles    bool `mapstructure:"cleanupRoles"`
	CleanupClasses  bool `mapstructure:"cleanupClasses"`

	// MaintenanceIntervalHours separates periodic checkpoint/cleanup runs.
	MaintenanceIntervalHours int `mapstructure:"maintenanceIntervalHours"`

	// BackupDir receives dated database copies; empty disables backups.
	BackupDir             string `mapstructure:"backupDir"`
	BackupRetentionMonths int    `mapstructure:"backupRetentionMonths"`

	// ImageCacheMB bounds the in-memory photo cache.
	ImageCacheMB int `mapstructure:"imageCacheMB"`

	// MetricsEnabled exposes Prometheus metrics on MetricsHost:MetricsPort.
	MetricsEnabled bool   `mapstructure:"metricsEnabled"`
	MetricsHost    string `mapstructure:"metricsHost"`
	MetricsPort    int    `mapstructure:"metricsPort"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`
}

// AppConfig wraps the parsed Config together with its viper instance so
// settings can be re-read and persisted at runtime.
type AppConfig struct {
	Config *Config

	viper      *viper.Viper
	configMu   sync.Mutex
	logManager *LogManager
}

// New loads the configuration from configPath (a directory holding
// config.toml, or a path to the file itself), creating a default file
// when none exists.
func New(configPath, version string) (*AppConfig, error) {
	c := &AppConfig{
		Config:     &Config{},
		viper:      viper.New(),
		logManager: NewLogManager(version),
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	c.logManager.Initialize()
	if err := c.ApplyLogConfig(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("databaseFile", "sekolahdesk.db")
	c.viper.SetDefault("poolSize", 4)
	c.viper.SetDefault("seedSampleData", true)
	c.viper.SetDefault("cleanupSubjects", true)
	c.viper.SetDefault("cleanupRoles", true)
	c.viper.SetDefault("cleanupClasses", false)
	c.viper.SetDefault("maintenanceIntervalHours", 24)
	c.viper.SetDefault("backupDir", "")
	c.viper.SetDefault("backupRetentionMonths", 6)
	c.viper.SetDefault("imageCacheMB", 50)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9776)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")

	if configPath != "" {
		if strings.HasSuffix(configPath, ".toml") {
			c.viper.SetConfigFile(configPath)
		} else {
			c.viper.SetConfigFile(filepath.Join(configPath, "config.toml"))
		}
	} else {
		c.viper.SetConfigFile(filepath.Join(GetDefaultConfigDir(), "config.toml"))
	}

	if _, err := os.Stat(c.viper.ConfigFileUsed()); os.IsNotExist(err) {
		if err := WriteDefaultConfig(c.viper.ConfigFileUsed()); err != nil {
			return err
		}
	}

	for _, key := range c.viper.AllKeys() {
		env := envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := c.viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	c.watchConfig()
	return nil
}

// watchConfig re-reads config.toml when it changes on disk and reapplies
// the log settings. Database-level settings need a restart.
func (c *AppConfig) watchConfig() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		c.configMu.Lock()
		defer c.configMu.Unlock()

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("failed to reload config")
			return
		}
		if err := c.ApplyLogConfig(); err != nil {
			log.Error().Err(err).Msg("failed to apply reloaded log settings")
			return
		}
		log.Debug().Str("file", e.Name).Msg("config reloaded")
	})
	c.viper.WatchConfig()
}

// RecentLogs returns the newest n log lines from the in-memory ring, for
// the diagnostics panel.
func (c *AppConfig) RecentLogs(n int) []string {
	return c.logManager.RecentLogs(n)
}

// ApplyLogConfig pushes the current log settings to the log manager.
func (c *AppConfig) ApplyLogConfig() error {
	return c.logManager.Apply(
		c.Config.LogLevel,
		c.ResolveLogPath(c.Config.LogPath),
		c.Config.LogMaxSize,
		c.Config.LogMaxBackups,
	)
}

// ConfigDir is the directory holding config.toml.
func (c *AppConfig) ConfigDir() string {
	return filepath.Dir(c.viper.ConfigFileUsed())
}

// DataDir resolves the directory holding the database file.
func (c *AppConfig) DataDir() string {
	if c.Config.DataDir != "" {
		return c.Config.DataDir
	}
	return c.ConfigDir()
}

// DatabasePath resolves the full path of the database file.
func (c *AppConfig) DatabasePath() string {
	file := c.Config.DatabaseFile
	if file == "" {
		file = "sekolahdesk.db"
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(c.DataDir(), file)
}

// BackupDir resolves the backup directory, empty when backups are off.
func (c *AppConfig) BackupDir() string {
	dir := c.Config.BackupDir
	if dir == "" {
		return ""
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.DataDir(), dir)
}

// ResolveLogPath makes a relative log path absolute against the config
// directory. Empty stays empty (console-only logging).
func (c *AppConfig) ResolveLogPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ConfigDir(), path)
}

// GetDefaultConfigDir picks the platform config directory:
// $XDG_CONFIG_HOME/sekolahdesk, %APPDATA%\sekolahdesk on Windows, or
// ~/.config/sekolahdesk. A bare /config (container convention) is used
// as-is.
func GetDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "sekolahdesk")
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "sekolahdesk")
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sekolahdesk")
}

// WriteDefaultConfig creates a commented config.toml at path. Existing
// files are left untouched.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	log.Info().Str("path", path).Msg("wrote default config file")
	return nil
}

const defaultConfigTemplate = `# config.toml - Auto-generated

# Directory holding the database file and backups.
# Default: the config directory
#dataDir = ""

# Database file name, relative to dataDir unless absolute.
#databaseFile = "sekolahdesk.db"

# Read-only connection pool size.
#poolSize = 4

# Populate a fresh database with sample rows on first launch.
#seedSampleData = true

# Remove unreferenced subjects/roles/classes during maintenance.
#cleanupSubjects = true
#cleanupRoles = true
#cleanupClasses = false

# Hours between maintenance runs (checkpoint, cleanup).
#maintenanceIntervalHours = 24

# Dated database copies. Empty disables backups.
#backupDir = ""
#backupRetentionMonths = 6

# In-memory photo cache budget, megabytes.
#imageCacheMB = 50

# Prometheus metrics endpoint.
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9776

# Log settings
# Options: "TRACE", "DEBUG", "INFO", "WARN", "ERROR"
logLevel = "INFO"

# Log file, relative to the config directory unless absolute.
# Empty logs to the console only.
#logPath = "log/sekolahdesk.log"

#logMaxSize = 50
#logMaxBackups = 3
`
