// Package config loads CLI settings from, in rising precedence, built-in
// defaults, a YAML config file, a .env file, and CREWSYNC_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is everything the CLI and the watch daemon need to run.
type Settings struct {
	Remote struct {
		// URL is the libsql database URL.
		URL   string `mapstructure:"url"`
		Token string `mapstructure:"token"`
	} `mapstructure:"remote"`

	Stream struct {
		// URL overrides the change-stream endpoint. Empty derives it
		// from the remote URL.
		URL string `mapstructure:"url"`
	} `mapstructure:"stream"`

	Data struct {
		// Dir holds the snapshot cache and the session file.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"data"`

	Firebase struct {
		// Credentials is a service-account JSON path. Empty disables
		// push notifications.
		Credentials string `mapstructure:"credentials"`
	} `mapstructure:"firebase"`

	Proof struct {
		// Endpoint receives completion photos. Empty disables uploads.
		Endpoint string `mapstructure:"endpoint"`
		Token    string `mapstructure:"token"`
	} `mapstructure:"proof"`

	Points struct {
		PerCompletion int `mapstructure:"per_completion"`
	} `mapstructure:"points"`

	Log struct {
		// File is the daemon log path. Empty means <data.dir>/crewsync.log.
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
}

// DefaultDir returns the default data directory, ~/.crewsync.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crewsync"
	}
	return filepath.Join(home, ".crewsync")
}

// Load reads settings. path names an explicit config file; empty means
// look for config.yaml in the data dir and the working directory.
func Load(path string) (*Settings, error) {
	// A .env beside the working directory fills the environment first.
	// Missing is fine; malformed is not.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CREWSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so environment overrides reach
	// Unmarshal.
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("stream.url", "")
	v.SetDefault("data.dir", DefaultDir())
	v.SetDefault("firebase.credentials", "")
	v.SetDefault("proof.endpoint", "")
	v.SetDefault("proof.token", "")
	v.SetDefault("points.per_completion", 10)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if s.Data.Dir == "" {
		s.Data.Dir = DefaultDir()
	}
	return &s, nil
}

// SessionPath is where the signed-in session lives.
func (s *Settings) SessionPath() string {
	return filepath.Join(s.Data.Dir, "session.yaml")
}

// CachePath is where the snapshot cache lives.
func (s *Settings) CachePath() string {
	return filepath.Join(s.Data.Dir, "cache.db")
}

// LogPath is where the watch daemon writes its log.
func (s *Settings) LogPath() string {
	if s.Log.File != "" {
		return s.Log.File
	}
	return filepath.Join(s.Data.Dir, "crewsync.log")
}

// StreamBase returns the change-stream endpoint, deriving a websocket
// URL from the remote URL when none is configured.
func (s *Settings) StreamBase() string {
	if s.Stream.URL != "" {
		return s.Stream.URL
	}
	return deriveStreamURL(s.Remote.URL)
}

func deriveStreamURL(remoteURL string) string {
	switch {
	case strings.HasPrefix(remoteURL, "libsql://"):
		return "wss://" + strings.TrimPrefix(remoteURL, "libsql://")
	case strings.HasPrefix(remoteURL, "https://"):
		return "wss://" + strings.TrimPrefix(remoteURL, "https://")
	case strings.HasPrefix(remoteURL, "http://"):
		return "ws://" + strings.TrimPrefix(remoteURL, "http://")
	}
	return remoteURL
}
