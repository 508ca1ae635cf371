// Package config persists the one piece of engine state spec.md keeps on
// disk: the user's configured download directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const appDirName = "OpenStore"

// Settings is the on-disk shape of download_config.json.
type Settings struct {
	DownloadDirectory string `json:"download_directory"`
}

// Dir returns {user-config}/OpenStore, creating nothing.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		home, herr := os.UserHomeDir()
		if herr != nil {
			base = "."
		} else {
			base = home
		}
	}
	return filepath.Join(base, appDirName)
}

// EnsureDir creates the config directory if it does not already exist.
func EnsureDir() error {
	return os.MkdirAll(Dir(), 0755)
}

func configPath() string {
	return filepath.Join(Dir(), "download_config.json")
}

func lockPath() string {
	return filepath.Join(Dir(), "download_config.json.lock")
}

// Load reads download_config.json. A missing file or an unparsable file is
// not an error: it returns a zero-value Settings so callers can fall back
// to their own defaults, matching spec.md §4.7 ("on miss or parse error,
// returns the OS download directory, or ./downloads").
func Load() (*Settings, error) {
	data, err := os.ReadFile(configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return &Settings{}, nil
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return &Settings{}, nil
	}
	return &s, nil
}

// Save writes Settings atomically: temp file in the same directory,
// fsync, rename. A file lock guards against two processes racing a write,
// grounded on the same gofrs/flock approach the teacher uses for its
// single-instance process lock.
func (s *Settings) Save() error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	fl := flock.New(lockPath())
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock config file: %w", err)
	}
	defer fl.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := Dir()
	tmp, err := os.CreateTemp(dir, "download_config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp config file: %w", err)
	}
	return nil
}
