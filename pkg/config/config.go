// Package config defines the daemon's configuration file: the backup source
// list, the SMB share the backups are mirrored to, and the daemon's runtime
// settings. The file is plain JSON so the dashboard front end can round-trip it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "homeroute-backup.config.json"

// ShareConfig describes the remote SMB share that receives the mirrored trees.
type ShareConfig struct {
	// Remote is the UNC-style share location, e.g. "//nas.local/backups".
	Remote string `json:"remote"`
	// Username may be empty, in which case the share is mounted in guest mode.
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config is the root configuration document.
type Config struct {
	// Sources is the ordered list of absolute local paths mirrored per run.
	Sources []string `json:"sources"`

	Share ShareConfig `json:"share"`

	// MountPoint is the local directory the share is mounted on.
	MountPoint string `json:"mountPoint"`

	// HistoryPath is the JSON file holding the bounded run history.
	HistoryPath string `json:"historyPath"`

	// Schedule is an optional cron expression for unattended runs. Empty
	// disables scheduling.
	Schedule string `json:"schedule"`

	// Listen is the HTTP listen address for the API.
	Listen string `json:"listen"`

	LogLevel string `json:"logLevel"`
}

// Default returns the configuration used when no file exists yet.
func Default() Config {
	return Config{
		Sources:     []string{},
		MountPoint:  "/mnt/homeroute-backup",
		HistoryPath: "/var/lib/homeroute/backup-history.json",
		Listen:      "127.0.0.1:8418",
		LogLevel:    "info",
	}
}

// Store manages the configuration file on disk. Reads and writes are
// serialized so the set-sources endpoint cannot interleave with a run
// loading the source list.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  Config
}

// Load reads the configuration file at path, falling back to defaults when
// the file does not exist. A malformed file is an error: silently reverting
// an operator's share credentials to defaults would be worse than refusing
// to start.
func Load(path string) (*Store, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("could not read config file %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
	}

	s := &Store{path: path, cfg: cfg}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the fields a run depends on.
func (c *Config) Validate() error {
	for _, src := range c.Sources {
		if !filepath.IsAbs(src) {
			return fmt.Errorf("source path must be absolute: %q", src)
		}
	}
	if c.MountPoint != "" && !filepath.IsAbs(c.MountPoint) {
		return fmt.Errorf("mount point must be absolute: %q", c.MountPoint)
	}
	if c.Share.Remote != "" && !strings.HasPrefix(c.Share.Remote, "//") {
		return fmt.Errorf("share remote must be of the form //host/share, got %q", c.Share.Remote)
	}
	return nil
}

// Current returns a copy of the configuration.
func (s *Store) Current() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	cfg.Sources = append([]string(nil), s.cfg.Sources...)
	return cfg
}

// Sources returns a copy of the configured source list.
func (s *Store) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cfg.Sources...)
}

// MountPoint returns the configured mount point.
func (s *Store) MountPoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MountPoint
}

// SetSources replaces the source list and persists the file atomically.
func (s *Store) SetSources(sources []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	next.Sources = append([]string(nil), sources...)
	if err := next.Validate(); err != nil {
		return err
	}

	if err := writeFileAtomic(s.path, next); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// writeFileAtomic writes the config as indented JSON via a temp file and
// rename, so a crash mid-write never truncates the operator's config.
func writeFileAtomic(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".~"+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("could not create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("could not write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not close temp config file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not replace config file %s: %w", path, err)
	}
	return nil
}
