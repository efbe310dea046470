package conf

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/weavel-fastllm/fastllm/errors"
)

var (
	ownWriteMu     sync.Mutex
	ownWriteMarker func()
)

// SetOwnWriteMarker installs a callback invoked before every config write.
// The engine points it at the file watcher so config self-writes do not
// trigger reload loops.
func SetOwnWriteMarker(marker func()) {
	ownWriteMu.Lock()
	ownWriteMarker = marker
	ownWriteMu.Unlock()
}

// SaveProjectVersion records the reconciled project version.
func (c *Config) SaveProjectVersion(version string) error {
	c.DevBranch.ProjectVersion = version
	return c.save()
}

// SaveOnline records the sync channel's connection state.
func (c *Config) SaveOnline(online bool) error {
	c.DevBranch.Online = online
	return c.save()
}

// SaveBranchInit records a completed branch initialization.
func (c *Config) SaveBranchInit(name string) error {
	c.DevBranch.Name = name
	c.DevBranch.Initialized = true
	return c.save()
}

// save writes the whole config to its path, rotating backups first.
func (c *Config) save() error {
	if c.path == "" {
		return errors.New("config has no path to save to")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	if err := createBackup(c.path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	ownWriteMu.Lock()
	if ownWriteMarker != nil {
		ownWriteMarker()
	}
	ownWriteMu.Unlock()

	if err := os.WriteFile(c.path, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before
// modifying the config file.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate: .back3 -> delete, .back2 -> .back3, .back1 -> .back2,
	// current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete oldest backup")
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}
