// Package conf owns the fastllm configuration lifecycle: load order
// (defaults, then the project config file, then environment), and the
// defined save transitions that write it back.
package conf

import "path/filepath"

// Config is the full fastllm configuration.
type Config struct {
	Project   ProjectConfig   `mapstructure:"project" toml:"project"`
	DevBranch DevBranchConfig `mapstructure:"dev_branch" toml:"dev_branch"`
	LLM       LLMConfig       `mapstructure:"llm" toml:"llm"`
	Dev       DevConfig       `mapstructure:"dev" toml:"dev"`

	// path is where this config was loaded from and where saves go.
	path string
}

// ProjectConfig identifies the remote project and how to reach it.
type ProjectConfig struct {
	UUID       string `mapstructure:"uuid" toml:"uuid"`
	APIBaseURL string `mapstructure:"api_base_url" toml:"api_base_url"`
	WebBaseURL string `mapstructure:"web_base_url" toml:"web_base_url"`
	APIKey     string `mapstructure:"api_key" toml:"api_key"`
}

// DevBranchConfig is the state of the local development branch. Its fields
// change only at the defined save transitions in persist.go.
type DevBranchConfig struct {
	Name           string `mapstructure:"name" toml:"name"`
	ProjectVersion string `mapstructure:"project_version" toml:"project_version"`
	Initialized    bool   `mapstructure:"initialized" toml:"initialized"`
	Online         bool   `mapstructure:"online" toml:"online"`
}

// LLMConfig configures the provider used to execute runs.
type LLMConfig struct {
	Provider          string `mapstructure:"provider" toml:"provider"`
	APIKey            string `mapstructure:"api_key" toml:"api_key"`
	BaseURL           string `mapstructure:"base_url" toml:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" toml:"requests_per_minute"` // 0 = unlimited
}

// DevConfig configures the local development engine.
type DevConfig struct {
	ManifestPath string `mapstructure:"manifest_path" toml:"manifest_path"`
	DBPath       string `mapstructure:"db_path" toml:"db_path"`
	LogVerbose   bool   `mapstructure:"log_verbose" toml:"log_verbose"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// ConfigDirName is the per-project directory holding config and cache.
const ConfigDirName = ".fastllm"

// DefaultConfigPath returns the project-local config file path.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDirName, "config.toml")
}

// Path returns where this config was loaded from and where saves go.
func (c *Config) Path() string {
	return c.path
}
