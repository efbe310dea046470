package conf

import "github.com/weavel-fastllm/fastllm/errors"

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	// Rate limit: 0 = unlimited, negative = invalid
	if c.LLM.RequestsPerMinute < 0 {
		return errors.Newf("llm.requests_per_minute must be >= 0, got %d", c.LLM.RequestsPerMinute)
	}

	// Provider: empty falls back to the default at client construction
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		return errors.Newf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}

	if c.Dev.ManifestPath == "" {
		return errors.New("dev.manifest_path cannot be empty")
	}
	if c.Dev.DBPath == "" {
		return errors.New("dev.db_path cannot be empty")
	}

	if c.DevBranch.Initialized && c.DevBranch.Name == "" {
		return errors.New("dev_branch.name cannot be empty once initialized")
	}

	// Backend credentials travel as a pair; half a pair is a typo, not
	// offline mode
	if (c.Project.UUID == "") != (c.Project.APIKey == "") {
		return errors.New("project.uuid and project.api_key must be set together")
	}

	return nil
}
