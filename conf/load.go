package conf

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	"github.com/weavel-fastllm/fastllm/errors"
)

// Load reads configuration from the given path, layering defaults, the file
// (when it exists), and FASTLLM_ environment variables, in that precedence
// order. An empty path uses DefaultConfigPath. A missing file is not an
// error: first runs start from defaults and environment alone.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	v.SetEnvPrefix("FASTLLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindSensitiveEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.path = configPath
	return &config, nil
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Project defaults
	v.SetDefault("project.api_base_url", "https://api.fastllm.run")
	v.SetDefault("project.web_base_url", "https://app.fastllm.run")

	// Dev branch defaults
	v.SetDefault("dev_branch.project_version", "0.0.0")

	// LLM provider defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.requests_per_minute", 0) // 0 = unlimited

	// Local engine defaults
	v.SetDefault("dev.manifest_path", "fastllm.toml")
	v.SetDefault("dev.db_path", ConfigDirName+"/fastllm.db")
	v.SetDefault("dev.log_verbose", false)
}

// bindSensitiveEnvVars explicitly binds credentials to environment variables
// so they can be kept out of the config file entirely.
func bindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("project.api_key", "FASTLLM_PROJECT_API_KEY")
	v.BindEnv("project.uuid", "FASTLLM_PROJECT_UUID")
	v.BindEnv("llm.api_key", "FASTLLM_LLM_API_KEY")
}
