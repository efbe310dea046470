package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weavel-fastllm/fastllm/conf"
	"github.com/weavel-fastllm/fastllm/logger"
)

// RootCmd is the fastllm entry command.
var RootCmd = &cobra.Command{
	Use:   "fastllm",
	Short: "fastllm - local prompt module development engine",
	Long: `fastllm - develop LLM prompt modules locally, synced with the platform.

Declare prompt modules in fastllm.toml, run the development engine, and the
platform can list, run, and version them against your local copy while you
edit. Changes you save are picked up live; changes published remotely are
merged into the local cache.

Examples:
  fastllm init             # Scaffold config and a starter manifest
  fastllm dev              # Start the development engine
  fastllm dev --offline    # Local runs only, no backend connection
  fastllm version          # Show build information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// version only prints; it should not emit log lines
		if cmd.Name() == "version" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(verbosity > 0, false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

// rootConfigPath is the --config override shared by all commands.
var rootConfigPath string

func init() {
	RootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	RootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "",
		"Config file path (default "+conf.DefaultConfigPath()+")")

	RootCmd.AddCommand(DevCmd)
	RootCmd.AddCommand(InitCmd)
	RootCmd.AddCommand(VersionCmd)
}

// Execute runs the root command.
func Execute() error {
	defer logger.Cleanup()
	return RootCmd.Execute()
}
