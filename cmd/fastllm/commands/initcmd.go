package commands

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/weavel-fastllm/fastllm/conf"
	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/manifest"
)

// InitCmd scaffolds a fastllm project in the current directory.
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a fastllm project in the current directory",
	Long: `Write the project config under ` + conf.ConfigDirName + `/ and a starter manifest.

The dev branch name is taken from the current git branch when the directory
is a repository. Existing files are never overwritten; rerunning init on an
initialized project only refreshes the branch record.`,
	RunE: runInit,
}

const starterManifest = `# fastllm module declarations.
# Each [[module]] block declares one prompt module. [[sample]] blocks declare
# named inputs the platform can run modules against. Prompt content may also
# live in separate files via content_file; those files reload live too.

[[module]]
name = "summarizer"
model = "gpt-4o-mini"

[[module.prompt]]
role = "system"
content = "You are a concise technical summarizer."

[[module.prompt]]
role = "user"
content = "Summarize the following text:\n{text}"

[[sample]]
name = "short_article"

[sample.input]
text = "fastllm keeps locally declared prompt modules in sync with the platform."
`

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := conf.Load(rootConfigPath)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	branch := cfg.DevBranch.Name
	if branch == "" {
		branch = conf.DetectBranch(".")
	}
	if err := cfg.SaveBranchInit(branch); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	pterm.Success.Printf("Wrote %s (dev branch %q)\n", cfg.Path(), branch)

	if _, err := os.Stat(manifest.DefaultPath); err == nil {
		pterm.Info.Printf("Manifest %s already exists, leaving it alone\n", manifest.DefaultPath)
	} else if os.IsNotExist(err) {
		if err := os.WriteFile(manifest.DefaultPath, []byte(starterManifest), conf.DefaultFilePermissions); err != nil {
			return errors.Wrap(err, "failed to write starter manifest")
		}
		pterm.Success.Printf("Wrote starter manifest %s\n", manifest.DefaultPath)
	} else {
		return errors.Wrap(err, "failed to check manifest")
	}

	pterm.Info.Println("Next steps:")
	pterm.Info.Println("  1. Set FASTLLM_LLM_API_KEY for your provider")
	pterm.Info.Println("  2. Set FASTLLM_PROJECT_UUID and FASTLLM_PROJECT_API_KEY to sync with the platform")
	pterm.Info.Println("  3. Run: fastllm dev")
	return nil
}
