package commands

import (
	"fmt"

	"github.com/weavel-fastllm/fastllm/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(branch, manifestPath, dbPath, gateway string) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	white := "\033[37m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                         ║\n")
	fmt.Printf("   ║           %s%sf  a  s  t  l  l  m%s           ║\n", white, bold, reset+cyan+bold)
	fmt.Printf("   ║        local prompt module engine       ║\n")
	fmt.Printf("   ║                                         ║\n")
	fmt.Printf("   ╚═════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ fastllm ───────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Branch:    %s\n", green, reset, branch)
	fmt.Printf("%s│%s Manifest:  %s\n", green, reset, manifestPath)
	fmt.Printf("%s│%s Database:  %s\n", green, reset, dbPath)
	if gateway != "" {
		fmt.Printf("%s│%s Gateway:   %s\n", green, reset, gateway)
	} else {
		fmt.Printf("%s│%s Gateway:   offline (backend sync disabled)\n", green, reset)
	}
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ Save the manifest and the engine reloads live%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
