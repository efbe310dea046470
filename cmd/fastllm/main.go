package main

import (
	"fmt"
	"os"

	"github.com/weavel-fastllm/fastllm/cmd/fastllm/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
