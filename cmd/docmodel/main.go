package main

import (
	"os"

	"github.com/docmodel/docmodel/cmd"
	"github.com/docmodel/docmodel/cmd/boot"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	rootCmd.AddCommand(boot.NewBootCommand())
	rootCmd.AddCommand(cmd.NewConfigCommand())
	rootCmd.AddCommand(cmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
