// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with DOCMODEL, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("DOCMODEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/docmodel", "$HOME/.docmodel", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	return &cobra.Command{
		Use:   "docmodel",
		Short: "Boot document models against a MongoDB compatible store",
		Long: `Boot document models against a MongoDB compatible store.

docmodel opens a connection to the configured datastore, creates the collection of every
configured model that does not exist yet and reports what it found.`,
		SilenceUsage: true,
	}
}
