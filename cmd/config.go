package cmd

import (
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/docmodel/docmodel/cmd/util"
)

// NewConfigCommand returns the command that prints the effective configuration.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective docmodel configuration",
		Long:  "Print the configuration docmodel resolves from config.yaml, environment variables and defaults, as YAML.",
		RunE:  printConfig,
		Args:  cobra.NoArgs,
	}

	return cmd
}

func printConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := util.ReadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Verify(); err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write(out)
	return err
}
