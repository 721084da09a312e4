package main

import (
	"fmt"

	"keepalive/internal/config"

	"github.com/spf13/cobra"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and generate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "example [path]",
		Short: "Write an example configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "keepalive.example.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.SaveExample(path); err != nil {
				return &codeError{code: exitError, err: err}
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Example configuration written to %s\n", path)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report whether it is valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return &codeError{code: exitError, err: err}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: probing %s on %q\n",
				cfg.Monitor.URL, cfg.Monitor.Schedule)
			return err
		},
	})

	return cmd
}
