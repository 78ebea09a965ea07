package main

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/pliu/bizdir/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the client configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:         "show",
			Short:       "Print the effective configuration",
			Args:        cobra.NoArgs,
			Annotations: map[string]string{offline: "true"},
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := yaml.Marshal(a.cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "# %s\n%s", a.cfgPath, out)
				return nil
			},
		},
		&cobra.Command{
			Use:         "init",
			Short:       "Write the effective configuration to the config file",
			Args:        cobra.NoArgs,
			Annotations: map[string]string{offline: "true"},
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := config.SaveClient(a.cfg, a.cfgPath); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Wrote %s\n", a.cfgPath)
				return nil
			},
		},
	)
	return cmd
}
