package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyflect/keyflect/internal/config"
)

// newValidateCommand builds a config file, key names and layer references
// included, without touching any device. No root, uinput, or input-group
// privileges are needed, so it doubles as the fast feedback loop for a
// config someone is editing by hand.
func newValidateCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path, _ = cmd.Flags().GetString("config")
			}
			if path == "" {
				return fmt.Errorf("validate requires --config or --file")
			}

			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}

			resolved, err := config.Build(cfg)
			if err != nil {
				return err
			}

			fmt.Printf("config OK: %d keyboard profile(s), %d layer(s), no_emit=%v, default hrm_term=%s\n",
				len(resolved.Profiles), len(cfg.Layers), resolved.NoEmit, resolved.DefaultHRMTerm)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "file", "", "path to the config file to validate (defaults to --config)")

	return cmd
}
