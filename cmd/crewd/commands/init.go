package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/config"
)

// newInitCmd creates the `crewd init` command. It is gate-exempt so a new
// user can bootstrap the state dir and see what to enable next.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the state directory and a starter config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
				return fmt.Errorf("create state dir: %w", err)
			}

			path, _ := cmd.Flags().GetString("config")
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := cfg.Save(path); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}

			fmt.Printf("state dir: %s\n", cfg.StateDir)
			if err := config.CheckGates(); err != nil {
				fmt.Printf("next: set %s=1 and %s=1 (for example in .env)\n",
					config.EnvEnabled, config.EnvFleetOK)
			}
			return nil
		},
	}
}
