package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>...",
		Aliases: []string{"uninstall"},
		Short:   "Remove installed binaries",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, cleanup, err := newManager()
			if err != nil {
				return err
			}
			defer cleanup()

			var failed int
			for _, name := range args {
				if err := mgr.Remove(cmd.Context(), name); err != nil {
					fmt.Printf("%s %s: %v\n", red("✗"), bold(name), err)
					failed++
					continue
				}
				fmt.Printf("%s %s removed\n", green("✓"), bold(name))
			}

			if failed > 0 {
				return fmt.Errorf("failed to remove %d package(s)", failed)
			}
			return nil
		},
	}
}
