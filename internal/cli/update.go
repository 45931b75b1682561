package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update [name]...",
		Short: "Update installed binaries to their newest versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, cleanup, err := newManager()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			stop := withSpinner(ctx, "Checking for updates...")
			updated, err := mgr.Update(ctx, args)
			stop()

			for _, u := range updated {
				fmt.Printf("%s %s %s\n", green("✓"), bold(u.Name),
					yellow(fmt.Sprintf("%s → %s", u.From, u.To)))
			}
			if len(updated) == 0 && err == nil {
				fmt.Printf("%s Everything up to date\n", dim("○"))
			}

			if err != nil {
				fmt.Printf("%s %v\n", red("✗"), err)
				return fmt.Errorf("update finished with errors")
			}
			return nil
		},
	}
}
