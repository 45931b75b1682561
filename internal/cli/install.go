package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	var assetPattern string
	var binName string

	cmd := &cobra.Command{
		Use:   "install <spec>...",
		Short: "Install packages (npm:pkg, crate:name, or owner/repo, each with optional @version)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, cleanup, err := newManager()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			var failed int

			for _, arg := range args {
				spec, err := parseSpec(arg, assetPattern, binName)
				if err != nil {
					fmt.Printf("%s %v\n", red("✗"), err)
					failed++
					continue
				}

				stop := withSpinner(ctx, fmt.Sprintf("Installing %s...", spec.Name))
				entry, err := mgr.Install(ctx, spec)
				stop()
				if err != nil {
					fmt.Printf("%s %s: %v\n", red("✗"), bold(spec.Name), err)
					failed++
					continue
				}

				fmt.Printf("%s %s%s%s\n  %s %s\n",
					green("✓"), bold(spec.Name), bold("-"), bold(entry.Source.Version),
					cyan("bin:"), filepath.Join(cfg.BinDir, entry.Binary))
				if entry.Runtime != nil {
					fmt.Printf("  %s %s %s\n", cyan("runtime:"), entry.Runtime.Type, entry.Runtime.Version)
				}
			}

			if failed > 0 {
				return fmt.Errorf("failed to install %d package(s)", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&assetPattern, "asset", "", "Release asset pattern (github sources)")
	cmd.Flags().StringVar(&binName, "bin", "", "Executable to select when a package ships several")
	return cmd
}
