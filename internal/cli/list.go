package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, cleanup, err := newManager()
			if err != nil {
				return err
			}
			defer cleanup()

			installed, err := mgr.List()
			if err != nil {
				return err
			}
			if len(installed) == 0 {
				fmt.Printf("\n%s Nothing installed\n", dim("○"))
				return nil
			}

			names := make([]string, 0, len(installed))
			for name := range installed {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("Installed binaries:\n\n")
			for _, name := range names {
				entry := installed[name]
				line := fmt.Sprintf(" %s  %s",
					bold(fmt.Sprintf("%s-%s", name, entry.Source.Version)),
					dim(string(entry.Source.Type)))
				if entry.Runtime != nil {
					line += fmt.Sprintf("  %s", dim(entry.Runtime.Type+" "+entry.Runtime.Version))
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
