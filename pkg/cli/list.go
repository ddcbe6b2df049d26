package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/console"
)

// NewListCommand creates the "list" command: print every resource recorded
// in agpm.lock.
func NewListCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every resource recorded in agpm.lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			p, err := loadProject("")
			if err != nil {
				return err
			}
			lf, err := p.loadLockfile()
			if err != nil {
				return fmt.Errorf("cli: no lockfile to list, run \"agpm install\" first: %w", err)
			}

			if isJSON(format) {
				return console.OutputStructOrJSON(lf.Resources, true)
			}

			rows := make([][]string, 0, len(lf.Resources))
			for _, r := range lf.Resources {
				installed := "no"
				if r.Install {
					installed = "yes"
				}
				alias := r.ManifestAlias
				if alias == "" {
					alias = r.Name
				}
				rows = append(rows, []string{
					string(r.Type), alias, string(r.Tool), r.Version, installed, r.InstalledAt,
				})
			}
			fmt.Println(console.RenderTable(console.TableConfig{
				Headers: []string{"Type", "Alias", "Tool", "Version", "Installed", "Path"},
				Rows:    rows,
			}))
			return nil
		},
	}

	addFormatFlag(cmd, &format)
	return cmd
}
