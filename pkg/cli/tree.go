package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/lockfile"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

// NewTreeCommand creates the "tree" command: print the dependency tree
// recorded in agpm.lock's depends_on edges.
func NewTreeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the dependency tree recorded in agpm.lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject("")
			if err != nil {
				return err
			}
			lf, err := p.loadLockfile()
			if err != nil {
				return fmt.Errorf("cli: no lockfile to walk, run \"agpm install\" first: %w", err)
			}

			byId := make(map[string]lockfile.Resource, len(lf.Resources))
			childOf := make(map[string]bool)
			for _, r := range lf.Resources {
				byId[resourceId(r).String()] = r
			}
			for _, r := range lf.Resources {
				for _, dep := range r.DependsOn {
					childOf[dep.String()] = true
				}
			}

			for _, r := range lf.Resources {
				id := resourceId(r)
				if childOf[id.String()] {
					continue // printed as a child of its parent below
				}
				printTree(r, byId, 0, make(map[string]bool))
			}
			return nil
		},
	}
	return cmd
}

func resourceId(r lockfile.Resource) resource.Id {
	return resource.Id{Name: r.Name, SourceURL: r.SourceURL, Tool: r.Tool, Type: r.Type, VariantKey: r.VariantKey}
}

func printTree(r lockfile.Resource, byId map[string]lockfile.Resource, depth int, visiting map[string]bool) {
	key := resourceId(r).String()
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	alias := r.ManifestAlias
	if alias == "" {
		alias = r.Name
	}
	fmt.Printf("%s%s (%s)\n", indent, alias, r.Type)

	if visiting[key] {
		fmt.Printf("%s  ... (cycle)\n", indent)
		return
	}
	visiting[key] = true
	for _, dep := range r.DependsOn {
		child, ok := byId[dep.String()]
		if !ok {
			continue
		}
		printTree(child, byId, depth+1, visiting)
	}
	delete(visiting, key)
}
