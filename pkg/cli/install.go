package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/installer"
)

// sharedInstallFlags are read by install, update and upgrade, which all
// funnel through project.install.
type sharedInstallFlags struct {
	maxParallel int
	dryRun      bool
	strict      bool
}

func addSharedInstallFlags(cmd *cobra.Command, f *sharedInstallFlags) {
	cmd.Flags().IntVar(&f.maxParallel, "max-parallel", 0, "Bound concurrent resource materialization (default: CPU count)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Report what would change without writing anything")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Fail instead of warning when an installed path isn't gitignored")
}

func (f *sharedInstallFlags) options() installer.Options {
	return installer.Options{MaxParallel: f.maxParallel, Strict: f.strict}
}

// NewInstallCommand creates the "install" command: resolve the manifest and
// materialize every resource, writing agpm.lock.
func NewInstallCommand() *cobra.Command {
	var flags sharedInstallFlags

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Resolve the manifest and install every resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject("")
			if err != nil {
				return err
			}

			result, err := p.install(cmd.Context(), flags.options(), flags.dryRun)
			if err != nil {
				return err
			}

			for _, w := range result.Warnings {
				fmt.Println(formatWarning(w.File, w.Message))
			}
			if flags.dryRun {
				printInfo("dry run: would install %d resource(s)", len(result.Lockfile.Resources))
				return nil
			}
			printSuccess("installed %d resource(s)", len(result.Lockfile.Resources))
			for _, removed := range result.Removed {
				printInfo("removed orphaned file %s", removed)
			}
			return nil
		},
	}

	addSharedInstallFlags(cmd, &flags)
	return cmd
}
