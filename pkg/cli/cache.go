package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/agpmenv"
)

// NewCacheCommand creates the "cache" command group for inspecting and
// clearing the shared Git cache (pkg/gitcache).
func NewCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the shared Git clone/worktree cache",
	}
	cmd.AddCommand(newCachePathCommand())
	cmd.AddCommand(newCacheCleanCommand())
	return cmd
}

func newCachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := agpmenv.DefaultCacheDir()
			if err != nil {
				return err
			}
			fmt.Println(dir)
			return nil
		},
	}
}

func newCacheCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove every bare clone and worktree from the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := agpmenv.DefaultCacheDir()
			if err != nil {
				return err
			}
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("cli: clean cache: %w", err)
			}
			printSuccess("removed %s", dir)
			return nil
		},
	}
}
