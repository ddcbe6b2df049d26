package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/agpmenv"
	"github.com/aig787/agpm-sub009/pkg/console"
	"github.com/aig787/agpm-sub009/pkg/gitcache"
)

// outdatedEntry reports one locked resource whose source has moved past the
// commit recorded in agpm.lock under the same version constraint.
type outdatedEntry struct {
	Alias   string `json:"alias" console:"header:Alias"`
	Type    string `json:"type" console:"header:Type"`
	Version string `json:"version" console:"header:Version"`
	Locked  string `json:"locked_commit" console:"header:Locked"`
	Latest  string `json:"latest_commit" console:"header:Latest"`
}

// NewOutdatedCommand creates the "outdated" command: re-resolve each locked
// source's version constraint against current remote tags/refs and report
// any whose result no longer matches the locked commit.
func NewOutdatedCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "outdated",
		Short: "Report locked resources whose source has a newer matching commit",
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
				return fmt.Errorf("cli: no lockfile to check, run \"agpm install\" first: %w", err)
			}

			cacheDir, err := agpmenv.DefaultCacheDir()
			if err != nil {
				return err
			}
			cache := gitcache.New(cacheDir)

			var entries []outdatedEntry
			for _, r := range lf.Resources {
				if r.SourceURL == "" || r.Commit == "" {
					continue // local, source-less dependency: nothing to check
				}
				latest, err := cache.ResolveVersion(cmd.Context(), r.SourceURL, gitcache.Spec{Version: r.Version})
				if err != nil {
					fmt.Println(formatWarning(r.Name, err.Error()))
					continue
				}
				if latest == r.Commit {
					continue
				}
				alias := r.ManifestAlias
				if alias == "" {
					alias = r.Name
				}
				entries = append(entries, outdatedEntry{
					Alias: alias, Type: string(r.Type), Version: r.Version,
					Locked: r.Commit, Latest: latest,
				})
			}

			if isJSON(format) {
				return console.OutputStructOrJSON(entries, true)
			}
			if len(entries) == 0 {
				printSuccess("everything is up to date")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Alias, e.Type, e.Version, e.Locked, e.Latest})
			}
			fmt.Println(console.RenderTable(console.TableConfig{
				Headers: []string{"Alias", "Type", "Version", "Locked", "Latest"},
				Rows:    rows,
			}))
			return nil
		},
	}

	addFormatFlag(cmd, &format)
	return cmd
}
