package cli

import (
	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/manifest"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

// filterManifest returns a shallow copy of m restricted to the given
// top-level aliases (across every resource type). An empty names set
// returns m unchanged: "update" with no arguments behaves like "install".
func filterManifest(m *manifest.Manifest, names []string) *manifest.Manifest {
	if len(names) == 0 {
		return m
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	filtered := &manifest.Manifest{
		Sources:    m.Sources,
		Entries:    make(map[resource.Type]map[string]manifest.Spec),
		EntryOrder: make(map[resource.Type][]string),
		Project:    m.Project,
	}
	for typ, entries := range m.Entries {
		kept := make(map[string]manifest.Spec)
		var order []string
		for _, alias := range m.EntryOrder[typ] {
			if wanted[alias] {
				kept[alias] = entries[alias]
				order = append(order, alias)
			}
		}
		if len(kept) > 0 {
			filtered.Entries[typ] = kept
			filtered.EntryOrder[typ] = order
		}
	}
	return filtered
}

// NewUpdateCommand creates the "update" command: re-resolve and reinstall,
// optionally restricted to the named manifest aliases.
func NewUpdateCommand() *cobra.Command {
	var flags sharedInstallFlags

	cmd := &cobra.Command{
		Use:   "update [names...]",
		Short: "Re-resolve and reinstall, optionally restricted to named aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject("")
			if err != nil {
				return err
			}
			p.manifest = filterManifest(p.manifest, args)

			result, err := p.install(cmd.Context(), flags.options(), flags.dryRun)
			if err != nil {
				return err
			}
			printSuccess("updated %d resource(s)", len(result.Lockfile.Resources))
			return nil
		},
	}

	addSharedInstallFlags(cmd, &flags)
	return cmd
}

// NewUpgradeCommand creates the "upgrade" command: an unrestricted update.
// Today this is identical to a bare "update" with no name arguments, since
// neither command reads the prior lockfile back in as a pin source; the
// distinction will matter once update gains lockfile-aware incremental
// resolution (see DESIGN.md's known gaps).
func NewUpgradeCommand() *cobra.Command {
	var flags sharedInstallFlags

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Re-resolve every dependency against the newest matching versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject("")
			if err != nil {
				return err
			}

			result, err := p.install(cmd.Context(), flags.options(), flags.dryRun)
			if err != nil {
				return err
			}
			printSuccess("upgraded %d resource(s)", len(result.Lockfile.Resources))
			return nil
		},
	}

	addSharedInstallFlags(cmd, &flags)
	return cmd
}
