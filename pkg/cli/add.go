package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/constants"
	"github.com/aig787/agpm-sub009/pkg/fsutil"
	"github.com/aig787/agpm-sub009/pkg/repoutil"
	"github.com/aig787/agpm-sub009/pkg/resource"
	"github.com/aig787/agpm-sub009/pkg/stringutil"
)

// sectionFor maps a resource.Type to its agpm.toml table name (mirrors the
// unexported table shared by pkg/manifest's parser).
var sectionFor = map[resource.Type]string{
	resource.Agent:     "agents",
	resource.Snippet:   "snippets",
	resource.Command:   "commands",
	resource.Script:    "scripts",
	resource.Hook:      "hooks",
	resource.McpServer: "mcp-servers",
	resource.Skill:     "skills",
}

// resolveSourceShorthand expands a bare "owner/repo" --source value into a
// registered GitHub source, adding a [sources] entry to raw if one doesn't
// already exist for that repository. Anything that already names a
// [sources] table entry, or contains "://", passes through unchanged.
func resolveSourceShorthand(raw map[string]any, source string) string {
	sources, _ := raw["sources"].(map[string]any)
	if sources != nil {
		if _, ok := sources[source]; ok {
			return source
		}
	}
	if strings.Contains(source, "://") {
		return source
	}

	owner, repo, err := repoutil.SplitRepoSlug(source)
	if err != nil {
		return source // not an owner/repo shorthand either; leave as a plain source name
	}
	url := "https://github.com/" + owner + "/" + repo

	name := repo
	if sources == nil {
		sources = make(map[string]any)
	}
	if existing, ok := sources[name]; ok && existing != url {
		name = repoutil.SanitizeForFilename(owner + "/" + repo)
	}
	sources[name] = url
	raw["sources"] = sources
	return name
}

// NewAddCommand creates the "add" command: append one dependency entry to
// agpm.toml.
func NewAddCommand() *cobra.Command {
	var (
		source, version, branch, rev, tool, filename string
		noInstall                                     bool
	)

	cmd := &cobra.Command{
		Use:   "add <type> <alias> <path>",
		Short: "Add a dependency entry to agpm.toml",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := resource.Type(args[0])
			if !typ.Valid() {
				return fmt.Errorf("cli: unknown resource type %q", args[0])
			}
			alias, path := args[1], args[2]

			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			manifestPath := filepath.Join(wd, constants.ManifestFileName)

			raw := make(map[string]any)
			if data, err := os.ReadFile(manifestPath); err == nil {
				if err := toml.Unmarshal(data, &raw); err != nil {
					return fmt.Errorf("cli: parse %s: %w", constants.ManifestFileName, err)
				}
			} else if !os.IsNotExist(err) {
				return err
			}

			section := sectionFor[typ]
			table, _ := raw[section].(map[string]any)
			if table == nil {
				table = make(map[string]any)
			}
			if _, exists := table[alias]; exists {
				return fmt.Errorf("cli: %s.%s already exists in %s", section, alias, constants.ManifestFileName)
			}

			entry := map[string]any{"path": path}
			if source != "" {
				entry["source"] = resolveSourceShorthand(raw, source)
			}
			if version != "" {
				entry["version"] = version
			}
			if branch != "" {
				entry["branch"] = branch
			}
			if rev != "" {
				entry["rev"] = rev
			}
			if tool != "" {
				entry["tool"] = tool
			}
			if filename != "" {
				entry["filename"] = filename
			}
			if noInstall {
				entry["install"] = false
			}
			table[alias] = entry
			raw[section] = table

			data, err := toml.Marshal(raw)
			if err != nil {
				return fmt.Errorf("cli: marshal %s: %w", constants.ManifestFileName, err)
			}
			normalized := []byte(stringutil.NormalizeWhitespace(string(data)))
			if err := fsutil.AtomicWrite(manifestPath, normalized, 0o644, "add dependency entry", "cli.Add"); err != nil {
				return err
			}

			printSuccess("added %s.%s to %s", section, alias, constants.ManifestFileName)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Named source, or an \"owner/repo\" GitHub shorthand, this path is fetched from (omit for a local path)")
	cmd.Flags().StringVar(&version, "version", "", "Semver constraint, e.g. ^1.0.0")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch to track instead of a version constraint")
	cmd.Flags().StringVar(&rev, "rev", "", "Pin to an exact commit SHA")
	cmd.Flags().StringVar(&tool, "tool", "", "Installation tool override (claude-code, opencode, agpm)")
	cmd.Flags().StringVar(&filename, "filename", "", "Override the installed filename")
	cmd.Flags().BoolVar(&noInstall, "no-install", false, "Content-only dependency: resolved but not installed as a file")
	return cmd
}
