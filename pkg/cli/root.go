package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/console"
	"github.com/aig787/agpm-sub009/pkg/constants"
)

var versionInfo = "dev"

// SetVersionInfo sets the version reported by "agpm version" and --version.
func SetVersionInfo(version string) {
	versionInfo = version
}

// NewRootCommand builds the agpm command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     constants.CLIName,
		Short:   "A package manager for AI coding assistant resources",
		Version: versionInfo,
		Long: `agpm installs agents, commands, snippets, scripts, hooks, MCP
servers and skills from Git sources into the layout your coding tool expects.

Common Tasks:
  agpm add agent reviewer ./agents/reviewer.md   # Add a dependency
  agpm install                                   # Resolve and install everything
  agpm list                                      # Show what's installed
  agpm outdated                                  # Check for newer matching versions

For detailed help on any command, use:
  agpm [command] --help`,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	root.AddGroup(&cobra.Group{ID: "project", Title: "Project Commands:"})
	root.AddGroup(&cobra.Group{ID: "inspect", Title: "Inspection Commands:"})

	root.SetOut(os.Stderr)
	root.SetVersionTemplate(fmt.Sprintf("%s\n",
		console.FormatInfoMessage(fmt.Sprintf("%s version {{.Version}}", constants.CLIName))))

	installCmd := NewInstallCommand()
	updateCmd := NewUpdateCommand()
	upgradeCmd := NewUpgradeCommand()
	addCmd := NewAddCommand()
	validateCmd := NewValidateCommand()
	listCmd := NewListCommand()
	treeCmd := NewTreeCommand()
	outdatedCmd := NewOutdatedCommand()
	cacheCmd := NewCacheCommand()
	versionCmd := NewVersionCommand()

	installCmd.GroupID = "project"
	updateCmd.GroupID = "project"
	upgradeCmd.GroupID = "project"
	addCmd.GroupID = "project"

	validateCmd.GroupID = "inspect"
	listCmd.GroupID = "inspect"
	treeCmd.GroupID = "inspect"
	outdatedCmd.GroupID = "inspect"

	root.AddCommand(installCmd, updateCmd, upgradeCmd, addCmd,
		validateCmd, listCmd, treeCmd, outdatedCmd, cacheCmd, versionCmd)

	return root
}

// NewVersionCommand creates the "version" command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printInfo("%s version %s", constants.CLIName, versionInfo)
		},
	}
}
