package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/sliceutil"
)

// validFormats is the allowed set of --format values across every reporting
// command.
var validFormats = []string{"text", "json"}

// addFormatFlag registers the shared "--format text|json" flag used by
// read-only reporting commands (validate, list, outdated).
func addFormatFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVar(format, "format", "text", "Output format: text|json")
}

// checkFormat rejects a --format value outside validFormats.
func checkFormat(format string) error {
	if !sliceutil.Contains(validFormats, format) {
		return fmt.Errorf("cli: invalid --format %q, must be one of: text, json", format)
	}
	return nil
}

func isJSON(format string) bool {
	return format == "json"
}
