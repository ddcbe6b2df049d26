package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub009/pkg/console"
)

// NewValidateCommand creates the "validate" command: run resolution without
// installing anything, surfacing conflicts, cycles and warnings.
func NewValidateCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Resolve the manifest without installing, reporting conflicts and warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			p, err := loadProject("")
			if err != nil {
				return err
			}

			result, err := p.resolve(cmd.Context())
			if err != nil {
				if isJSON(format) {
					fmt.Printf("{\"valid\":false,\"error\":%q}\n", err.Error())
					return nil
				}
				return err
			}

			if isJSON(format) {
				type jsonWarning struct {
					File    string `json:"file"`
					Message string `json:"message"`
				}
				warnings := make([]jsonWarning, 0, len(result.Warnings))
				for _, w := range result.Warnings {
					warnings = append(warnings, jsonWarning{File: w.File, Message: w.Message})
				}
				return console.OutputStructOrJSON(struct {
					Valid     bool          `json:"valid"`
					Resources int           `json:"resources"`
					Warnings  []jsonWarning `json:"warnings"`
				}{Valid: true, Resources: len(result.Resources), Warnings: warnings}, true)
			}

			reportWarnings(result.Warnings)
			printSuccess("manifest resolves cleanly: %d resource(s), %d warning(s)", len(result.Resources), len(result.Warnings))
			return nil
		},
	}

	addFormatFlag(cmd, &format)
	return cmd
}
