package cli

import (
	"fmt"

	"github.com/aig787/agpm-sub009/pkg/console"
	"github.com/aig787/agpm-sub009/pkg/stringutil"
)

func formatWarning(file, message string) string {
	message = stringutil.SanitizeErrorMessage(message)
	if file == "" {
		return console.FormatWarningMessage(message)
	}
	return console.FormatWarningMessage(fmt.Sprintf("%s: %s", file, message))
}

func printSuccess(format string, args ...any) {
	fmt.Println(console.FormatSuccessMessage(fmt.Sprintf(format, args...)))
}

func printInfo(format string, args ...any) {
	fmt.Println(console.FormatInfoMessage(fmt.Sprintf(format, args...)))
}
