package main

import (
	"fmt"
	"os"

	"github.com/aig787/agpm-sub009/pkg/cli"
	"github.com/aig787/agpm-sub009/pkg/console"
	"github.com/aig787/agpm-sub009/pkg/stringutil"
)

// version is set by GoReleaser at build time.
var version = "dev"

func main() {
	cli.SetVersionInfo(version)

	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, console.FormatErrorMessage(stringutil.SanitizeErrorMessage(err.Error())))
		os.Exit(1)
	}
}
