// Command wardenctl runs alerts through the workflow engine from the
// command line and scores labelled datasets.
package main

import (
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

var (
	errorColor  = color.New(color.FgRed, color.Bold)
	passColor   = color.New(color.FgGreen, color.Bold)
	failColor   = color.New(color.FgRed)
	warnColor   = color.New(color.FgYellow)
	headerColor = color.New(color.FgCyan, color.Bold)
)
