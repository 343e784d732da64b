// Command assurectl evaluates risky commands through the Assure gateway
// before they run.
package main

import (
	"errors"
	"os"

	"github.com/fatih/color"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if errors.Is(err, errBlocked) {
			os.Exit(1)
		}
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
