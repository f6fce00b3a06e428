// Package main provides the entry point for the docsense CLI.
package main

import (
	"os"

	"github.com/docsense/docsense/cmd/docsense/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
