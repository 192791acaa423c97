// Package main provides the entry point for the codelens CLI.
package main

import (
	"os"

	"github.com/ferret-index/codelens/cmd/codelens/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
