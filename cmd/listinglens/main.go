// Package main is the entry point for the listinglens CLI.
package main

import (
	"os"

	"github.com/jmylchreest/listinglens/cmd/listinglens/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
