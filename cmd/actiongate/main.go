// Package main provides the entry point for the actiongate CLI.
package main

import (
	"fmt"
	"os"

	"github.com/actiongate/actiongate/cmd/actiongate/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
