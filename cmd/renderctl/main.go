// Package main provides the renderctl operator CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/renderd/renderd/cmd/renderctl/internal/cmd"
)

func main() {
	root := cmd.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
