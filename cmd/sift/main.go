// Package main provides the entry point for the sift CLI.
package main

import (
	"os"

	"github.com/fenwick-labs/sift/cmd/sift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
