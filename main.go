// Package main is the entry point for the nightscout-autotune command
package main

import (
	"os"

	"github.com/mrcode/nightscout-autotune/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
