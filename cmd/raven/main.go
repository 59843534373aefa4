package main

import (
	"os"

	"github.com/paralyuzov/raven-client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
