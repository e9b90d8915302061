package main

import (
	"os"

	"github.com/flowatch/flowatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
