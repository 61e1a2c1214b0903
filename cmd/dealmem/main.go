package main

import (
	"os"

	"github.com/pipewise/dealmem/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
