package main

import (
	"os"

	"github.com/rustyeddy/ufoagent/cmd/ufoagent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
