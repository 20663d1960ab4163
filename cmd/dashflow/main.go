package main

import (
	"os"

	"github.com/jmylchreest/dashflow/cmd/dashflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
