package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/shipway-dev/shipway/cmd/shipway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, cmd.ErrHalted) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
