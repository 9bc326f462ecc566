package main

import (
	"fmt"
	"os"

	"github.com/pratik-mahalle/vitalsync/internal/cli"
)

func main() {
	if err := cli.NewMigrateCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
