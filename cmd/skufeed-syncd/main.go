// Package main is the entry point for the inventory sync daemon.
package main

import (
	"fmt"
	"os"

	"github.com/skufeed/inventory-sync-server/cmd/skufeed-syncd/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
