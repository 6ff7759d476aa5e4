package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophvault/internal/vaultctl"
)

func main() {
	if err := vaultctl.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
