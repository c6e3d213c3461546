// Package main provides the TUI entry point for Glasswally.
package main

import (
	"flag"
	"fmt"
	"os"

	"glasswally/internal/tui"
)

func main() {
	var serverURL string

	flag.StringVar(&serverURL, "server", "http://localhost:9091", "Glasswally account-query server URL")
	flag.StringVar(&serverURL, "s", "http://localhost:9091", "Glasswally account-query server URL (shorthand)")
	flag.Parse()

	fmt.Println("Starting Glasswally TUI...")
	fmt.Printf("Connecting to: %s\n", serverURL)

	if err := tui.Run(serverURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
