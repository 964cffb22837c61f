package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/haivivi/genflow/cmd/genflow/commands"
)

func main() {
	// Pick up provider keys from a local .env if present.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: .env: %v\n", err)
	}

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
