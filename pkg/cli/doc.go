// Package cli provides common CLI utilities for genflow command-line tools.
//
// This package includes:
//   - Configuration management (provider contexts)
//   - Output formatting (JSON, YAML, raw)
//   - Request file loading (YAML/JSON)
//   - Terminal summaries and print helpers
//
// Configuration is stored in ~/.genflow/<app>/ directory, supporting
// multiple contexts similar to kubectl.
//
// Example usage:
//
//	// Initialize config for your app
//	cfg, err := cli.LoadConfig("genflow")
//
//	// Resolve the active context
//	ctx, err := cfg.ResolveContext("")
//
//	// Output result
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    File:   outputPath,
//	})
package cli
