package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/genflow/pkg/cli"
)

const appName = "genflow"

var (
	// Global flags
	cfgFile     string
	contextName string
	outputFile  string
	outputJSON  bool
	verbose     bool

	// Global configuration
	globalConfig *cli.Config
)

var rootCmd = &cobra.Command{
	Use:   "genflow",
	Short: "Streaming text generation CLI",
	Long: `genflow - A command line interface for streaming text generation.

Generations stream as they are produced: raw text for terminals and pipes,
or line-delimited JSON events for tooling. When a step stops at the length
limit, continuation can re-invoke the model and join the steps into one
seamless stream.

Configuration is stored in ~/.genflow/genflow/ and supports multiple
contexts, similar to kubectl's context management.

Examples:
  # Set up a context and make it the default
  genflow ctx add prod --provider openai --model gpt-4o-mini --api-key sk-xxx
  genflow ctx use prod

  # Stream a generation to stdout
  genflow run --prompt "Tell me about streams"

  # Stream events for tooling
  genflow run -f request.yaml --events

  # No credentials needed for the built-in lorem provider
  genflow run --provider lorem --prompt hi

  # Serve generations over HTTP
  genflow serve --addr :8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.genflow/genflow/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() {
	// Configure slog based on verbose flag
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	path := cfgFile
	if path == "" {
		path = os.Getenv("GENFLOW_CONFIG")
	}

	var err error
	globalConfig, err = cli.LoadConfigWithPath(appName, path)
	if err != nil {
		// Log but don't exit so commands that need no config still run.
		fmt.Fprintf(os.Stderr, "Warning: %s config: %v\n", appName, err)
	}
}

// getConfig returns the global configuration
func getConfig() *cli.Config {
	return globalConfig
}

// getContext resolves the context selected by the -c flag, falling back to
// the current context. Without any context it returns an empty one, so
// commands that can run from flags and environment alone still work.
func getContext() (*cli.Context, error) {
	cfg := getConfig()
	if cfg == nil {
		return &cli.Context{}, nil
	}
	if contextName != "" {
		return cfg.GetContext(contextName)
	}
	if ctx, err := cfg.ResolveContext(""); err == nil {
		return ctx, nil
	}
	return &cli.Context{}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}
