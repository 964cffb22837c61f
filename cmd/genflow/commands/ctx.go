package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/genflow/pkg/cli"
)

var ctxCmd = &cobra.Command{
	Use:   "ctx",
	Short: "Context configuration management",
	Long: `Manage provider contexts.

A context names a provider (openai, gemini, lorem) together with its
credentials and default generation knobs. Switching contexts switches
where generations run.

Examples:
  genflow ctx add dev --provider lorem
  genflow ctx add prod --provider openai --model gpt-4o-mini --api-key sk-xxx
  genflow ctx use prod
  genflow ctx list`,
}

var (
	ctxProvider string
	ctxModel    string
	ctxAPIKey   string
	ctxBaseURL  string
	ctxMaxSteps int
	ctxContinue bool
)

var ctxAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if ctxProvider == "" {
			return fmt.Errorf("provider is required (openai, gemini, lorem)")
		}

		ctx := &cli.Context{
			Provider:      ctxProvider,
			Model:         ctxModel,
			APIKey:        ctxAPIKey,
			BaseURL:       ctxBaseURL,
			MaxSteps:      ctxMaxSteps,
			ContinueSteps: ctxContinue,
		}
		if err := getConfig().AddContext(name, ctx); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(map[string]any{"name": name, "status": "added"})
		}
		fmt.Printf("Context %q added.\n", name)
		return nil
	},
}

var ctxRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getConfig().DeleteContext(args[0]); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(map[string]any{"name": args[0], "status": "removed"})
		}
		fmt.Printf("Context %q removed.\n", args[0])
		return nil
	},
}

var ctxUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getConfig().UseContext(args[0]); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(map[string]any{"name": args[0], "status": "active"})
		}
		fmt.Printf("Switched to context %q.\n", args[0])
		return nil
	},
}

var ctxCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if cfg.CurrentContext == "" {
			return fmt.Errorf("no current context set")
		}
		if outputJSON {
			return printJSON(map[string]any{"current": cfg.CurrentContext})
		}
		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var ctxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		names := cfg.ListContexts()
		if outputJSON {
			return printJSON(names)
		}
		if len(names) == 0 {
			fmt.Println("No contexts configured.")
			fmt.Println("Create one with: genflow ctx add <name> --provider lorem")
			return nil
		}
		for _, name := range names {
			marker := "  "
			if name == cfg.CurrentContext {
				marker = "* "
			}
			fmt.Printf("%s%s\n", marker, name)
		}
		return nil
	},
}

var ctxShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show context details",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		ctx, err := getConfig().ResolveContext(name)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(map[string]any{
				"name":           ctx.Name,
				"provider":       ctx.Provider,
				"model":          ctx.Model,
				"api_key":        cli.MaskAPIKey(ctx.APIKey),
				"base_url":       ctx.BaseURL,
				"max_steps":      ctx.MaxSteps,
				"continue_steps": ctx.ContinueSteps,
			})
		}
		fmt.Printf("Context: %s\n", ctx.Name)
		fmt.Printf("  provider:  %s\n", valueOrEmpty(ctx.Provider))
		fmt.Printf("  model:     %s\n", valueOrEmpty(ctx.Model))
		fmt.Printf("  api-key:   %s\n", valueOrEmpty(cli.MaskAPIKey(ctx.APIKey)))
		fmt.Printf("  base-url:  %s\n", valueOrEmpty(ctx.BaseURL))
		if ctx.MaxSteps > 0 {
			fmt.Printf("  max-steps: %d\n", ctx.MaxSteps)
		}
		if ctx.ContinueSteps {
			fmt.Printf("  continue:  true\n")
		}
		return nil
	},
}

func init() {
	ctxAddCmd.Flags().StringVar(&ctxProvider, "provider", "", "provider: openai, gemini, or lorem (required)")
	ctxAddCmd.Flags().StringVar(&ctxModel, "model", "", "model name (e.g. gpt-4o-mini)")
	ctxAddCmd.Flags().StringVar(&ctxAPIKey, "api-key", "", "API key")
	ctxAddCmd.Flags().StringVar(&ctxBaseURL, "base-url", "", "API base URL (optional)")
	ctxAddCmd.Flags().IntVar(&ctxMaxSteps, "max-steps", 0, "default invocation cap per generation")
	ctxAddCmd.Flags().BoolVar(&ctxContinue, "continue", false, "continue length-limited steps by default")

	ctxCmd.AddCommand(ctxAddCmd)
	ctxCmd.AddCommand(ctxRemoveCmd)
	ctxCmd.AddCommand(ctxUseCmd)
	ctxCmd.AddCommand(ctxCurrentCmd)
	ctxCmd.AddCommand(ctxListCmd)
	ctxCmd.AddCommand(ctxShowCmd)

	rootCmd.AddCommand(ctxCmd)
}

func valueOrEmpty(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
