package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/haivivi/genflow/pkg/cli"
	"github.com/haivivi/genflow/pkg/genflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a generation and stream it to stdout",
	Long: `Run one generation against the selected provider and stream the
output as it is produced.

By default the raw text is streamed to stdout and a summary box is printed
to stderr when the generation finishes. With --events each event is written
as one JSON line instead, for piping into tooling.

The request comes from flags, from a YAML/JSON request file, or both
(flags win). Use -f - to read the request from stdin.

Examples:
  genflow run --prompt "Tell me about streams"
  genflow run -f request.yaml --events
  genflow run --provider lorem --prompt hi --max-tokens 20
  genflow run --provider lorem --lorem-truncate 8 --continue --max-steps 3 --prompt hi
  genflow run -f request.yaml --jq '.text // empty'`,
	RunE: runGenerate,
}

var (
	runFile        string
	runPrompt      string
	runSystem      string
	runProvider    string
	runModel       string
	runAPIKey      string
	runBaseURL     string
	runMaxSteps    int
	runContinue    bool
	runMaxTokens   int
	runTemperature float32
	runEvents      bool
	runJQ          string
	runQuiet       bool
	runLoremTrunc  int
)

// runRequest is the request file schema for the run command.
type runRequest struct {
	System   string       `yaml:"system" json:"system"`
	Prompt   string       `yaml:"prompt" json:"prompt"`
	Messages []runMessage `yaml:"messages" json:"messages"`
	MaxSteps int          `yaml:"max_steps" json:"max_steps"`
	Continue bool         `yaml:"continue" json:"continue"`
	Params   *runParams   `yaml:"params" json:"params"`
}

type runMessage struct {
	Role    string `yaml:"role" json:"role"`
	Content string `yaml:"content" json:"content"`
}

type runParams struct {
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
	TopP        float32 `yaml:"top_p" json:"top_p"`
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", `request file (YAML or JSON, "-" for stdin)`)
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "user prompt")
	runCmd.Flags().StringVar(&runSystem, "system", "", "system prompt")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "provider: openai, gemini, or lorem (overrides context)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "model name (overrides context)")
	runCmd.Flags().StringVar(&runAPIKey, "api-key", "", "API key (overrides context)")
	runCmd.Flags().StringVar(&runBaseURL, "base-url", "", "API base URL (overrides context)")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "invocation cap for this generation")
	runCmd.Flags().BoolVar(&runContinue, "continue", false, "continue length-limited steps")
	runCmd.Flags().IntVar(&runMaxTokens, "max-tokens", 0, "per-step token limit")
	runCmd.Flags().Float32Var(&runTemperature, "temperature", 0, "sampling temperature")
	runCmd.Flags().BoolVar(&runEvents, "events", false, "stream events as line-delimited JSON instead of raw text")
	runCmd.Flags().StringVar(&runJQ, "jq", "", "filter each event through a jq expression (implies --events)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "suppress the summary box")
	runCmd.Flags().IntVar(&runLoremTrunc, "lorem-truncate", 0, "lorem provider only: force a length stop after N words")

	rootCmd.AddCommand(runCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfgCtx, err := getContext()
	if err != nil {
		return err
	}

	var fileReq runRequest
	if runFile != "" {
		if err := cli.LoadRequest(runFile, &fileReq); err != nil {
			return err
		}
	}

	req := buildRequest(&fileReq)
	if len(req.Messages) == 0 && req.Prompt == "" {
		return fmt.Errorf("nothing to generate: pass --prompt or a request file with -f")
	}

	provider := firstNonEmpty(runProvider, cfgCtx.Provider)
	if provider == "" {
		return fmt.Errorf("no provider selected: pass --provider or configure a context (genflow ctx add <name> --provider ...)")
	}

	var query *gojq.Query
	if runJQ != "" {
		query, err = gojq.Parse(runJQ)
		if err != nil {
			return fmt.Errorf("invalid jq expression %q: %w", runJQ, err)
		}
	}

	maxSteps := cfgCtx.MaxSteps
	if fileReq.MaxSteps > 0 {
		maxSteps = fileReq.MaxSteps
	}
	if cmd.Flags().Changed("max-steps") {
		maxSteps = runMaxSteps
	}
	continueSteps := cfgCtx.ContinueSteps || fileReq.Continue
	if cmd.Flags().Changed("continue") {
		continueSteps = runContinue
	}

	// Cancel the generation on Ctrl-C so the stream tears down cleanly.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	model, err := buildModel(ctx, provider,
		firstNonEmpty(runModel, cfgCtx.Model),
		firstNonEmpty(runAPIKey, cfgCtx.APIKey),
		firstNonEmpty(runBaseURL, cfgCtx.BaseURL),
		runLoremTrunc)
	if err != nil {
		return err
	}

	printVerbose("Provider: %s", provider)
	opts := &genflow.Options{
		MaxSteps:      maxSteps,
		ContinueSteps: continueSteps,
	}
	if verbose {
		opts.OnChunk = func(ev *genflow.Event) {
			if ev.Type == genflow.EventStepFinish {
				slog.Debug("step finished", "step", ev.Step, "reason", ev.Reason, "continued", ev.Continued)
			}
		}
	}

	gen, err := genflow.Generate(ctx, model, req, opts)
	if err != nil {
		return err
	}
	defer gen.Close()

	w := io.Writer(os.Stdout)
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	start := time.Now()
	switch {
	case query != nil:
		err = pipeEventsJQ(gen, query, w)
	case runEvents:
		err = gen.PipeEvents(ctx, w)
	default:
		err = gen.PipeText(ctx, w)
	}
	elapsed := time.Since(start)
	if err != nil {
		return err
	}

	final, err := gen.Wait(ctx)
	if err != nil {
		return err
	}
	rawText := !runEvents && query == nil
	if rawText && outputFile == "" && !strings.HasSuffix(final.Text, "\n") {
		fmt.Println()
	}

	if !runQuiet {
		fmt.Fprintln(os.Stderr, runSummary(gen.ID(), final, elapsed).Render())
	}
	return nil
}

// buildRequest merges the request file with flag overrides.
func buildRequest(fileReq *runRequest) genflow.Request {
	req := genflow.Request{
		System: firstNonEmpty(runSystem, fileReq.System),
		Prompt: firstNonEmpty(runPrompt, fileReq.Prompt),
	}
	for _, m := range fileReq.Messages {
		req.Messages = append(req.Messages, genflow.Message{
			Role:    genflow.Role(m.Role),
			Content: m.Content,
		})
	}

	params := genflow.Params{}
	if p := fileReq.Params; p != nil {
		params.MaxTokens = p.MaxTokens
		params.Temperature = p.Temperature
		params.TopP = p.TopP
	}
	if runMaxTokens > 0 {
		params.MaxTokens = runMaxTokens
	}
	if runTemperature > 0 {
		params.Temperature = runTemperature
	}
	if params != (genflow.Params{}) {
		req.Params = &params
	}
	return req
}

// buildModel constructs the provider adapter. Empty credentials fall back
// to whatever the provider SDK reads from the environment.
func buildModel(ctx context.Context, provider, model, apiKey, baseURL string, loremTrunc int) (genflow.Model, error) {
	switch provider {
	case "openai":
		if model == "" {
			return nil, fmt.Errorf("openai provider needs a model: pass --model or set one on the context")
		}
		var opts []option.RequestOption
		if apiKey != "" {
			opts = append(opts, option.WithAPIKey(apiKey))
		}
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		client := openai.NewClient(opts...)
		return &genflow.OpenAIModel{Client: &client, Model: model}, nil

	case "gemini":
		if model == "" {
			return nil, fmt.Errorf("gemini provider needs a model: pass --model or set one on the context")
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return &genflow.GeminiModel{Client: client, Model: model}, nil

	case "lorem":
		return &genflow.LoremModel{Model: model, TruncateAt: loremTrunc}, nil

	default:
		return nil, fmt.Errorf("unknown provider %q (openai, gemini, lorem)", provider)
	}
}

// pipeEventsJQ streams events through a jq query, one JSON line per result.
func pipeEventsJQ(gen *genflow.Result, query *gojq.Query, w io.Writer) error {
	events := gen.Events()
	defer events.Close()
	enc := json.NewEncoder(w)
	for {
		ev, err := events.Next()
		if err != nil {
			if errors.Is(err, genflow.ErrDone) {
				return nil
			}
			return err
		}
		// gojq operates on plain decoded JSON values.
		raw, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		var input any
		if err := json.Unmarshal(raw, &input); err != nil {
			return err
		}
		iter := query.Run(input)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, ok := v.(error); ok {
				return fmt.Errorf("jq: %w", err)
			}
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
	}
}

func runSummary(id string, final *genflow.Final, elapsed time.Duration) cli.Summary {
	ms := int(elapsed.Milliseconds())
	rows := []cli.SummaryRow{
		{Label: "id", Value: id},
	}
	if final.Response != nil && final.Response.Model != "" {
		rows = append(rows, cli.SummaryRow{Label: "model", Value: final.Response.Model})
	}
	rows = append(rows,
		cli.SummaryRow{Label: "finish", Value: string(final.Reason)},
		cli.SummaryRow{Label: "steps", Value: fmt.Sprintf("%d", len(final.Steps))},
		cli.SummaryRow{Label: "tokens", Value: fmt.Sprintf("%d prompt, %d completion, %d total",
			final.Usage.PromptTokens, final.Usage.CompletionTokens, final.Usage.TotalTokens)},
		cli.SummaryRow{Label: "time", Value: cli.FormatDuration(ms)},
		cli.SummaryRow{Label: "rate", Value: cli.FormatRate(int(final.Usage.CompletionTokens), ms)},
	)
	return cli.Summary{
		Styles: cli.NewStyles(cli.DefaultTheme),
		Title:  "generation",
		Rows:   rows,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
