package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/haivivi/genflow/pkg/genflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve generations over HTTP",
	Long: `Serve generations over HTTP against the selected provider.

Endpoints:
  POST /v1/generate       stream events as line-delimited JSON
  POST /v1/generate/text  stream raw text
  GET  /v1/generate/ws    stream events over a WebSocket
  GET  /healthz           liveness probe

The request body (or the first WebSocket message) uses the same schema as
run's request files. Streamed responses flush chunk by chunk; a failed
generation ends with an error event rather than a truncated stream.

Examples:
  genflow serve --addr :8080
  genflow -c prod serve
  curl -N -d '{"prompt":"hi"}' localhost:8080/v1/generate`,
	RunE: runServe,
}

var (
	serveAddr       string
	serveProvider   string
	serveModel      string
	serveAPIKey     string
	serveBaseURL    string
	serveMaxSteps   int
	serveContinue   bool
	serveLoremTrunc int
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "provider: openai, gemini, or lorem (overrides context)")
	serveCmd.Flags().StringVarP(&serveModel, "model", "m", "", "model name (overrides context)")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "API key (overrides context)")
	serveCmd.Flags().StringVar(&serveBaseURL, "base-url", "", "API base URL (overrides context)")
	serveCmd.Flags().IntVar(&serveMaxSteps, "max-steps", 0, "invocation cap per generation")
	serveCmd.Flags().BoolVar(&serveContinue, "continue", false, "continue length-limited steps")
	serveCmd.Flags().IntVar(&serveLoremTrunc, "lorem-truncate", 0, "lorem provider only: force a length stop after N words")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgCtx, err := getContext()
	if err != nil {
		return err
	}

	provider := firstNonEmpty(serveProvider, cfgCtx.Provider)
	if provider == "" {
		return fmt.Errorf("no provider selected: pass --provider or configure a context")
	}

	maxSteps := cfgCtx.MaxSteps
	if cmd.Flags().Changed("max-steps") {
		maxSteps = serveMaxSteps
	}
	continueSteps := cfgCtx.ContinueSteps
	if cmd.Flags().Changed("continue") {
		continueSteps = serveContinue
	}

	model, err := buildModel(cmd.Context(), provider,
		firstNonEmpty(serveModel, cfgCtx.Model),
		firstNonEmpty(serveAPIKey, cfgCtx.APIKey),
		firstNonEmpty(serveBaseURL, cfgCtx.BaseURL),
		serveLoremTrunc)
	if err != nil {
		return err
	}

	s := &genServer{
		model:         model,
		maxSteps:      maxSteps,
		continueSteps: continueSteps,
	}

	srv := &http.Server{
		Addr:    serveAddr,
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", serveAddr, "provider", provider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// genServer serves generations against one fixed provider model.
type genServer struct {
	model         genflow.Model
	maxSteps      int
	continueSteps bool
}

// apiRequest is the request body schema, shared by all endpoints.
type apiRequest struct {
	System   string       `json:"system"`
	Prompt   string       `json:"prompt"`
	Messages []runMessage `json:"messages"`
	MaxSteps int          `json:"max_steps"`
	Continue *bool        `json:"continue"`
	Params   *runParams   `json:"params"`
}

func (s *genServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/generate", s.handleGenerate)
	mux.HandleFunc("/v1/generate/text", s.handleGenerateText)
	mux.HandleFunc("/v1/generate/ws", s.handleGenerateWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return logRequests(mux)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start).Round(time.Millisecond))
	})
}

// start decodes the request and begins a generation for it.
func (s *genServer) start(ctx context.Context, req *apiRequest) (*genflow.Result, error) {
	gr := genflow.Request{
		System: req.System,
		Prompt: req.Prompt,
	}
	for _, m := range req.Messages {
		gr.Messages = append(gr.Messages, genflow.Message{
			Role:    genflow.Role(m.Role),
			Content: m.Content,
		})
	}
	if p := req.Params; p != nil {
		gr.Params = &genflow.Params{
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			TopP:        p.TopP,
		}
	}

	opts := &genflow.Options{
		MaxSteps:      s.maxSteps,
		ContinueSteps: s.continueSteps,
	}
	if req.MaxSteps > 0 {
		opts.MaxSteps = req.MaxSteps
	}
	if req.Continue != nil {
		opts.ContinueSteps = *req.Continue
	}

	return genflow.Generate(ctx, s.model, gr, opts)
}

func decodeAPIRequest(w http.ResponseWriter, r *http.Request) (*apiRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	var req apiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func (s *genServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAPIRequest(w, r)
	if !ok {
		return
	}
	gen, err := s.start(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer gen.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	if err := gen.PipeEvents(r.Context(), w); err != nil {
		// The error event is already on the wire; nothing more to send.
		slog.Error("event stream failed", "id", gen.ID(), "err", err)
	}
}

func (s *genServer) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAPIRequest(w, r)
	if !ok {
		return
	}
	gen, err := s.start(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer gen.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := gen.PipeText(r.Context(), w); err != nil {
		slog.Error("text stream failed", "id", gen.ID(), "err", err)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleGenerateWS streams events over a WebSocket. The client sends the
// request as its first message; each event arrives as one JSON message and
// a close frame ends the stream.
func (s *genServer) handleGenerateWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	var req apiRequest
	if err := ws.ReadJSON(&req); err != nil {
		wsClose(ws, websocket.CloseInvalidFramePayloadData, "invalid request")
		return
	}

	gen, err := s.start(r.Context(), &req)
	if err != nil {
		wsClose(ws, websocket.ClosePolicyViolation, err.Error())
		return
	}
	defer gen.Close()

	es := gen.Events()
	defer es.Close()
	for {
		ev, err := es.Next()
		if err != nil {
			if errors.Is(err, genflow.ErrDone) {
				wsClose(ws, websocket.CloseNormalClosure, "")
			} else {
				wsClose(ws, websocket.CloseInternalServerErr, err.Error())
			}
			return
		}
		if err := ws.WriteJSON(ev); err != nil {
			slog.Debug("websocket write failed", "id", gen.ID(), "err", err)
			return
		}
	}
}

func wsClose(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
