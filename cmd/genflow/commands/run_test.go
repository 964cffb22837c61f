package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haivivi/genflow/pkg/genflow"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunLorem(t *testing.T) {
	setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "run", "--provider", "lorem", "--prompt", "tell me a story", "--max-tokens", "8", "-q")
	if code != 0 {
		t.Fatalf("run failed, exit %d: %s", code, stderr)
	}
	if got := len(strings.Fields(stdout)); got != 8 {
		t.Fatalf("expected 8 words, got %d: %q", got, stdout)
	}
	if !strings.HasSuffix(stdout, "\n") {
		t.Fatalf("expected trailing newline, got: %q", stdout)
	}
}

func TestRunPrintsSummary(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "run", "--provider", "lorem", "--prompt", "hi", "--max-tokens", "3")
	if code != 0 {
		t.Fatalf("run failed, exit %d: %s", code, stderr)
	}
	for _, want := range []string{"generation", "finish", "tokens"} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("expected %q in summary, got: %s", want, stderr)
		}
	}
}

func TestRunEvents(t *testing.T) {
	setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "run", "--provider", "lorem", "--prompt", "hi", "--max-tokens", "3", "--events", "-q")
	if code != 0 {
		t.Fatalf("run failed, exit %d: %s", code, stderr)
	}

	lines := strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
	// 3 text deltas, one step-finish, one finish.
	if len(lines) != 5 {
		t.Fatalf("expected 5 event lines, got %d: %q", len(lines), stdout)
	}
	var kinds []string
	for _, line := range lines {
		ev, err := genflow.DecodeEvent([]byte(line))
		if err != nil {
			t.Fatalf("DecodeEvent(%q) error: %v", line, err)
		}
		kinds = append(kinds, string(ev.Type))
	}
	want := "text-delta,text-delta,text-delta,step-finish,finish"
	if got := strings.Join(kinds, ","); got != want {
		t.Fatalf("event kinds = %q, want %q", got, want)
	}
}

func TestRunEventsJQ(t *testing.T) {
	setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "run", "--provider", "lorem", "--prompt", "hi", "--max-tokens", "2", "--jq", ".type", "-q")
	if code != 0 {
		t.Fatalf("run failed, exit %d: %s", code, stderr)
	}
	want := "\"text-delta\"\n\"text-delta\"\n\"step-finish\"\n\"finish\"\n"
	if stdout != want {
		t.Fatalf("stdout = %q, want %q", stdout, want)
	}
}

func TestRunInvalidJQ(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "run", "--provider", "lorem", "--prompt", "hi", "--jq", ".[")
	if code == 0 {
		t.Fatal("expected non-zero exit for a bad jq expression")
	}
	if !strings.Contains(stderr, "invalid jq expression") {
		t.Fatalf("expected 'invalid jq expression', got: %s", stderr)
	}
}

func TestRunContinuationJoinsSteps(t *testing.T) {
	setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "run",
		"--provider", "lorem", "--lorem-truncate", "4",
		"--continue", "--max-steps", "2",
		"--prompt", "hi", "--max-tokens", "100", "-q")
	if code != 0 {
		t.Fatalf("run failed, exit %d: %s", code, stderr)
	}
	if got := len(strings.Fields(stdout)); got != 8 {
		t.Fatalf("expected 8 words across 2 steps, got %d: %q", got, stdout)
	}
}

func TestRunRequestFile(t *testing.T) {
	setupTestEnv(t)

	path := writeTempFile(t, "request.yaml", `
prompt: tell me anything
params:
  max_tokens: 5
`)
	stdout, stderr, code := runCmd(t, "run", "--provider", "lorem", "-f", path, "-q")
	if code != 0 {
		t.Fatalf("run failed, exit %d: %s", code, stderr)
	}
	if got := len(strings.Fields(stdout)); got != 5 {
		t.Fatalf("expected 5 words, got %d: %q", got, stdout)
	}
}

func TestRunFlagOverridesFile(t *testing.T) {
	setupTestEnv(t)

	path := writeTempFile(t, "request.yaml", `
prompt: from the file
params:
  max_tokens: 5
`)
	stdout, stderr, code := runCmd(t, "run", "--provider", "lorem", "-f", path, "--max-tokens", "2", "-q")
	if code != 0 {
		t.Fatalf("run failed, exit %d: %s", code, stderr)
	}
	if got := len(strings.Fields(stdout)); got != 2 {
		t.Fatalf("expected flag to override file max_tokens, got %d words: %q", got, stdout)
	}
}

func TestRunUsesContextProvider(t *testing.T) {
	setupTestEnv(t)

	runCmd(t, "ctx", "add", "dev", "--provider", "lorem")
	runCmd(t, "ctx", "use", "dev")

	stdout, stderr, code := runCmd(t, "run", "--prompt", "hi", "--max-tokens", "4", "-q")
	if code != 0 {
		t.Fatalf("run failed, exit %d: %s", code, stderr)
	}
	if got := len(strings.Fields(stdout)); got != 4 {
		t.Fatalf("expected 4 words, got %d: %q", got, stdout)
	}
}

func TestRunNoPrompt(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "run", "--provider", "lorem")
	if code == 0 {
		t.Fatal("expected non-zero exit without a prompt")
	}
	if !strings.Contains(stderr, "nothing to generate") {
		t.Fatalf("expected 'nothing to generate', got: %s", stderr)
	}
}

func TestRunNoProvider(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "run", "--prompt", "hi")
	if code == 0 {
		t.Fatal("expected non-zero exit without a provider")
	}
	if !strings.Contains(stderr, "no provider") {
		t.Fatalf("expected 'no provider', got: %s", stderr)
	}
}

func TestRunUnknownProvider(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "run", "--provider", "bogus", "--prompt", "hi")
	if code == 0 {
		t.Fatal("expected non-zero exit for unknown provider")
	}
	if !strings.Contains(stderr, "unknown provider") {
		t.Fatalf("expected 'unknown provider', got: %s", stderr)
	}
}
