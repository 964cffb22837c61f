package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func setupTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GENFLOW_CONFIG", filepath.Join(t.TempDir(), "config.yaml"))
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	// Reset global flags to avoid state pollution between tests.
	verbose = false
	outputJSON = false

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	var outBuf, errBuf bytes.Buffer
	outBuf.ReadFrom(rOut)
	errBuf.ReadFrom(rErr)

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		if stderr == "" {
			stderr = err.Error()
		}
	}

	// Reset all cobra command flag state to prevent leaks between tests.
	resetFlags(rootCmd)

	return
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
		f.Value.Set(f.DefValue)
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestCtxAddBasic(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "ctx", "add", "dev", "--provider", "lorem")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout, "added") {
		t.Fatalf("expected 'added' in output, got: %s", stdout)
	}
}

func TestCtxAddRequiresProvider(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "ctx", "add", "dev")
	if code == 0 {
		t.Fatal("expected non-zero exit without provider")
	}
	if !strings.Contains(stderr, "provider is required") {
		t.Fatalf("expected 'provider is required' in stderr, got: %s", stderr)
	}
}

func TestCtxListEmpty(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "ctx", "list")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout, "No contexts") {
		t.Fatalf("expected 'No contexts', got: %s", stdout)
	}
}

func TestCtxUseAndCurrent(t *testing.T) {
	setupTestEnv(t)

	runCmd(t, "ctx", "add", "dev", "--provider", "lorem")
	_, _, code := runCmd(t, "ctx", "use", "dev")
	if code != 0 {
		t.Fatalf("ctx use failed, exit %d", code)
	}

	stdout, _, code := runCmd(t, "ctx", "current")
	if code != 0 {
		t.Fatalf("ctx current failed, exit %d", code)
	}
	if !strings.Contains(stdout, "dev") {
		t.Fatalf("expected 'dev', got: %s", stdout)
	}
}

func TestCtxCurrentUnset(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "ctx", "current")
	if code == 0 {
		t.Fatal("expected non-zero exit when no context set")
	}
	if !strings.Contains(stderr, "no current context") {
		t.Fatalf("expected 'no current context', got: %s", stderr)
	}
}

func TestCtxUseUnknown(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "ctx", "use", "nope")
	if code == 0 {
		t.Fatal("expected non-zero exit for unknown context")
	}
	if !strings.Contains(stderr, "not found") {
		t.Fatalf("expected 'not found', got: %s", stderr)
	}
}

func TestCtxRemoveBasic(t *testing.T) {
	setupTestEnv(t)

	runCmd(t, "ctx", "add", "staging", "--provider", "lorem")
	_, _, code := runCmd(t, "ctx", "remove", "staging")
	if code != 0 {
		t.Fatalf("ctx remove failed, exit %d", code)
	}

	stdout, _, _ := runCmd(t, "ctx", "list")
	if strings.Contains(stdout, "staging") {
		t.Fatalf("expected 'staging' gone, got: %s", stdout)
	}
}

func TestCtxListMarksCurrent(t *testing.T) {
	setupTestEnv(t)

	runCmd(t, "ctx", "add", "alpha", "--provider", "lorem")
	runCmd(t, "ctx", "add", "beta", "--provider", "lorem")
	runCmd(t, "ctx", "use", "beta")

	stdout, _, code := runCmd(t, "ctx", "list")
	if code != 0 {
		t.Fatalf("ctx list failed, exit %d", code)
	}
	if !strings.Contains(stdout, "* beta") {
		t.Fatalf("expected '* beta' marker, got: %s", stdout)
	}
	if !strings.Contains(stdout, "  alpha") {
		t.Fatalf("expected unmarked 'alpha', got: %s", stdout)
	}
}

func TestCtxShowMasksAPIKey(t *testing.T) {
	setupTestEnv(t)

	const key = "sk-1234567890abcdef"
	runCmd(t, "ctx", "add", "prod", "--provider", "openai", "--model", "gpt-4o-mini", "--api-key", key)

	stdout, _, code := runCmd(t, "ctx", "show", "prod")
	if code != 0 {
		t.Fatalf("ctx show failed, exit %d", code)
	}
	if strings.Contains(stdout, key) {
		t.Fatalf("raw API key leaked into output: %s", stdout)
	}
	if !strings.Contains(stdout, "sk-1***********cdef") {
		t.Fatalf("expected masked key, got: %s", stdout)
	}
	if !strings.Contains(stdout, "gpt-4o-mini") {
		t.Fatalf("expected model in output, got: %s", stdout)
	}
}

func TestVersion(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "version")
	if code != 0 {
		t.Fatalf("version failed, exit %d", code)
	}
	if !strings.Contains(stdout, "genflow dev") {
		t.Fatalf("expected 'genflow dev', got: %s", stdout)
	}
}
