package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"1234", "****"},
		{"12345678", "********"},
		{"123456789", "1234*6789"},
		{"sk-1234567890abcdef", "sk-1***********cdef"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := MaskAPIKey(tt.key); got != tt.want {
				t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestContext_Extra(t *testing.T) {
	ctx := &Context{Name: "test"}

	if got := ctx.GetExtra("missing"); got != "" {
		t.Errorf("GetExtra on nil map = %q, want empty string", got)
	}

	ctx.SetExtra("org", "acme")
	if ctx.Extra == nil {
		t.Fatal("SetExtra should initialize Extra map")
	}
	if got := ctx.GetExtra("org"); got != "acme" {
		t.Errorf("GetExtra(org) = %q, want %q", got, "acme")
	}
}

func TestLoadConfigWithPath_NewConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "genflow", "config.yaml")

	cfg, err := LoadConfigWithPath("genflow", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}

	if cfg.AppName != "genflow" {
		t.Errorf("AppName = %q, want %q", cfg.AppName, "genflow")
	}
	if cfg.Contexts == nil {
		t.Error("Contexts should be initialized")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file should be created")
	}
}

func TestConfig_AddContext(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadConfigWithPath("genflow", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}

	err = cfg.AddContext("production", &Context{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
	})
	if err != nil {
		t.Fatalf("AddContext error: %v", err)
	}

	got := cfg.Contexts["production"]
	if got == nil {
		t.Fatal("Context not added")
	}
	if got.Name != "production" {
		t.Errorf("Context.Name = %q, want %q", got.Name, "production")
	}
	if got.Provider != "openai" || got.Model != "gpt-4o-mini" {
		t.Errorf("Context = %+v, want provider openai model gpt-4o-mini", got)
	}
}

func TestConfig_UseAndDeleteContext(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadConfigWithPath("genflow", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	cfg.AddContext("ctx1", &Context{Provider: "lorem"})
	cfg.AddContext("ctx2", &Context{Provider: "gemini"})

	if err := cfg.UseContext("ctx1"); err != nil {
		t.Fatalf("UseContext error: %v", err)
	}
	if cfg.CurrentContext != "ctx1" {
		t.Errorf("CurrentContext = %q, want %q", cfg.CurrentContext, "ctx1")
	}
	if err := cfg.UseContext("nonexistent"); err == nil {
		t.Error("UseContext should fail for non-existent context")
	}

	if err := cfg.DeleteContext("ctx2"); err != nil {
		t.Fatalf("DeleteContext error: %v", err)
	}
	if _, ok := cfg.Contexts["ctx2"]; ok {
		t.Error("Context should be deleted")
	}

	// Deleting the current context clears the selection.
	if err := cfg.DeleteContext("ctx1"); err != nil {
		t.Fatalf("DeleteContext error: %v", err)
	}
	if cfg.CurrentContext != "" {
		t.Errorf("CurrentContext should be cleared, got %q", cfg.CurrentContext)
	}

	if err := cfg.DeleteContext("nonexistent"); err == nil {
		t.Error("DeleteContext should fail for non-existent context")
	}
}

func TestConfig_ResolveContext(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadConfigWithPath("genflow", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	cfg.AddContext("ctx1", &Context{APIKey: "key1"})
	cfg.AddContext("ctx2", &Context{APIKey: "key2"})
	cfg.UseContext("ctx1")

	ctx, err := cfg.ResolveContext("ctx2")
	if err != nil {
		t.Fatalf("ResolveContext(ctx2) error: %v", err)
	}
	if ctx.APIKey != "key2" {
		t.Errorf("APIKey = %q, want %q", ctx.APIKey, "key2")
	}

	ctx, err = cfg.ResolveContext("")
	if err != nil {
		t.Fatalf("ResolveContext('') error: %v", err)
	}
	if ctx.APIKey != "key1" {
		t.Errorf("APIKey = %q, want %q", ctx.APIKey, "key1")
	}
}

func TestConfig_ResolveContext_NoneSet(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadConfigWithPath("genflow", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	if _, err := cfg.ResolveContext(""); err == nil {
		t.Error("ResolveContext('') should fail when no current context")
	}
}

func TestConfig_ListContexts_Sorted(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadConfigWithPath("genflow", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	cfg.AddContext("staging", &Context{})
	cfg.AddContext("development", &Context{})
	cfg.AddContext("production", &Context{})

	names := cfg.ListContexts()
	want := []string{"development", "production", "staging"}
	if len(names) != len(want) {
		t.Fatalf("len(names) = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestConfig_Persistence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg1, err := LoadConfigWithPath("genflow", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	cfg1.AddContext("test", &Context{
		Provider:      "openai",
		Model:         "gpt-4o-mini",
		APIKey:        "secret-key",
		BaseURL:       "https://api.test.com",
		MaxSteps:      4,
		ContinueSteps: true,
	})
	cfg1.UseContext("test")

	cfg2, err := LoadConfigWithPath("genflow", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	if cfg2.CurrentContext != "test" {
		t.Errorf("CurrentContext = %q, want %q", cfg2.CurrentContext, "test")
	}

	ctx, err := cfg2.GetContext("test")
	if err != nil {
		t.Fatalf("GetContext error: %v", err)
	}
	if ctx.APIKey != "secret-key" || ctx.Provider != "openai" {
		t.Errorf("ctx = %+v, want persisted provider and key", ctx)
	}
	if ctx.MaxSteps != 4 || !ctx.ContinueSteps {
		t.Errorf("ctx = %+v, want persisted generation knobs", ctx)
	}
}

func TestConfig_PathAndDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg, err := LoadConfigWithPath("genflow", configPath)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	if cfg.Path() != configPath {
		t.Errorf("Path() = %q, want %q", cfg.Path(), configPath)
	}
	if cfg.Dir() != tmpDir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), tmpDir)
	}
}
