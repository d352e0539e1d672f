package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLayersDefaultsFileEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lolo.toml")
	data := `
[llm]
model = "gpt-5.2"
api_key = "file-key"

[database]
driver = "sqlite"
path = "/tmp/test.db"

[tools]
disabled = ["shell_exec"]

[pricing.gpt-5-exp]
input = 3.0
cached = 0.3
output = 12.0
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOLO_LLM_API_KEY", "env-key")

	cfg := Load(path)

	if cfg.LLM.APIKey != "env-key" {
		t.Fatalf("env did not win: %q", cfg.LLM.APIKey)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Fatalf("file value lost: %q", cfg.Database.Path)
	}
	if cfg.Server.Listen != ":8484" {
		t.Fatalf("default lost: %q", cfg.Server.Listen)
	}
	if cfg.Tools.Enabled("shell_exec") {
		t.Fatal("disabled tool still enabled")
	}
	if !cfg.Tools.Enabled("fetch_url") {
		t.Fatal("unlisted tool disabled")
	}
	if p, ok := cfg.Pricing["gpt-5-exp"]; !ok || p.Input != 3.0 {
		t.Fatalf("pricing override missing: %+v", cfg.Pricing)
	}
	// Embedding key falls back to the LLM key.
	if cfg.Embedding.APIKey != "env-key" {
		t.Fatalf("embedding fallback = %q", cfg.Embedding.APIKey)
	}
}

func TestLoadServiceEnvNames(t *testing.T) {
	// The services' own credential names work without the LOLO_ prefix.
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("BFL_API_KEY", "bfl-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("BOTBIN_API_KEY", "botbin-key")
	t.Setenv("GO_BOT_CALLBACK_URL", "http://irc.local:9000")

	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))

	if cfg.LLM.APIKey != "openai-key" {
		t.Fatalf("llm key = %q", cfg.LLM.APIKey)
	}
	if cfg.YouTube.APIKey != "google-key" {
		t.Fatalf("youtube key = %q", cfg.YouTube.APIKey)
	}
	if cfg.Images.FluxAPIKey != "bfl-key" || cfg.Images.GeminiAPIKey != "gemini-key" {
		t.Fatalf("image keys = %+v", cfg.Images)
	}
	if cfg.Paste.APIKey != "botbin-key" {
		t.Fatalf("paste key = %q", cfg.Paste.APIKey)
	}
	if cfg.IRC.CallbackURL != "http://irc.local:9000" {
		t.Fatalf("callback url = %q", cfg.IRC.CallbackURL)
	}
}

func TestLoadPrefixedEnvWinsOverServiceNames(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("LOLO_LLM_API_KEY", "lolo-key")

	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.LLM.APIKey != "lolo-key" {
		t.Fatalf("llm key = %q", cfg.LLM.APIKey)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.LLM.Model != "gpt-5.2" || cfg.Database.Driver != "sqlite" {
		t.Fatalf("defaults = %+v", cfg)
	}
}
