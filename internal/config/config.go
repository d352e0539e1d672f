package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/lolo"
)

type Config struct {
	Server    ServerConfig           `toml:"server"`
	LLM       LLMConfig              `toml:"llm"`
	Embedding EmbeddingConfig        `toml:"embedding"`
	Database  DatabaseConfig         `toml:"database"`
	Vector    VectorConfig           `toml:"vector"`
	Prompt    PromptConfig           `toml:"prompt"`
	IRC       IRCConfig              `toml:"irc"`
	Sandbox   SandboxConfig          `toml:"sandbox"`
	Paste     PasteConfig            `toml:"paste"`
	Images    ImagesConfig           `toml:"images"`
	YouTube   YouTubeConfig          `toml:"youtube"`
	Moltbook  MoltbookConfig         `toml:"moltbook"`
	Tools     ToolsConfig            `toml:"tools"`
	Rules     RulesConfig            `toml:"rules"`
	Observer  ObserverConfig         `toml:"observer"`
	Pricing   map[string]lolo.Pricing `toml:"pricing"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
}

type EmbeddingConfig struct {
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
}

type DatabaseConfig struct {
	// Driver selects the store backend: "sqlite" (default) or "postgres".
	Driver string `toml:"driver"`
	Path   string `toml:"path"` // sqlite file
	DSN    string `toml:"dsn"`  // postgres connection string
}

type VectorConfig struct {
	// Path of the chromem persistence directory. Empty keeps the index
	// in memory only.
	Path string `toml:"path"`
}

type PromptConfig struct {
	SystemPromptFile string `toml:"system_prompt_file"`
	DeepPreambleFile string `toml:"deep_preamble_file"`
}

type IRCConfig struct {
	// CallbackURL is the IRC client's command endpoint, used by the
	// irc_command tool and reminder delivery.
	CallbackURL string `toml:"callback_url"`
	BotNick     string `toml:"bot_nick"`
}

type SandboxConfig struct {
	// URL of the code-execution service. When AutoStart is set the
	// service container is started on demand and stopped when idle.
	URL       string `toml:"url"`
	AutoStart bool   `toml:"auto_start"`
	Container string `toml:"container"`
	IdleStop  int    `toml:"idle_stop_minutes"`
}

type PasteConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

type ImagesConfig struct {
	FluxAPIKey   string `toml:"flux_api_key"`
	GeminiAPIKey string `toml:"gemini_api_key"`
	OpenAIModel  string `toml:"openai_model"`
}

type YouTubeConfig struct {
	APIKey string `toml:"api_key"`
}

type MoltbookConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// ToolsConfig switches individual tools on and off. Everything defaults
// to enabled except the ones that need credentials or host access.
type ToolsConfig struct {
	Disabled []string `toml:"disabled"`
}

type RulesConfig struct {
	Path string `toml:"path"`
}

type ObserverConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// Enabled reports whether a tool name survives the disabled list.
func (t ToolsConfig) Enabled(name string) bool {
	for _, d := range t.Disabled {
		if d == name {
			return false
		}
	}
	return true
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:    ServerConfig{Listen: ":8484"},
		LLM:       LLMConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-5.2"},
		Embedding: EmbeddingConfig{BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-small", Dimensions: 1536},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "lolo.db"},
		Vector:    VectorConfig{Path: "lolo.vec"},
		Sandbox:   SandboxConfig{URL: "http://127.0.0.1:8194", Container: "lolo-sandbox", IdleStop: 10},
		Rules:     RulesConfig{Path: "user_rules.json"},
		Pricing:   lolo.DefaultPricing,
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "lolo.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides. The LOLO_-prefixed names are ours; the unprefixed
	// ones are the credential names the services themselves document, so
	// a deployment that already exports them needs no renaming.
	if v := os.Getenv("LOLO_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := firstEnv("LOLO_LLM_API_KEY", "OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LOLO_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("LOLO_DATABASE_DSN"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	if v := firstEnv("LOLO_IRC_CALLBACK_URL", "GO_BOT_CALLBACK_URL"); v != "" {
		cfg.IRC.CallbackURL = v
	}
	if v := firstEnv("LOLO_FLUX_API_KEY", "BFL_API_KEY"); v != "" {
		cfg.Images.FluxAPIKey = v
	}
	if v := firstEnv("LOLO_GEMINI_API_KEY", "GEMINI_API_KEY"); v != "" {
		cfg.Images.GeminiAPIKey = v
	}
	if v := firstEnv("LOLO_YOUTUBE_API_KEY", "GOOGLE_API_KEY"); v != "" {
		cfg.YouTube.APIKey = v
	}
	if v := os.Getenv("LOLO_MOLTBOOK_API_KEY"); v != "" {
		cfg.Moltbook.APIKey = v
	}
	if v := os.Getenv("LOLO_PASTE_URL"); v != "" {
		cfg.Paste.URL = v
	}
	if v := firstEnv("LOLO_PASTE_API_KEY", "BOTBIN_API_KEY"); v != "" {
		cfg.Paste.APIKey = v
	}
	if os.Getenv("LOLO_OBSERVER_ENABLED") == "true" || os.Getenv("LOLO_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if len(cfg.Pricing) == 0 {
		cfg.Pricing = lolo.DefaultPricing
	}

	return cfg
}

// firstEnv returns the first non-empty variable among names.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// SystemPrompt loads the system prompt file, falling back to a built-in
// default when unset or unreadable.
func (c Config) SystemPrompt() string {
	if c.Prompt.SystemPromptFile != "" {
		if data, err := os.ReadFile(c.Prompt.SystemPromptFile); err == nil {
			return string(data)
		}
	}
	return defaultSystemPrompt
}

// DeepPreamble loads the deep-mode preamble file, falling back to a
// built-in default.
func (c Config) DeepPreamble() string {
	if c.Prompt.DeepPreambleFile != "" {
		if data, err := os.ReadFile(c.Prompt.DeepPreambleFile); err == nil {
			return string(data)
		}
	}
	return defaultDeepPreamble
}

const defaultSystemPrompt = `You are an IRC assistant. Keep replies short and factual; IRC lines are narrow. Use your tools when they help. If the conversation does not call for a reply, use null_response instead of forcing one.`

const defaultDeepPreamble = `Deep mode is active: take your time, reason step by step, verify claims with tools before asserting them, and prefer thoroughness over brevity.`
