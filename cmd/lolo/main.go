// Command lolo runs the assistant core: the HTTP boundary the IRC
// frontend talks to, the reasoning loop behind it, the reminder
// scheduler, and the message-embedding backfill job.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nevindra/lolo"
	"github.com/nevindra/lolo/fetch"
	"github.com/nevindra/lolo/httpapi"
	"github.com/nevindra/lolo/internal/config"
	"github.com/nevindra/lolo/ircx"
	"github.com/nevindra/lolo/kb"
	"github.com/nevindra/lolo/observer"
	"github.com/nevindra/lolo/paste"
	"github.com/nevindra/lolo/provider/openai"
	"github.com/nevindra/lolo/reminder"
	"github.com/nevindra/lolo/rules"
	"github.com/nevindra/lolo/sandbox"
	"github.com/nevindra/lolo/store/postgres"
	"github.com/nevindra/lolo/store/sqlite"
	"github.com/nevindra/lolo/tools/bugs"
	"github.com/nevindra/lolo/tools/code"
	"github.com/nevindra/lolo/tools/control"
	"github.com/nevindra/lolo/tools/history"
	"github.com/nevindra/lolo/tools/images"
	irctool "github.com/nevindra/lolo/tools/irc"
	"github.com/nevindra/lolo/tools/knowledge"
	"github.com/nevindra/lolo/tools/moltbook"
	"github.com/nevindra/lolo/tools/pastebin"
	"github.com/nevindra/lolo/tools/remember"
	"github.com/nevindra/lolo/tools/remind"
	"github.com/nevindra/lolo/tools/stats"
	"github.com/nevindra/lolo/tools/web"
	"github.com/nevindra/lolo/tools/youtube"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default lolo.toml)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load(configPath)
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("no LLM API key configured (set LOLO_LLM_API_KEY)")
	}

	// Persistence.
	var store lolo.Store
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.Database.DSN, postgres.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		store = pg
	default:
		store = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	defer store.Close()

	// Provider and embeddings.
	var provider lolo.Provider = openai.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		openai.WithLogger(logger))
	embedder := openai.NewEmbedder(cfg.Embedding.APIKey, cfg.Embedding.Model,
		cfg.Embedding.BaseURL, cfg.Embedding.Dimensions)

	prices := lolo.PriceTable(cfg.Pricing)

	// Observability, when enabled. Tools get wrapped below.
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, prices)
		if err != nil {
			return fmt.Errorf("observer: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		provider = observer.WrapProvider(provider, inst)
	}

	// Vector index and user memories.
	kbManager, err := kb.New(cfg.Vector.Path, embedder, logger)
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	userRules, err := rules.Open(cfg.Rules.Path, logger)
	if err != nil {
		return fmt.Errorf("user rules: %w", err)
	}

	// Shared service clients.
	fetcher := fetch.New()
	pasteClient := paste.New(cfg.Paste.URL, paste.WithAPIKey(cfg.Paste.APIKey))
	ircClient := ircx.New(cfg.IRC.CallbackURL, ircx.WithLogger(logger))

	var sandboxOpts []sandbox.Option
	sandboxOpts = append(sandboxOpts, sandbox.WithLogger(logger))
	if cfg.Sandbox.AutoStart {
		sandboxOpts = append(sandboxOpts, sandbox.WithAutoStart(
			cfg.Sandbox.Container, time.Duration(cfg.Sandbox.IdleStop)*time.Minute))
	}
	runner, err := sandbox.New(cfg.Sandbox.URL, sandboxOpts...)
	if err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	defer runner.Close()

	// Quotas: shared hourly windows for generation, per-user for deep mode.
	imageQuota := lolo.NewSharedWindow(3, time.Hour)
	videoQuota := lolo.NewSharedWindow(3, time.Hour)
	deepQuota := lolo.NewUserWindow(3, 24*time.Hour)

	registry, err := buildRegistry(cfg, registryDeps{
		store:      store,
		kb:         kbManager,
		rules:      userRules,
		fetcher:    fetcher,
		paste:      pasteClient,
		irc:        ircClient,
		runner:     runner,
		imageQuota: imageQuota,
		videoQuota: videoQuota,
		inst:       inst,
	})
	if err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}
	logger.Info("tools registered", "names", registry.Names())

	prompts := lolo.NewPromptBuilder(cfg.SystemPrompt(), cfg.DeepPreamble())
	orch := lolo.NewOrchestrator(provider, registry, prompts,
		lolo.WithStore(store),
		lolo.WithPricing(prices),
		lolo.WithMemorySource(userRules),
		lolo.WithDeepQuota(deepQuota),
		lolo.WithImageQuota(imageQuota),
		lolo.WithLogger(logger),
	)

	// Background loops.
	sched := reminder.New(store, ircClient, logger)
	go sched.Run(ctx)
	backfiller := lolo.NewBackfiller(store, kbManager, logger)
	go backfiller.Run(ctx)

	// HTTP boundary.
	api := httpapi.New(orch, store, registry, nil,
		httpapi.WithLogger(logger),
		httpapi.WithBotNick(cfg.IRC.BotNick),
	)
	server := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: api.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen, "model", cfg.LLM.Model)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			return err
		}
	}
	return nil
}

// registryDeps bundles what the tool constructors need.
type registryDeps struct {
	store      lolo.Store
	kb         *kb.Manager
	rules      *rules.Store
	fetcher    *fetch.Fetcher
	paste      *paste.Client
	irc        *ircx.Client
	runner     *sandbox.Runner
	imageQuota *lolo.SharedWindow
	videoQuota *lolo.SharedWindow
	inst       *observer.Instruments
}

// buildRegistry registers every enabled tool. The [tools] disabled list
// in the config works on family names.
func buildRegistry(cfg config.Config, deps registryDeps) (*lolo.Registry, error) {
	registry := lolo.NewRegistry()

	add := func(name string, t lolo.Tool) error {
		if !cfg.Tools.Enabled(name) {
			return nil
		}
		if deps.inst != nil {
			t = observer.WrapTool(t, deps.inst)
		}
		return registry.Add(t)
	}

	tools := []struct {
		name string
		tool lolo.Tool
	}{
		{"control", control.New()},
		{"web_search", &web.Search{}},
		{"fetch_url", web.NewFetch(deps.fetcher)},
		{"code", code.New(deps.runner, deps.paste)},
		{"create_paste", pastebin.New(deps.paste)},
		{"knowledge", knowledge.New(deps.kb, deps.fetcher)},
		{"query_chat_history", history.New(deps.store, deps.kb)},
		{"manage_user_rules", remember.New(deps.rules)},
		{"irc_command", irctool.New(deps.irc)},
		{"reminder", remind.New(deps.store)},
		{"bug_report", bugs.New(deps.store)},
		{"usage_stats", stats.New(deps.store)},
		{"flux", images.NewFlux(cfg.Images.FluxAPIKey, deps.imageQuota, deps.paste)},
		{"gpt_image", images.NewGPTImage(cfg.LLM.APIKey, cfg.Images.OpenAIModel, deps.imageQuota, deps.paste)},
		{"gemini_image", images.NewGemini(cfg.Images.GeminiAPIKey, deps.imageQuota, deps.paste)},
		{"sora_video", images.NewSora(cfg.LLM.APIKey, deps.videoQuota, deps.paste)},
		{"analyze_image", images.NewAnalyze()},
		{"youtube_search", youtube.New(cfg.YouTube.APIKey)},
		{"moltbook_post", moltbook.New(cfg.Moltbook.BaseURL, cfg.Moltbook.APIKey)},
	}
	for _, t := range tools {
		if err := add(t.name, t.tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
