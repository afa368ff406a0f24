package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"engram/internal/channels"
	"engram/internal/channels/discord"
	"engram/internal/channels/telegram"
	"engram/internal/channels/webchat"
	"engram/internal/config"
	"engram/internal/engram"
	"engram/internal/llm/providers"
	"engram/internal/mcp"
	"engram/internal/observability"
	"engram/internal/store"
	"engram/internal/toolsreg"
	"engram/internal/vault"
)

func main() {
	// Load environment from .env (or fall back to example.env) before the
	// logger is initialized so LOG_PATH/LOG_LEVEL are respected.
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}
	logPath, logLevel := os.Getenv("LOG_PATH"), os.Getenv("LOG_LEVEL")
	if logPath == "" {
		logPath = "engramd.log"
	}
	if logLevel == "" {
		logLevel = "trace"
	}
	observability.InitLogger(logPath, logLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)

	providerChain, err := providers.BuildWithFallback(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build llm providers")
	}

	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	keyring := vault.NewKeyRing("engram")
	embedder := engram.NewHTTPEmbedder(cfg.Embedding)
	momentum, err := engram.NewMomentumCache(cfg.Redis, cfg.Engram.MomentumCap, cfg.Engram.MomentumTTLHours)
	if err != nil {
		log.Warn().Err(err).Msg("momentum cache unavailable, continuing without working-memory momentum")
		momentum = nil
	}
	engramStore := engram.NewStore(db, embedder, keyring, cfg.Vault, cfg.Engram, momentum)

	registry := toolsreg.NewRegistry()
	mcpManager := mcp.NewManager()
	if err := mcpManager.RegisterFromConfig(ctx, registry, cfg.MCP); err != nil {
		log.Warn().Err(err).Msg("mcp server registration incomplete")
	}

	deps := channels.Deps{
		Store:     db,
		Engram:    engramStore,
		Providers: providerChain,
		Tools:     registry,
		TurnCfg:   cfg.Turn,
		CtxCfg:    cfg.ContextBuilder,
		Routing: channels.StaticRouter{
			DefaultModel:        primaryModel(cfg),
			DefaultSystemPrompt: defaultSystemPrompt,
		},
	}

	go runConsolidationLoop(ctx, engramStore, configuredAgentIDs(cfg))

	runBridges(ctx, cfg, deps)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprintln(w, "ok") })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprintln(w, "ready") })

	srv := &http.Server{Addr: ":8088", Handler: mux}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("engramd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("engramd shutting down")
}

const defaultSystemPrompt = "You are a helpful, local-first AI agent. Be concise and cite memory only when it is directly relevant."

func primaryModel(cfg config.Config) string {
	switch cfg.LLMClient.Provider {
	case "anthropic":
		return cfg.LLMClient.Anthropic.Model
	case "google":
		return cfg.LLMClient.Google.Model
	default:
		return cfg.LLMClient.OpenAI.Model
	}
}

// runBridges starts every enabled channel bridge as a background goroutine;
// a bridge failing to start only logs — it never aborts daemon startup.
func runBridges(ctx context.Context, cfg config.Config, deps channels.Deps) {
	if cfg.Channels.Discord.Enabled {
		d := cfg.Channels.Discord
		allowed := map[string]bool{}
		if d.AllowedGuild != "" {
			allowed[d.AllowedGuild] = true
		}
		bridge := discord.New(discord.Config{
			Token:         d.BotToken,
			AgentID:       d.AgentID,
			AllowedGuilds: allowed,
		}, deps)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("discord bridge exited")
			}
		}()
	}

	if cfg.Channels.Telegram.Enabled {
		t := cfg.Channels.Telegram
		bridge := telegram.New(telegram.Config{Token: t.BotToken, AgentID: t.AgentID}, deps)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("telegram bridge exited")
			}
		}()
	}

	if cfg.Channels.WebChat.Enabled {
		w := cfg.Channels.WebChat
		srv := webchat.NewServer(webchat.Config{
			BearerToken:  w.BearerToken,
			AgentID:      w.AgentID,
			CookieSecure: w.TLSCertFile != "",
		}, deps)
		go func() {
			var err error
			if w.TLSCertFile != "" && w.TLSKeyFile != "" {
				err = serveTLS(ctx, w.ListenAddr, srv.Router(), w.TLSCertFile, w.TLSKeyFile)
			} else {
				err = webchat.Serve(ctx, w.ListenAddr, srv.Router())
			}
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("webchat bridge exited")
			}
		}()
	}
}

func serveTLS(ctx context.Context, addr string, handler http.Handler, certFile, keyFile string) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServeTLS(certFile, keyFile) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func configuredAgentIDs(cfg config.Config) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(cfg.Channels.Discord.AgentID)
	add(cfg.Channels.Telegram.AgentID)
	add(cfg.Channels.WebChat.AgentID)
	return out
}

// runConsolidationLoop periodically clusters fresh episodic memories into
// semantic facts and runs the decay sweep (ApplyDecay) for every configured
// agent, mirroring spec.md §4.4's consolidation engine running as a
// background daemon task rather than inline with any single turn. It does
// not securely delete the memories the decay sweep reports.
func runConsolidationLoop(ctx context.Context, st *engram.Store, agentIDs []string) {
	if len(agentIDs) == 0 {
		return
	}
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, agentID := range agentIDs {
				if _, err := st.RunConsolidation(ctx, agentID); err != nil {
					log.Warn().Err(err).Str("agent_id", agentID).Msg("consolidation_run_failed")
				}
				if _, err := st.ApplyDecay(ctx, agentID, 0.05); err != nil {
					log.Warn().Err(err).Str("agent_id", agentID).Msg("decay_run_failed")
				}
			}
		}
	}
}
