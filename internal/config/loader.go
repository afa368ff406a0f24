package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load resolves the runtime configuration from environment variables (with
// .env overlay), defaulting any field a YAML overlay doesn't set. The YAML
// path is read from ENGRAM_CONFIG, defaulting to "config.yaml" if present.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		LLMClient: LLMClientConfig{
			Provider: firstNonEmpty(os.Getenv("LLM_PROVIDER"), "openai"),
			OpenAI: OpenAIConfig{
				APIKey:      os.Getenv("OPENAI_API_KEY"),
				BaseURL:     os.Getenv("OPENAI_BASE_URL"),
				Model:       firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini"),
				LogPayloads: envBool("LOG_PROVIDER_PAYLOADS", false),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
				Model:   firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-3-7-sonnet-latest"),
				PromptCache: AnthropicPromptCacheConfig{
					Enabled: envBool("ANTHROPIC_PROMPT_CACHE", true),
				},
			},
			Google: GoogleConfig{
				APIKey:  os.Getenv("GOOGLE_API_KEY"),
				BaseURL: os.Getenv("GOOGLE_BASE_URL"),
				Model:   firstNonEmpty(os.Getenv("GOOGLE_MODEL"), "gemini-2.0-flash"),
				Timeout: envInt("GOOGLE_TIMEOUT_SECONDS", 60),
			},
			FallbackTo: envList("LLM_FALLBACK_PROVIDERS"),
		},
		Turn: TurnConfig{
			MaxRounds:            envInt("TURN_MAX_ROUNDS", 12),
			MaxToolParallelism:   envInt("TURN_MAX_TOOL_PARALLELISM", 4),
			DailyBudgetUSD:       envFloat("TURN_DAILY_BUDGET_USD", 5.0),
			ToolApprovalTimeoutS: envInt("TURN_TOOL_APPROVAL_TIMEOUT_SECONDS", 120),
			AutoApproveAll:       envBool("TURN_AUTO_APPROVE_ALL", false),
			SafeTools:            envList("TURN_SAFE_TOOLS"),
			ContextWindowTokens:  envInt("TURN_CONTEXT_WINDOW_TOKENS", 128000),
		},
		Engram: EngramConfig{
			RRFK:                  envInt("ENGRAM_RRF_K", 60),
			TextWeight:            envFloat("ENGRAM_TEXT_WEIGHT", 0.5),
			VectorWeight:          envFloat("ENGRAM_VECTOR_WEIGHT", 0.5),
			DedupJaccard:          envFloat("ENGRAM_DEDUP_JACCARD", 0.6),
			SpreadingHops:         envInt("ENGRAM_SPREADING_HOPS", 2),
			SpreadingDecay:        envFloat("ENGRAM_SPREADING_DECAY", 0.5),
			TrustRelevanceWeight:  envFloat("ENGRAM_TRUST_RELEVANCE_WEIGHT", 0.35),
			TrustAccuracyWeight:   envFloat("ENGRAM_TRUST_ACCURACY_WEIGHT", 0.25),
			TrustFreshnessWeight:  envFloat("ENGRAM_TRUST_FRESHNESS_WEIGHT", 0.20),
			TrustUtilityWeight:    envFloat("ENGRAM_TRUST_UTILITY_WEIGHT", 0.20),
			DecayHalfLifeDays:     envFloat("ENGRAM_DECAY_HALF_LIFE_DAYS", 30),
			ConsolidationTau:      envFloat("ENGRAM_CONSOLIDATION_TAU", 0.75),
			ConsolidationMinSize:  envInt("ENGRAM_CONSOLIDATION_MIN_SIZE", 3),
			ConsolidationBatch:    envInt("ENGRAM_CONSOLIDATION_BATCH", 200),
			GapDetectionMaxPerRun: envInt("ENGRAM_GAP_DETECTION_MAX_PER_RUN", 2),
			DefaultSecurityTier:   firstNonEmpty(os.Getenv("ENGRAM_DEFAULT_SECURITY_TIER"), "cleartext"),
			MomentumCap:           envInt("ENGRAM_MOMENTUM_CAP", 5),
			MomentumTTLHours:      envInt("ENGRAM_MOMENTUM_TTL_HOURS", 24),
			MomentumQueryWeight:   envFloat("ENGRAM_MOMENTUM_QUERY_WEIGHT", 0.7),
			MomentumHistoryWeight: envFloat("ENGRAM_MOMENTUM_HISTORY_WEIGHT", 0.3),
		},
		Redis: RedisConfig{
			Enabled:               envBool("REDIS_ENABLED", false),
			Addr:                  firstNonEmpty(os.Getenv("REDIS_ADDR"), "localhost:6379"),
			Password:              os.Getenv("REDIS_PASSWORD"),
			DB:                    envInt("REDIS_DB", 0),
			TLSInsecureSkipVerify: envBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		},
		Embedding: EmbeddingConfig{
			Host:   firstNonEmpty(os.Getenv("EMBEDDING_HOST"), "http://localhost:11434/v1/embeddings"),
			APIKey: os.Getenv("EMBEDDING_API_KEY"),
			Model:  firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "nomic-embed-text-v1.5.Q8_0"),
			Dim:    envInt("EMBEDDING_DIM", 768),
		},
		ContextBuilder: ContextBuilderConfig{
			ReplyReserveFraction: envFloat("CONTEXTBUILDER_REPLY_RESERVE_FRACTION", 0.15),
			MaxSystemFraction:    envFloat("CONTEXTBUILDER_MAX_SYSTEM_FRACTION", 0.45),
			MinHistoryFraction:   envFloat("CONTEXTBUILDER_MIN_HISTORY_FRACTION", 0.35),
		},
		Vault: VaultConfig{
			SkillKeyName:  firstNonEmpty(os.Getenv("VAULT_SKILL_KEY_NAME"), "engram-skill-vault"),
			MemoryKeyName: firstNonEmpty(os.Getenv("VAULT_MEMORY_KEY_NAME"), "engram-field-encryption-key"),
		},
		Channels: ChannelsConfig{
			Discord: DiscordChannelConfig{
				Enabled:      envBool("DISCORD_ENABLED", false),
				BotToken:     os.Getenv("DISCORD_BOT_TOKEN"),
				AgentID:      firstNonEmpty(os.Getenv("DISCORD_AGENT_ID"), "default"),
				AllowedGuild: os.Getenv("DISCORD_ALLOWED_GUILD"),
			},
			Telegram: TelegramChannelConfig{
				Enabled:  envBool("TELEGRAM_ENABLED", false),
				BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
				AgentID:  firstNonEmpty(os.Getenv("TELEGRAM_AGENT_ID"), "default"),
			},
			WebChat: WebChatChannelConfig{
				Enabled:     envBool("WEBCHAT_ENABLED", false),
				ListenAddr:  firstNonEmpty(os.Getenv("WEBCHAT_LISTEN_ADDR"), ":8443"),
				TLSCertFile: os.Getenv("WEBCHAT_TLS_CERT_FILE"),
				TLSKeyFile:  os.Getenv("WEBCHAT_TLS_KEY_FILE"),
				BearerToken: os.Getenv("WEBCHAT_BEARER_TOKEN"),
				AgentID:     firstNonEmpty(os.Getenv("WEBCHAT_AGENT_ID"), "default"),
				StaticDir:   firstNonEmpty(os.Getenv("WEBCHAT_STATIC_DIR"), "web"),
			},
		},
		Obs: ObsConfig{
			ServiceName:    firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "engram"),
			ServiceVersion: os.Getenv("OTEL_SERVICE_VERSION"),
			Environment:    firstNonEmpty(os.Getenv("OTEL_ENVIRONMENT"), "development"),
			OTLP:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		Store: StoreConfig{
			Path: firstNonEmpty(os.Getenv("ENGRAM_DB_PATH"), "engram.db"),
		},
		LogPath:  os.Getenv("LOG_PATH"),
		LogLevel: firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
	}

	if err := mergeYAMLOverlay(&cfg); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.LLMClient.OpenAI.APIKey) == "" &&
		cfg.LLMClient.Provider != "anthropic" && cfg.LLMClient.Provider != "google" {
		return Config{}, fmt.Errorf("config: OPENAI_API_KEY is required for provider %q", cfg.LLMClient.Provider)
	}

	switch cfg.LLMClient.Provider {
	case "", "openai", "local", "anthropic", "google":
	default:
		return Config{}, fmt.Errorf("config: unsupported LLM_PROVIDER %q", cfg.LLMClient.Provider)
	}

	return cfg, nil
}

// yamlOverlay mirrors the subset of Config an operator can override via a
// checked-in YAML file rather than environment variables. Only MCP server
// definitions are read from it; everything else comes from the environment.
type yamlOverlay struct {
	MCP struct {
		Servers []mcpServerYAML `yaml:"servers"`
	} `yaml:"mcp"`
}

type mcpServerYAML struct {
	Name             string            `yaml:"name"`
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	Env              map[string]string `yaml:"env"`
	KeepAliveSeconds int               `yaml:"keep_alive_seconds"`
	PathDependent    bool              `yaml:"path_dependent"`
	URL              string            `yaml:"url"`
	Transport        string            `yaml:"transport"`
	Headers          map[string]string `yaml:"headers"`
	BearerToken      string            `yaml:"bearer_token"`
	Origin           string            `yaml:"origin"`
	ProtocolVersion  string            `yaml:"protocol_version"`
	HTTP             struct {
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		ProxyURL       string `yaml:"proxy_url"`
		TLS            struct {
			InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
		} `yaml:"tls"`
	} `yaml:"http"`
}

func mergeYAMLOverlay(cfg *Config) error {
	path := firstNonEmpty(os.Getenv("ENGRAM_CONFIG"), "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	for _, s := range overlay.MCP.Servers {
		cfg.MCP.Servers = append(cfg.MCP.Servers, MCPServerConfig{
			Name:             s.Name,
			Command:          s.Command,
			Args:             s.Args,
			Env:              s.Env,
			KeepAliveSeconds: s.KeepAliveSeconds,
			PathDependent:    s.PathDependent,
			URL:              s.URL,
			Transport:        firstNonEmpty(s.Transport, "http"),
			Headers:          s.Headers,
			BearerToken:      s.BearerToken,
			Origin:           s.Origin,
			ProtocolVersion:  s.ProtocolVersion,
			HTTP: MCPHTTPConfig{
				TimeoutSeconds: s.HTTP.TimeoutSeconds,
				ProxyURL:       s.HTTP.ProxyURL,
				TLS:            MCPTLSConfig{InsecureSkipVerify: s.HTTP.TLS.InsecureSkipVerify},
			},
		})
	}

	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
