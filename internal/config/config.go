// Package config defines the runtime configuration surface for the agent
// daemon: provider credentials, turn-loop and budget limits, memory tuning,
// MCP servers, and channel bridge credentials.
package config

// OpenAIConfig configures the OpenAI-shaped provider client. It is also used
// for the "local" provider variant (self-hosted OpenAI-compatible servers).
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	LogPayloads bool
	ExtraParams map[string]any
}

// AnthropicPromptCacheConfig controls Anthropic prompt-cache-control hints.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic provider client.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

// GoogleConfig configures the Gemini provider client.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

// LLMClientConfig selects the active provider and carries its credentials.
// Provider is one of "", "openai", "local", "anthropic", "google".
type LLMClientConfig struct {
	Provider   string
	FallbackTo []string // ordered provider names tried on billing/auth/quota failure
	OpenAI     OpenAIConfig
	Anthropic  AnthropicConfig
	Google     GoogleConfig
}

// MCPServerConfig describes one configured MCP server, reachable either by
// spawning a local command (stdio transport) or by dialing a URL
// (Streamable HTTP or SSE transport, selected by Transport).
type MCPServerConfig struct {
	Name             string
	Command          string
	Args             []string
	Env              map[string]string
	KeepAliveSeconds int
	PathDependent    bool

	URL             string
	Transport       string // "http" (default, Streamable HTTP) or "sse"
	Headers         map[string]string
	BearerToken     string
	Origin          string
	ProtocolVersion string
	HTTP            MCPHTTPConfig
}

// MCPHTTPConfig controls the HTTP transport used to reach a remote MCP server.
type MCPHTTPConfig struct {
	TimeoutSeconds int
	ProxyURL       string
	TLS            MCPTLSConfig
}

// MCPTLSConfig controls TLS verification for a remote MCP server.
type MCPTLSConfig struct {
	InsecureSkipVerify bool
}

// MCPConfig is the list of MCP servers the agent should connect to at startup.
type MCPConfig struct {
	Servers []MCPServerConfig
}

// TurnConfig tunes the agent turn loop: round limits, spend tracking, and
// the human-in-the-loop approval policy for tool calls.
type TurnConfig struct {
	MaxRounds            int
	MaxToolParallelism   int
	DailyBudgetUSD       float64
	ToolApprovalTimeoutS int
	AutoApproveAll       bool
	SafeTools            []string // tool names that never require approval
	ContextWindowTokens  int
}

// EmbeddingConfig points at the OpenAI-compatible embeddings endpoint used
// for episodic-memory vectors and consolidation clustering.
type EmbeddingConfig struct {
	Host   string // full endpoint URL, e.g. http://localhost:8080/v1/embeddings
	APIKey string
	Model  string // e.g. nomic-embed-text-v1.5.Q8_0
	Dim    int    // vector width; used to zero-fill on embedding failure
}

// RedisConfig points at the Redis instance backing the working-memory
// momentum cache. Disabled by default; momentum recall degrades to a no-op
// when Enabled is false so the daemon still runs without Redis present.
type RedisConfig struct {
	Enabled               bool
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// EngramConfig tunes the memory graph: retrieval fusion, trust scoring,
// decay, consolidation, and encryption defaults.
type EngramConfig struct {
	RRFK                  int     // Reciprocal Rank Fusion constant k
	TextWeight            float64 // base weight for BM25 candidates before query-adaptive blend
	VectorWeight          float64 // base weight for vector candidates
	DedupJaccard          float64 // cross-type dedup threshold
	SpreadingHops         int
	SpreadingDecay        float64
	TrustRelevanceWeight  float64
	TrustAccuracyWeight   float64
	TrustFreshnessWeight  float64
	TrustUtilityWeight    float64
	DecayHalfLifeDays     float64
	ConsolidationTau      float64 // cosine-similarity clustering threshold
	ConsolidationMinSize  int     // minimum cluster size to consolidate
	ConsolidationBatch    int     // max memories considered per consolidation run
	GapDetectionMaxPerRun int
	DefaultSecurityTier   string // "cleartext", "sensitive", or "confidential"

	MomentumCap           int     // max query embeddings retained per agent
	MomentumTTLHours      int     // Redis key TTL for the momentum list
	MomentumQueryWeight   float64 // weight on the fresh query embedding when blending
	MomentumHistoryWeight float64 // weight on the exp-decayed momentum average
}

// ContextBuilderConfig overrides the budget-partitioning fractions used when
// assembling a turn's prompt. MaxSystemFraction and MinHistoryFraction apply
// when > 0; ReplyReserveFraction is not read, since the reply reserve is always
// the model's max output tokens (at least 1024).
type ContextBuilderConfig struct {
	ReplyReserveFraction float64
	MaxSystemFraction    float64
	MinHistoryFraction   float64
}

// VaultConfig names the keychain entries holding the module's two
// AES-256-GCM keys.
type VaultConfig struct {
	SkillKeyName  string
	MemoryKeyName string
}

// DiscordChannelConfig configures the Discord ingress bridge.
type DiscordChannelConfig struct {
	Enabled      bool
	BotToken     string
	AgentID      string
	AllowedGuild string
}

// TelegramChannelConfig configures the Telegram long-poll ingress bridge.
type TelegramChannelConfig struct {
	Enabled  bool
	BotToken string
	AgentID  string
}

// WebChatChannelConfig configures the web-chat TLS ingress bridge.
type WebChatChannelConfig struct {
	Enabled     bool
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	BearerToken string
	AgentID     string
	StaticDir   string
}

// ChannelsConfig groups the per-platform bridge configurations.
type ChannelsConfig struct {
	Discord  DiscordChannelConfig
	Telegram TelegramChannelConfig
	WebChat  WebChatChannelConfig
}

// ObsConfig configures OpenTelemetry tracing/metrics export.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// StoreConfig configures the SQLite-backed persistence layer.
type StoreConfig struct {
	Path string // filesystem path to the SQLite database file
}

// Config is the fully resolved runtime configuration.
type Config struct {
	LLMClient      LLMClientConfig
	MCP            MCPConfig
	Turn           TurnConfig
	Engram         EngramConfig
	Redis          RedisConfig
	Embedding      EmbeddingConfig
	ContextBuilder ContextBuilderConfig
	Vault          VaultConfig
	Channels       ChannelsConfig
	Obs            ObsConfig
	Store          StoreConfig

	LogPath  string
	LogLevel string
}
