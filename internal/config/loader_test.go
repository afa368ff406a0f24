package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "LLM_PROVIDER", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY",
		"ENGRAM_CONFIG", "ENGRAM_DB_PATH", "TURN_DAILY_BUDGET_USD",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_RequiresOpenAIKeyForDefaultProvider(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.LLMClient.Provider)
	require.Equal(t, "gpt-4o-mini", cfg.LLMClient.OpenAI.Model)
	require.Equal(t, 12, cfg.Turn.MaxRounds)
	require.InDelta(t, 5.0, cfg.Turn.DailyBudgetUSD, 0.0001)
	require.Equal(t, 60, cfg.Engram.RRFK)
	require.Equal(t, 0.75, cfg.Engram.ConsolidationTau)
	require.Equal(t, "engram.db", cfg.Store.Path)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_PROVIDER", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_MergesMCPServersFromYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	const doc = `
mcp:
  servers:
    - name: filesystem
      command: ./mcp-fs
      args: ["--root", "/data"]
    - name: search
      url: https://search.example.com/mcp
      transport: sse
      bearer_token: tok
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("ENGRAM_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.MCP.Servers, 2)
	require.Equal(t, "filesystem", cfg.MCP.Servers[0].Name)
	require.Equal(t, []string{"--root", "/data"}, cfg.MCP.Servers[0].Args)
	require.Equal(t, "sse", cfg.MCP.Servers[1].Transport)
	require.Equal(t, "tok", cfg.MCP.Servers[1].BearerToken)
}

func TestLoad_MissingYAMLOverlayIsNotAnError(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ENGRAM_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.MCP.Servers)
}
