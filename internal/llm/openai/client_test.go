package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"engram/internal/config"
	"engram/internal/llm"
)

func TestFirstNonEmpty(t *testing.T) {
	if firstNonEmpty("", "a", "b") != "a" {
		t.Fatalf("unexpected firstNonEmpty")
	}
}

func TestIsEmptyArgs(t *testing.T) {
	cases := map[string]bool{
		"":         true,
		"null":     true,
		"{}":       true,
		"[]":       true,
		`{"a":1}`:  false,
		"not json": false,
	}
	for in, want := range cases {
		if got := isEmptyArgs(in); got != want {
			t.Errorf("isEmptyArgs(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestChatReturnsText(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello","tool_calls":[]}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"}
	cli := New(c, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := cli.Chat(ctx, []llm.Message{{Role: "user", Content: "hi"}}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Content != "hello" {
		t.Fatalf("expected hello, got %q", msg.Content)
	}
}

type testStreamHandler struct {
	deltas []string
	usage  llm.Usage
}

func (h *testStreamHandler) OnDelta(content string) {
	h.deltas = append(h.deltas, content)
}

func (h *testStreamHandler) OnToolCall(tc llm.ToolCall) {
}

func (h *testStreamHandler) OnThoughtSummary(string) {
}

func (h *testStreamHandler) OnThoughtSignature(string) {
}

func (h *testStreamHandler) OnUsage(u llm.Usage) {
	h.usage = u
}

func TestChatStreamSurfacesUsage(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":2,\"total_tokens\":14}}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"}
	cli := New(c, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	handler := &testStreamHandler{}
	if err := cli.ChatStream(ctx, []llm.Message{{Role: "user", Content: "hi"}}, nil, "", handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handler.usage.InputTokens != 12 || handler.usage.OutputTokens != 2 {
		t.Fatalf("expected usage {12,2}, got %+v", handler.usage)
	}
}
