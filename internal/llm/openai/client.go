package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"engram/internal/config"
	"engram/internal/llm"
	"engram/internal/observability"
)

// Client drives OpenAI-compatible chat completions (OpenAI proper, or any
// self-hosted endpoint exposing the same wire shape) through the official SDK.
type Client struct {
	sdk         sdk.Client
	model       string
	extra       map[string]any
	logPayloads bool
}

// extractThoughtSignature pulls a Gemini 3 thought signature out of a raw
// tool-call JSON payload, checking both the snake_case and camelCase shapes
// the OpenAI-compatible endpoint has been observed to emit it in.
func extractThoughtSignature(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return ""
	}
	if ec, ok := m["extra_content"].(map[string]any); ok {
		if g, ok2 := ec["google"].(map[string]any); ok2 {
			if sig, ok3 := g["thought_signature"].(string); ok3 {
				return sig
			}
		}
	}
	if ec, ok := m["extraContent"].(map[string]any); ok {
		if g, ok2 := ec["google"].(map[string]any); ok2 {
			if sig, ok3 := g["thoughtSignature"].(string); ok3 {
				return sig
			}
		}
	}
	return ""
}

func New(c config.OpenAIConfig, httpClient *http.Client) *Client {
	opts := []option.RequestOption{option.WithAPIKey(c.APIKey)}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Client{
		sdk:         sdk.NewClient(opts...),
		model:       c.Model,
		extra:       c.ExtraParams,
		logPayloads: c.LogPayloads,
	}
}

func (c *Client) extraFields(hasTools bool) map[string]any {
	if len(c.extra) == 0 {
		return nil
	}
	if hasTools {
		return c.extra
	}
	tmp := make(map[string]any, len(c.extra))
	for k, v := range c.extra {
		tmp[k] = v
	}
	delete(tmp, "parallel_tool_calls")
	return tmp
}

// Chat implements llm.Provider.Chat using OpenAI Chat Completions.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	log := observability.LoggerWithTrace(ctx)
	effectiveModel := firstNonEmpty(model, c.model)

	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(effectiveModel)}
	params.Messages = AdaptMessages(string(params.Model), msgs)
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}
	if extra := c.extraFields(len(tools) > 0); extra != nil {
		params.SetExtraFields(extra)
	}

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Chat", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Int("tools", len(tools)).Dur("duration", dur).Msg("chat_completion_error")
		span.RecordError(err)
		return llm.Message{}, err
	}

	fields := log.With().Str("model", string(params.Model)).Int("tools", len(tools)).Dur("duration", dur).Int("messages", len(msgs)).
		Int("prompt_tokens", int(comp.Usage.PromptTokens)).
		Int("completion_tokens", int(comp.Usage.CompletionTokens)).
		Int("total_tokens", int(comp.Usage.TotalTokens)).Logger()
	if c.logPayloads && len(c.extra) > 0 {
		if b, err := json.Marshal(c.extra); err == nil {
			fields = fields.With().RawJSON("extra", observability.RedactJSON(b)).Logger()
		}
	}
	fields.Debug().Msg("chat_completion_ok")

	var out llm.Message
	gemini := isGemini3Model(string(params.Model))
	if len(comp.Choices) > 0 {
		msg := comp.Choices[0].Message
		out = llm.Message{Role: "assistant", Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			switch v := tc.AsAny().(type) {
			case sdk.ChatCompletionMessageFunctionToolCall:
				if isEmptyArgs(v.Function.Arguments) {
					log.Warn().Str("tool", v.Function.Name).Str("id", v.ID).Msg("skipping tool call with empty arguments")
					continue
				}
				sig := ""
				if gemini {
					sig = extractThoughtSignature(v.RawJSON())
				}
				out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
					Name:             v.Function.Name,
					Args:             json.RawMessage(v.Function.Arguments),
					ID:               v.ID,
					ThoughtSignature: sig,
				})
			case sdk.ChatCompletionMessageCustomToolCall:
				if isEmptyArgs(v.Custom.Input) {
					log.Warn().Str("tool", v.Custom.Name).Str("id", v.ID).Msg("skipping tool call with empty input")
					continue
				}
				out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
					Name: v.Custom.Name,
					Args: json.RawMessage(v.Custom.Input),
					ID:   v.ID,
				})
			}
		}
	}

	llm.LogRedactedResponse(ctx, comp.Choices)
	llm.RecordTokenAttributes(span, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens), int(comp.Usage.TotalTokens))
	llm.RecordTokenMetrics(string(params.Model), int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens))
	if len(comp.Choices) == 0 {
		return llm.Message{}, nil
	}
	return out, nil
}

// ChatStream implements streaming chat completions using OpenAI's streaming API.
func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	log := observability.LoggerWithTrace(ctx)
	effectiveModel := firstNonEmpty(model, c.model)

	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(effectiveModel)}
	ctx, span := llm.StartRequestSpan(ctx, "OpenAI ChatStream", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	params.Messages = AdaptMessages(string(params.Model), msgs)
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}
	if extra := c.extraFields(len(tools) > 0); extra != nil {
		params.SetExtraFields(extra)
	}
	// Ask the API to include a final usage chunk so real token counts can be
	// surfaced to the handler instead of a client-side estimate.
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	start := time.Now()
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	toolCalls := make(map[int]*llm.ToolCall)
	toolCallsFlushed := false
	var promptTokens, completionTokens, totalTokens int
	gemini := isGemini3Model(string(params.Model))
	var thoughtSig string

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			if chunk.JSON.Usage.Valid() && chunk.JSON.Usage.Raw() != "null" {
				promptTokens = int(chunk.Usage.PromptTokens)
				completionTokens = int(chunk.Usage.CompletionTokens)
				totalTokens = int(chunk.Usage.TotalTokens)
			}
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}

		// Accumulate tool calls by the API-provided index (not the slice
		// position): chunks may contain only a subset of calls per index.
		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if toolCalls[idx] == nil {
				toolCalls[idx] = &llm.ToolCall{ID: tc.ID}
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				if toolCalls[idx].Args == nil {
					toolCalls[idx].Args = json.RawMessage(tc.Function.Arguments)
				} else {
					toolCalls[idx].Args = json.RawMessage(string(toolCalls[idx].Args) + tc.Function.Arguments)
				}
			}
			if gemini && toolCalls[idx].ThoughtSignature == "" {
				if sig := extractThoughtSignature(tc.RawJSON()); sig != "" {
					toolCalls[idx].ThoughtSignature = sig
					thoughtSig = sig
				}
			}
		}

		if chunk.Choices[0].FinishReason != "" && !toolCallsFlushed {
			for _, tc := range toolCalls {
				if tc != nil && tc.Name != "" && !isEmptyArgsBytes(tc.Args) {
					h.OnToolCall(*tc)
				} else if tc != nil && tc.Name != "" {
					log.Warn().Str("tool", tc.Name).Str("id", tc.ID).Msg("skipping tool call with empty arguments in stream")
				}
			}
			toolCallsFlushed = true
		}
	}

	err := stream.Err()
	dur := time.Since(start)
	base := log.With().
		Str("model", string(params.Model)).
		Int("tools", len(tools)).
		Dur("duration", dur).
		Int("prompt_tokens", promptTokens).
		Int("completion_tokens", completionTokens).
		Int("total_tokens", totalTokens).Logger()
	if err != nil {
		base.Error().Err(err).Msg("chat_stream_error")
		span.RecordError(err)
		return err
	}

	if thoughtSig != "" {
		h.OnThoughtSignature(thoughtSig)
	}
	h.OnUsage(llm.Usage{InputTokens: promptTokens, OutputTokens: completionTokens})

	llm.RecordTokenAttributes(span, promptTokens, completionTokens, totalTokens)
	llm.LogRedactedResponse(ctx, map[string]int{"prompt_tokens": promptTokens, "completion_tokens": completionTokens, "total_tokens": totalTokens})
	if promptTokens > 0 || completionTokens > 0 {
		llm.RecordTokenMetrics(string(params.Model), promptTokens, completionTokens)
	}
	base.Debug().Msg("chat_stream_ok")
	return nil
}

// isEmptyArgs reports whether the provided arguments string is effectively empty
// (blank, null, or an empty JSON object/array). This guards against ghost tool
// calls with missing payloads.
func isEmptyArgs(raw string) bool {
	s := strings.TrimSpace(raw)
	if s == "" || s == "null" || s == "{}" || s == "[]" {
		return true
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func isEmptyArgsBytes(raw []byte) bool {
	return isEmptyArgs(string(raw))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
