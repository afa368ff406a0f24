package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"engram/internal/engramerr"
)

type stubProvider struct {
	calls   int
	fail    int // number of times to fail before succeeding
	failErr error
}

func (s *stubProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	s.calls++
	if s.calls <= s.fail {
		return Message{}, s.failErr
	}
	return Message{Role: "assistant", Content: "ok"}, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	s.calls++
	if s.calls <= s.fail {
		return s.failErr
	}
	return nil
}

func TestResilientProvider_RetriesRetryableErrors(t *testing.T) {
	stub := &stubProvider{fail: 2, failErr: engramerr.ProviderAPIErr(503, "unavailable")}
	rp := NewResilientProvider(stub)
	rp.breaker.window = time.Hour // prevent breaker from tripping mid-test

	msg, err := rp.Chat(context.Background(), nil, nil, "m")
	require.NoError(t, err)
	require.Equal(t, "ok", msg.Content)
	require.Equal(t, 3, stub.calls)
}

func TestResilientProvider_DoesNotRetryAuthErrors(t *testing.T) {
	stub := &stubProvider{fail: 10, failErr: engramerr.ProviderAuthErr(401, "bad key")}
	rp := NewResilientProvider(stub)

	_, err := rp.Chat(context.Background(), nil, nil, "m")
	require.Error(t, err)
	require.Equal(t, 1, stub.calls)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute, time.Minute)
	now := time.Now()
	require.True(t, b.Allow(now))
	b.RecordFailure(now)
	b.RecordFailure(now)
	require.True(t, b.Allow(now))
	b.RecordFailure(now)
	require.False(t, b.Allow(now))
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute, time.Minute)
	now := time.Now()
	b.RecordFailure(now)
	b.RecordFailure(now)
	b.RecordSuccess()
	b.RecordFailure(now)
	require.True(t, b.Allow(now))
}
