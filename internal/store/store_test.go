package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engram.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureSession_CreatesThenReturnsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.EnsureSession(ctx, "sess-1", "agent-1", "gpt-4o-mini", "be terse")
	require.NoError(t, err)
	require.Equal(t, "sess-1", sess.ID)
	require.Equal(t, 0, sess.MessageCount)

	again, err := s.EnsureSession(ctx, "sess-1", "agent-1", "a-different-model", "ignored")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", again.Model, "EnsureSession must not overwrite an existing session")
}

func TestAppendMessages_BumpsMessageCountAndPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureSession(ctx, "sess-1", "agent-1", "m", "")
	require.NoError(t, err)

	err = s.AppendMessages(ctx, "sess-1", []llm.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "lookup", Args: []byte(`{}`)}}},
		{Role: "tool", Content: "result", ToolID: "c1"},
	})
	require.NoError(t, err)

	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, 3, sess.MessageCount)

	msgs, err := s.ListMessages(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "user", msgs[0].Role)
	require.Equal(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	require.Equal(t, "c1", msgs[1].ToolCalls[0].ID)
	require.Equal(t, "tool", msgs[2].Role)
	require.Equal(t, "c1", msgs[2].ToolID)
}

func TestListMessages_RespectsLimitAndChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureSession(ctx, "sess-1", "agent-1", "m", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessages(ctx, "sess-1", []llm.Message{{Role: "user", Content: string(rune('a' + i))}}))
	}

	msgs, err := s.ListMessages(ctx, "sess-1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "d", msgs[0].Content)
	require.Equal(t, "e", msgs[1].Content)
}

func TestDeleteSession_CascadesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureSession(ctx, "sess-1", "agent-1", "m", "")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessages(ctx, "sess-1", []llm.Message{{Role: "user", Content: "hi"}}))

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))

	_, err = s.GetSession(ctx, "sess-1")
	require.ErrorIs(t, err, ErrNotFound)

	msgs, err := s.ListMessages(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
