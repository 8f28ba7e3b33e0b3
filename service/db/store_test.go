package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilStoreIsInert(t *testing.T) {
	var s *Store
	ctx := context.Background()

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.RecordMessage(ctx, MessageRecord{ID: "m1"}))
	require.NoError(t, s.RecordTransfer(ctx, TransferRecord{SessionID: "s1"}))

	msgs, err := s.ListMessages(ctx, "s1", 10, 0)
	require.NoError(t, err)
	assert.Nil(t, msgs)

	transfers, err := s.ListTransfers(ctx, "s1", 10, 0)
	require.NoError(t, err)
	assert.Nil(t, transfers)

	s.Close()
}

func TestRecordAndListMessages(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, content := range []string{"hello", "hi there", "what's my balance?"} {
		role := "user"
		if i == 1 {
			role = "assistant"
		}
		require.NoError(t, ts.RecordMessage(ctx, MessageRecord{
			ID:        string(rune('a' + i)),
			SessionID: "sess-1",
			Role:      role,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, ts.RecordMessage(ctx, MessageRecord{
		ID:        "other",
		SessionID: "sess-2",
		Role:      "user",
		Content:   "different session",
		CreatedAt: base,
	}))

	msgs, err := ts.ListMessages(ctx, "sess-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "what's my balance?", msgs[2].Content)

	// Streamed messages get re-saved with their final content.
	require.NoError(t, ts.RecordMessage(ctx, MessageRecord{
		ID:        "b",
		SessionID: "sess-1",
		Role:      "assistant",
		Content:   "hi there, friend",
		CreatedAt: base.Add(time.Second),
	}))
	msgs, err = ts.ListMessages(ctx, "sess-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi there, friend", msgs[1].Content)
}

func TestListMessagesPagination(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, ts.RecordMessage(ctx, MessageRecord{
			ID:        string(rune('a' + i)),
			SessionID: "sess-1",
			Role:      "user",
			Content:   "m",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := ts.ListMessages(ctx, "sess-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "d", page[1].ID)
}

func TestRecordAndListTransfers(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()

	require.NoError(t, ts.RecordTransfer(ctx, TransferRecord{
		SessionID: "sess-1",
		Token:     "STRK",
		Amount:    "10.5",
		Recipient: "0xrecipient",
		TxHash:    "0xdeadbeef",
		Outcome:   "success",
	}))
	require.NoError(t, ts.RecordTransfer(ctx, TransferRecord{
		SessionID: "sess-1",
		Token:     "USDC",
		Amount:    "25",
		Recipient: "0xrecipient",
		Outcome:   "rejected",
		Error:     "transaction rejected by user",
	}))

	transfers, err := ts.ListTransfers(ctx, "sess-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	// Most recent first.
	assert.Equal(t, "rejected", transfers[0].Outcome)
	assert.Empty(t, transfers[0].TxHash)
	assert.Equal(t, "transaction rejected by user", transfers[0].Error)

	assert.Equal(t, "success", transfers[1].Outcome)
	assert.Equal(t, "0xdeadbeef", transfers[1].TxHash)
	assert.Equal(t, "10.5", transfers[1].Amount)

	// Offset skips the most recent attempt.
	page, err := ts.ListTransfers(ctx, "sess-1", 10, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "success", page[0].Outcome)
}
