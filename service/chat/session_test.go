package chat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Web3Novalabs/Nixo/service/intent"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedResponder streams a fixed fragment sequence and returns a fixed
// intent. A non-nil block channel stalls the stream until closed.
type scriptedResponder struct {
	fragments []string
	intent    intent.Intent
	err       error
	block     chan struct{}
}

func (r *scriptedResponder) Stream(ctx context.Context, _, _ string, _ []token.Balance, onFragment func(string) error) (intent.Intent, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return intent.Failed(), ctx.Err()
		}
	}
	if r.err != nil {
		return intent.Failed(), r.err
	}
	for _, f := range r.fragments {
		if err := onFragment(f); err != nil {
			return intent.Failed(), err
		}
	}
	return r.intent, nil
}

func testManager(r Responder, timeout time.Duration) *Manager {
	return NewManager(r, timeout, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func transferIntent(t *testing.T, confidence float64) intent.Intent {
	t.Helper()
	amount, err := decimal.NewFromString("10")
	require.NoError(t, err)
	return intent.Intent{
		Type:       intent.TypeTransfer,
		Confidence: confidence,
		Transfer: &intent.TransferDetails{
			Amount:    &amount,
			Token:     token.STRK,
			Recipient: "0x" + strings.Repeat("a", 63),
		},
	}
}

func TestSessionStartsWithGreeting(t *testing.T) {
	s := testManager(&scriptedResponder{}, 0).GetOrCreate("")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "anonymous transaction assistant")
	assert.False(t, msgs[0].Streaming)
}

func TestSendStreamsIntoPlaceholder(t *testing.T) {
	r := &scriptedResponder{fragments: []string{"Hello", " world"}, intent: intent.None()}
	s := testManager(r, 0).GetOrCreate("s1")

	var forwarded []string
	derived, err := s.Send(context.Background(), "hi there", "", nil, func(f string) error {
		forwarded = append(forwarded, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, intent.TypeNone, derived.Type)
	assert.Equal(t, []string{"Hello", " world"}, forwarded)

	msgs := s.Messages()
	require.Len(t, msgs, 3) // greeting, user, assistant
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Content)

	final := msgs[2]
	assert.Equal(t, RoleAssistant, final.Role)
	assert.Equal(t, "Hello world", final.Content)
	assert.False(t, final.Streaming)
	assert.False(t, s.Loading())
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	s := testManager(&scriptedResponder{}, 0).GetOrCreate("s1")

	_, err := s.Send(context.Background(), "   ", "", nil, nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Len(t, s.Messages(), 1)
}

func TestSendStoresHighConfidenceTransferIntent(t *testing.T) {
	r := &scriptedResponder{fragments: []string{"On it."}}
	s := testManager(r, 0).GetOrCreate("s1")

	r.intent = transferIntent(t, 0.95)
	_, err := s.Send(context.Background(), "send it", "", nil, nil)
	require.NoError(t, err)

	pending := s.PendingIntent()
	require.NotNil(t, pending)
	assert.Equal(t, intent.TypeTransfer, pending.Type)
	assert.Equal(t, 0.95, pending.Confidence)
}

func TestSendDiscardsThresholdAndBelowIntents(t *testing.T) {
	tests := []struct {
		name   string
		intent intent.Intent
	}{
		{"partial transfer at threshold", transferIntent(t, 0.7)},
		{"balance intent", intent.Intent{Type: intent.TypeBalance, Confidence: 0.9}},
		{"none intent", intent.None()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scriptedResponder{fragments: []string{"ok"}, intent: tt.intent}
			s := testManager(r, 0).GetOrCreate("s1")

			_, err := s.Send(context.Background(), "hello", "", nil, nil)
			require.NoError(t, err)
			assert.Nil(t, s.PendingIntent())
		})
	}
}

func TestSendFailureOverwritesPlaceholder(t *testing.T) {
	r := &scriptedResponder{err: context.Canceled}
	s := testManager(r, 0).GetOrCreate("s1")

	derived, err := s.Send(context.Background(), "hello", "", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, derived.Confidence)

	msgs := s.Messages()
	final := msgs[len(msgs)-1]
	assert.Equal(t, failureMessage, final.Content)
	assert.False(t, final.Streaming)
	assert.False(t, s.Loading())
}

func TestSendTimeoutProducesDistinctMessage(t *testing.T) {
	r := &scriptedResponder{block: make(chan struct{})}
	defer close(r.block)
	s := testManager(r, 50*time.Millisecond).GetOrCreate("s1")

	derived, err := s.Send(context.Background(), "hello", "", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, derived.Confidence)

	msgs := s.Messages()
	final := msgs[len(msgs)-1]
	assert.Equal(t, timeoutMessage, final.Content)
	assert.False(t, final.Streaming)
}

// lateResponder delivers one fragment, then waits out the round-trip
// timeout before attempting a second one.
type lateResponder struct {
	release  chan struct{}
	rejected chan error
}

func (r *lateResponder) Stream(_ context.Context, _, _ string, _ []token.Balance, onFragment func(string) error) (intent.Intent, error) {
	if err := onFragment("early"); err != nil {
		r.rejected <- err
		return intent.Failed(), err
	}
	<-r.release
	err := onFragment("late")
	r.rejected <- err
	return intent.Failed(), err
}

func TestLateFragmentsDiscardedAfterTimeout(t *testing.T) {
	r := &lateResponder{release: make(chan struct{}), rejected: make(chan error, 1)}
	s := testManager(r, 50*time.Millisecond).GetOrCreate("s1")

	_, err := s.Send(context.Background(), "hello", "", nil, nil)
	require.NoError(t, err)

	// The round trip has timed out; now let the stale fragment arrive.
	close(r.release)
	require.Error(t, <-r.rejected)

	msgs := s.Messages()
	final := msgs[len(msgs)-1]
	assert.Equal(t, timeoutMessage, final.Content)
	assert.NotContains(t, final.Content, "late")
}

func TestClearIntentIdempotent(t *testing.T) {
	r := &scriptedResponder{fragments: []string{"ok"}, intent: transferIntent(t, 0.95)}
	s := testManager(r, 0).GetOrCreate("s1")

	_, err := s.Send(context.Background(), "send it", "", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, s.PendingIntent())

	s.ClearIntent()
	assert.Nil(t, s.PendingIntent())
	s.ClearIntent()
	assert.Nil(t, s.PendingIntent())
}

func TestSingleFlightTransferGuard(t *testing.T) {
	s := testManager(&scriptedResponder{}, 0).GetOrCreate("s1")

	require.NoError(t, s.BeginTransfer())
	assert.ErrorIs(t, s.BeginTransfer(), ErrTransferInFlight)

	s.EndTransfer()
	assert.NoError(t, s.BeginTransfer())
	s.EndTransfer()
}

func TestManagerSessionIdentity(t *testing.T) {
	m := testManager(&scriptedResponder{}, 0)

	a := m.GetOrCreate("alpha")
	b := m.GetOrCreate("alpha")
	assert.Same(t, a, b)

	fresh := m.GetOrCreate("")
	assert.NotEmpty(t, fresh.ID)
	assert.NotSame(t, a, fresh)

	got, ok := m.Get("alpha")
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestConcurrentSendsDoNotCorruptMessages(t *testing.T) {
	r := &scriptedResponder{fragments: []string{"x"}, intent: intent.None()}
	m := testManager(r, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s := m.GetOrCreate("shared")
			_, _ = s.Send(context.Background(), "hello", "", nil, nil)
		}(i)
	}
	wg.Wait()

	// greeting + 8 user/assistant pairs
	assert.Len(t, m.GetOrCreate("shared").Messages(), 17)
}
