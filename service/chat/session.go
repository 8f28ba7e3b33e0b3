// Package chat holds per-session conversation state: the ordered message
// list, the streaming placeholder that grows in place, the single pending
// transfer intent, and the single-flight guard around transfer execution.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Web3Novalabs/Nixo/service/intent"
	"github.com/Web3Novalabs/Nixo/service/metrics"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/google/uuid"
)

// Role distinguishes the two message authors.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat bubble. Assistant messages under streaming grow
// their Content in place until Streaming flips to false; identity (ID)
// never changes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"streaming,omitempty"`
}

// Responder produces a streamed assistant reply and the intent derived
// from the full text. Satisfied by ai.Client.
type Responder interface {
	Stream(ctx context.Context, userMessage, walletAddress string, balances []token.Balance, onFragment func(string) error) (intent.Intent, error)
}

const (
	// DefaultRoundTripTimeout bounds one user-message round trip. The AI
	// call races this timer; whichever settles first wins and the loser's
	// late result is discarded.
	DefaultRoundTripTimeout = 30 * time.Second

	// pendingIntentThreshold gates which extracted intents become the
	// session's pending intent. Strictly exceeds: a 0.7-confidence
	// partial transfer is discarded.
	pendingIntentThreshold = 0.7

	greetingMessage = "Hey there! I'm your anonymous transaction assistant. Ask me anything - like 'What's my balance?' or 'Send 10 STRK to 0x...'"
	failureMessage  = "Sorry, I encountered an error. Please try again."
	timeoutMessage  = "Sorry, the request timed out. Please try again."
)

var (
	// ErrEmptyMessage rejects whitespace-only input before any state change.
	ErrEmptyMessage = errors.New("message is required")

	// ErrTransferInFlight means a transfer is already executing for this
	// session; the second intent is ignored, never queued.
	ErrTransferInFlight = errors.New("a transfer is already in progress")
)

// Session is one conversation. All mutable state is guarded by mu; the
// generation counter lets a timed-out round trip discard fragments that
// arrive after the timer has already settled the placeholder.
type Session struct {
	ID string

	mu         sync.Mutex
	messages   []*Message
	pending    *intent.Intent
	loading    bool
	executing  bool
	generation uint64

	responder Responder
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func newSession(id string, responder Responder, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Session {
	s := &Session{
		ID:        id,
		responder: responder,
		timeout:   timeout,
		metrics:   m,
		logger:    logger.With("session_id", id),
	}
	s.messages = append(s.messages, &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   greetingMessage,
		Timestamp: time.Now().UTC(),
	})
	return s
}

// AddUserMessage appends a user message synchronously without invoking
// the responder.
func (s *Session) AddUserMessage(text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.appendLocked(RoleUser, text)
	return copyMessage(msg), nil
}

// AddAssistantMessage appends a complete assistant message, used for
// validation verdicts and transfer progress text that do not come from
// the responder.
func (s *Session) AddAssistantMessage(text string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMessage(s.appendLocked(RoleAssistant, text))
}

func (s *Session) appendLocked(role Role, text string) *Message {
	msg := &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

type roundTripResult struct {
	intent intent.Intent
	err    error
}

// Send runs one full round trip: append user message, stream the
// assistant reply into a placeholder message, and store the derived
// intent as pending when it is a transfer above the confidence
// threshold. Fragments are forwarded to onFragment (may be nil) in
// arrival order. Send recovers every responder failure into a fixed
// chat message; the returned error covers input validation only.
func (s *Session) Send(ctx context.Context, text, walletAddress string, balances []token.Balance, onFragment func(string) error) (intent.Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return intent.Intent{}, ErrEmptyMessage
	}

	s.mu.Lock()
	s.appendLocked(RoleUser, text)
	placeholder := &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Timestamp: time.Now().UTC(),
		Streaming: true,
	}
	s.messages = append(s.messages, placeholder)
	s.loading = true
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make(chan roundTripResult, 1)
	go func() {
		derived, err := s.responder.Stream(ctx, text, walletAddress, balances, func(fragment string) error {
			if !s.growPlaceholder(gen, placeholder, fragment) {
				return context.DeadlineExceeded
			}
			if onFragment != nil {
				return onFragment(fragment)
			}
			return nil
		})
		results <- roundTripResult{intent: derived, err: err}
	}()

	var outcome string
	var derived intent.Intent
	select {
	case <-ctx.Done():
		s.settle(gen, placeholder, timeoutMessage)
		s.logger.WarnContext(ctx, "chat round trip timed out", "elapsed", time.Since(start))
		outcome = "timeout"
		derived = intent.Failed()
	case res := <-results:
		if res.err != nil {
			s.settle(gen, placeholder, failureMessage)
			s.logger.ErrorContext(ctx, "chat round trip failed", "error", res.err)
			outcome = "error"
			derived = intent.Failed()
		} else {
			s.finalize(gen, placeholder, res.intent)
			outcome = "ok"
			derived = res.intent
		}
	}

	s.metrics.RecordChatRoundTrip(outcome)
	return derived, nil
}

// growPlaceholder appends a fragment to the streaming placeholder.
// Returns false when the round trip has already settled, which tells the
// responder goroutine to stop; the late fragment is discarded.
func (s *Session) growPlaceholder(gen uint64, placeholder *Message, fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !placeholder.Streaming {
		return false
	}
	placeholder.Content += fragment
	return true
}

// settle overwrites the placeholder with a terminal failure message and
// bumps the generation so any in-flight fragments are discarded.
func (s *Session) settle(gen uint64, placeholder *Message, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	placeholder.Content = message
	placeholder.Streaming = false
	s.loading = false
	s.generation++
}

// finalize completes a successful round trip and stores a qualifying
// transfer intent as pending.
func (s *Session) finalize(gen uint64, placeholder *Message, derived intent.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	placeholder.Streaming = false
	s.loading = false
	s.generation++

	if derived.Type == intent.TypeTransfer && derived.Confidence > pendingIntentThreshold {
		stored := derived
		s.pending = &stored
	}
}

// PendingIntent returns a copy of the current pending intent, or nil.
func (s *Session) PendingIntent() *intent.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	copied := *s.pending
	return &copied
}

// ClearIntent drops the pending intent. Idempotent.
func (s *Session) ClearIntent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// BeginTransfer claims the single-flight execution slot. The caller must
// release it with EndTransfer on every path, including validation
// rejection before any external call.
func (s *Session) BeginTransfer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executing {
		return ErrTransferInFlight
	}
	s.executing = true
	return nil
}

// EndTransfer releases the execution slot. Idempotent.
func (s *Session) EndTransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executing = false
}

// Loading reports whether a round trip is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Messages returns a snapshot of the conversation in append order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	return out
}

func copyMessage(m *Message) *Message {
	copied := *m
	return &copied
}

// String implements fmt.Stringer for log output.
func (s *Session) String() string {
	return fmt.Sprintf("chat.Session(%s)", s.ID)
}
