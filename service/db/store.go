// Package db is the optional audit store. When a DATABASE_URL is
// configured, chat messages and transfer outcomes are recorded to
// Postgres for support and reconciliation; conversations themselves stay
// in memory. A nil *Store disables persistence without branching at call
// sites.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Web3Novalabs/Nixo/service/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// schema is applied idempotently at startup. The service owns these two
// tables outright, so a migration tool would be overkill.
const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_session_idx
    ON chat_messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS transfer_audit (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    token      TEXT NOT NULL,
    amount     NUMERIC NOT NULL,
    recipient  TEXT NOT NULL,
    tx_hash    TEXT,
    outcome    TEXT NOT NULL,
    error      TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transfer_audit_session_idx
    ON transfer_audit (session_id, created_at);
`

// EnsureSchema creates the audit tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply audit schema: %w", err)
	}
	return nil
}

// MessageRecord is one persisted chat message.
type MessageRecord struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// RecordMessage persists one chat message. Safe on a nil Store. Re-saving
// an existing ID updates the content, which covers streamed messages
// saved again after they finish growing.
func (s *Store) RecordMessage(ctx context.Context, rec MessageRecord) error {
	if s == nil {
		return nil
	}
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content`,
		rec.ID, rec.SessionID, rec.Role, rec.Content, rec.CreatedAt,
	)
	s.metrics.RecordDBQuery("insert", "chat_messages", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

// ListMessages returns a session's persisted messages in creation order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit, offset int32) ([]MessageRecord, error) {
	if s == nil {
		return nil, nil
	}
	start := time.Now()
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM chat_messages
		 WHERE session_id = $1
		 ORDER BY created_at ASC
		 LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	s.metrics.RecordDBQuery("select", "chat_messages", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var rec MessageRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Role, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TransferRecord is one persisted transfer outcome.
type TransferRecord struct {
	ID        int64
	SessionID string
	Token     string
	Amount    string
	Recipient string
	TxHash    string
	Outcome   string // "success", "rejected", "error"
	Error     string
	CreatedAt time.Time
}

// RecordTransfer persists a completed transfer attempt. Safe on a nil Store.
func (s *Store) RecordTransfer(ctx context.Context, rec TransferRecord) error {
	if s == nil {
		return nil
	}
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transfer_audit (session_id, token, amount, recipient, tx_hash, outcome, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.SessionID, rec.Token, rec.Amount, rec.Recipient, rec.TxHash, rec.Outcome, rec.Error,
	)
	s.metrics.RecordDBQuery("insert", "transfer_audit", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

// ListTransfers returns a session's transfer attempts, most recent first.
func (s *Store) ListTransfers(ctx context.Context, sessionID string, limit, offset int32) ([]TransferRecord, error) {
	if s == nil {
		return nil, nil
	}
	start := time.Now()
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, token, amount::text, recipient,
		        COALESCE(tx_hash, ''), outcome, COALESCE(error, ''), created_at
		 FROM transfer_audit
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	s.metrics.RecordDBQuery("select", "transfer_audit", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var out []TransferRecord
	for rows.Next() {
		var rec TransferRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Token, &rec.Amount, &rec.Recipient,
			&rec.TxHash, &rec.Outcome, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the connection pool. Safe on a nil Store.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}
