package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxisworks/praxis/pkg/protocol"
)

// GetConversation loads a conversation by id; missing returns (nil, nil).
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, context_id, platform, platform_id, metadata, suspension, created_at, updated_at
		 FROM conversations WHERE id = ?`), id)
	return scanConversation(row)
}

// FindConversation looks a conversation up by its transport identity. The
// composite (platform, platform_id) index serves this dispatch path.
func (s *Store) FindConversation(ctx context.Context, platform, platformID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, context_id, platform, platform_id, metadata, suspension, created_at, updated_at
		 FROM conversations WHERE platform = ? AND platform_id = ? ORDER BY created_at DESC LIMIT 1`),
		platform, platformID)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	var metadata string
	var suspension sql.NullString
	err := row.Scan(&c.ID, &c.ContextID, &c.Platform, &c.PlatformID, &metadata, &suspension, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	_ = json.Unmarshal([]byte(metadata), &c.Metadata)
	c.Suspension = suspension.String
	return &c, nil
}

// CreateConversation inserts a conversation.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	metadata, _ := json.Marshal(c.Metadata)
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (id, context_id, platform, platform_id, metadata, suspension, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.ContextID, c.Platform, c.PlatformID, string(metadata), c.Suspension, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// SetSuspension stores (or clears, with "") the HITL suspension state.
func (s *Store) SetSuspension(ctx context.Context, conversationID, suspension string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE conversations SET suspension = ?, updated_at = ? WHERE id = ?`),
		suspension, time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to update suspension: %w", err)
	}
	return nil
}

// AppendMessages persists messages in one transaction, ordered by creation
// time. The orchestrator calls this once per request; a failed attempt is
// retried once by the caller.
func (s *Store) AppendMessages(ctx context.Context, conversationID string, messages []protocol.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	base := time.Now().UTC()
	for i, m := range messages {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			// Preserve relative order even within the same transaction.
			createdAt = base.Add(time.Duration(i) * time.Microsecond)
		}
		toolCalls := ""
		if len(m.ToolCalls) > 0 {
			encoded, err := json.Marshal(m.ToolCalls)
			if err != nil {
				slog.Warn("Failed to encode tool calls for persistence", "error", err)
			} else {
				toolCalls = string(encoded)
			}
		}
		_, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO messages (id, session_id, role, content, tool_calls, trace_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`),
			uuid.New().String(), conversationID, string(m.Role), m.Content, toolCalls, m.TraceID, createdAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`), base, conversationID); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return tx.Commit()
}

// Messages returns a conversation's messages ordered by creation time.
func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]protocol.Message, error) {
	query := `SELECT role, content, tool_calls, trace_id, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at`
	args := []any{conversationID}
	if limit > 0 {
		query += ` DESC LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.Message
	for rows.Next() {
		var m protocol.Message
		var role, toolCalls string
		var traceID sql.NullString
		if err := rows.Scan(&role, &m.Content, &toolCalls, &traceID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = protocol.Role(role)
		m.TraceID = traceID.String
		if toolCalls != "" {
			_ = json.Unmarshal([]byte(toolCalls), &m.ToolCalls)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The LIMIT path selects newest-first; restore chronological order.
	if limit > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}
