package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/memorilabs/memori/internal/domain"
)

// StoreChat inserts one immutable chat turn. Assigns ID and timestamp when
// the caller left them zero.
func (s *Store) StoreChat(ctx context.Context, turn *domain.ChatTurn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	metadata := "{}"
	if len(turn.Metadata) > 0 {
		raw, err := json.Marshal(turn.Metadata)
		if err != nil {
			return fmt.Errorf("marshal turn metadata: %w", err)
		}
		metadata = string(raw)
	}

	q := s.d.Rebind(`INSERT INTO chat_history
		(turn_id, session_id, namespace, user_input, ai_output, model, timestamp, tokens, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		turn.ID.String(), turn.SessionID, turn.Namespace,
		turn.UserInput, turn.AIOutput, turn.Model,
		turn.Timestamp, turn.Tokens, metadata)
	if err != nil {
		return dbErr("store chat turn", err)
	}
	return nil
}

// GetChatHistory returns the most recent turns of a session in chronological
// order.
func (s *Store) GetChatHistory(ctx context.Context, namespace, sessionID string, limit int) ([]domain.ChatTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	q := s.d.Rebind(`SELECT turn_id, session_id, namespace, user_input, ai_output, model, timestamp, tokens, metadata
		FROM chat_history
		WHERE namespace = ? AND session_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, q, namespace, sessionID, limit)
	if err != nil {
		return nil, dbErr("get chat history", err)
	}
	defer rows.Close()

	var turns []domain.ChatTurn
	for rows.Next() {
		var (
			t        domain.ChatTurn
			id       string
			metadata string
		)
		if err := rows.Scan(&id, &t.SessionID, &t.Namespace, &t.UserInput, &t.AIOutput,
			&t.Model, &t.Timestamp, &t.Tokens, &metadata); err != nil {
			return nil, dbErr("scan chat turn", err)
		}
		t.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse turn id: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal turn metadata: %w", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("chat history rows", err)
	}

	// Oldest first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
