package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/memorilabs/memori/internal/domain"
)

// InsertWorkingItem copies a memory into the working set unless an item with
// equal normalized searchable content already exists in the namespace. The
// dedup check runs inside the insert transaction so concurrent copies cannot
// race a duplicate in.
func (s *Store) InsertWorkingItem(ctx context.Context, item *domain.WorkingMemoryItem) (bool, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Category = domain.CategoryConsciousContext

	data, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("marshal working item: %w", err)
	}

	normalized := domain.NormalizeContent(item.SearchableContent)
	inserted := false

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		q := s.d.Rebind(`SELECT searchable_content FROM short_term_memory
			WHERE namespace = ? AND category_primary = ?`)
		rows, err := tx.QueryContext(ctx, q, item.Namespace, string(domain.CategoryConsciousContext))
		if err != nil {
			return dbErr("working dedup scan", err)
		}
		defer rows.Close()
		for rows.Next() {
			var content string
			if err := rows.Scan(&content); err != nil {
				return dbErr("scan working content", err)
			}
			if domain.NormalizeContent(content) == normalized {
				return nil // already present
			}
		}
		if err := rows.Err(); err != nil {
			return dbErr("working dedup rows", err)
		}

		ins := s.d.Rebind(`INSERT INTO short_term_memory
			(memory_id, namespace, processed_data, importance_score, category_primary,
			 retention_type, created_at, expires_at, searchable_content, summary, is_permanent, access_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, ins,
			item.ID.String(), item.Namespace, string(data), item.ImportanceScore,
			string(domain.CategoryConsciousContext), string(domain.RetentionShortTerm),
			item.CreatedAt, nullTime(item.ExpiresAt),
			item.SearchableContent, item.Summary, item.IsPermanent, item.AccessCount); err != nil {
			return dbErr("insert working item", err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// ListWorkingItems returns the working set for a namespace ordered by
// importance desc, newest first on ties.
func (s *Store) ListWorkingItems(ctx context.Context, namespace string) ([]domain.WorkingMemoryItem, error) {
	q := s.d.Rebind(`SELECT memory_id, namespace, processed_data, importance_score,
			created_at, expires_at, searchable_content, summary, is_permanent, access_count
		FROM short_term_memory
		WHERE namespace = ? AND category_primary = ?
		ORDER BY importance_score DESC, created_at DESC`)
	rows, err := s.db.QueryContext(ctx, q, namespace, string(domain.CategoryConsciousContext))
	if err != nil {
		return nil, dbErr("list working items", err)
	}
	defer rows.Close()

	var items []domain.WorkingMemoryItem
	for rows.Next() {
		var (
			item      domain.WorkingMemoryItem
			id, data  string
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&id, &item.Namespace, &data, &item.ImportanceScore,
			&item.CreatedAt, &expiresAt, &item.SearchableContent, &item.Summary,
			&item.IsPermanent, &item.AccessCount); err != nil {
			return nil, dbErr("scan working item", err)
		}
		if item.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse working item id: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			item.ExpiresAt = &t
		}
		// Source memory ID travels in the JSON payload.
		var payload domain.WorkingMemoryItem
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			item.MemoryID = payload.MemoryID
		}
		item.Category = domain.CategoryConsciousContext
		items = append(items, item)
	}
	return items, rows.Err()
}

// TouchWorkingItems increments access counts after an injection.
func (s *Store) TouchWorkingItems(ctx context.Context, namespace string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	q := s.d.Rebind(`UPDATE short_term_memory SET access_count = access_count + 1
		WHERE namespace = ? AND memory_id = ?`)
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, q, namespace, id.String()); err != nil {
			return dbErr("touch working item", err)
		}
	}
	return nil
}
