package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/memorilabs/memori/internal/domain"
)

// StoreProcessed writes a processed memory plus its entities, secondary
// categories and category-index row in a single transaction. Conversational
// short-retention memories go to short_term_memory, everything else to
// long_term_memory.
func (s *Store) StoreProcessed(ctx context.Context, m *domain.ProcessedMemory) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ImportanceScore == 0 {
		m.ImportanceScore = m.Importance.Score()
	}
	if m.Retention == "" {
		m.Retention = domain.RetentionLongTerm
	}
	if m.Retention == domain.RetentionShortTerm && m.ExpiresAt == nil && !m.IsPermanent {
		exp := m.CreatedAt.Add(domain.ShortTermTTL)
		m.ExpiresAt = &exp
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal processed memory: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if m.StoresShortTerm() {
			q := s.d.Rebind(`INSERT INTO short_term_memory
				(memory_id, namespace, processed_data, importance_score, category_primary,
				 retention_type, created_at, expires_at, searchable_content, summary, is_permanent, access_count)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`)
			if _, err := tx.ExecContext(ctx, q,
				m.ID.String(), m.Namespace, string(data), m.ImportanceScore, string(m.Category),
				string(m.Retention), m.CreatedAt, nullTime(m.ExpiresAt),
				m.SearchableContent, m.Summary, m.IsPermanent); err != nil {
				return dbErr("insert short-term memory", err)
			}
		} else {
			q := s.d.Rebind(`INSERT INTO long_term_memory
				(memory_id, turn_id, namespace, processed_data, importance_score, category_primary,
				 retention_type, classification, promotion_eligible, duplicate_of, processed_for_duplicates,
				 created_at, expires_at, searchable_content, summary, is_permanent)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
			if _, err := tx.ExecContext(ctx, q,
				m.ID.String(), m.TurnID.String(), m.Namespace, string(data), m.ImportanceScore,
				string(m.Category), string(m.Retention), string(m.Classification),
				m.PromotionEligible, nullUUID(m.DuplicateOf), m.ProcessedForDuplicates,
				m.CreatedAt, nullTime(m.ExpiresAt), m.SearchableContent, m.Summary, m.IsPermanent); err != nil {
				return dbErr("insert long-term memory", err)
			}

			idxQ := s.d.Rebind(`INSERT INTO memory_category_index
				(namespace, category_primary, memory_id, importance_score)
				VALUES (?, ?, ?, ?)`)
			if _, err := tx.ExecContext(ctx, idxQ,
				m.Namespace, string(m.Category), m.ID.String(), m.ImportanceScore); err != nil {
				return dbErr("insert category index", err)
			}
		}

		entQ := s.d.Rebind(`INSERT INTO memory_entities
			(entity_id, memory_id, entity_type, entity_value, occurrence_count)
			VALUES (?, ?, ?, ?, ?)`)
		for _, e := range m.Entities {
			occ := e.Occurrences
			if occ <= 0 {
				occ = 1
			}
			if _, err := tx.ExecContext(ctx, entQ,
				uuid.NewString(), m.ID.String(), string(e.Type), domain.NormalizeContent(e.Value), occ); err != nil {
				return dbErr("insert entity", err)
			}
		}

		catQ := s.d.Rebind(`INSERT INTO memory_categories (memory_id, category, confidence) VALUES (?, ?, ?)`)
		for _, c := range m.SecondaryCategories {
			if _, err := tx.ExecContext(ctx, catQ, m.ID.String(), string(c.Category), c.Confidence); err != nil {
				return dbErr("insert secondary category", err)
			}
		}
		return nil
	})
}

// GetMemory loads a long-term memory by ID within a namespace.
func (s *Store) GetMemory(ctx context.Context, namespace string, id uuid.UUID) (*domain.ProcessedMemory, error) {
	q := s.d.Rebind(`SELECT memory_id, turn_id, namespace, importance_score, category_primary,
			retention_type, classification, promotion_eligible, duplicate_of, processed_for_duplicates,
			created_at, expires_at, searchable_content, summary, is_permanent
		FROM long_term_memory
		WHERE namespace = ? AND memory_id = ?`)
	m, err := scanMemory(s.db.QueryRowContext(ctx, q, namespace, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, dbErr("get memory", err)
	}
	return m, nil
}

// RecentUnprocessed returns recent non-duplicate long-term memories in the
// namespace, newest first. These are the dedup comparison candidates.
func (s *Store) RecentUnprocessed(ctx context.Context, namespace string, limit int) ([]domain.ProcessedMemory, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.d.Rebind(`SELECT memory_id, turn_id, namespace, importance_score, category_primary,
			retention_type, classification, promotion_eligible, duplicate_of, processed_for_duplicates,
			created_at, expires_at, searchable_content, summary, is_permanent
		FROM long_term_memory
		WHERE namespace = ? AND duplicate_of IS NULL
		ORDER BY created_at DESC
		LIMIT ?`)
	return s.queryMemories(ctx, "recent unprocessed", q, namespace, limit)
}

// MarkProcessedForDuplicates flags memories as having been through a dedup
// comparison pass.
func (s *Store) MarkProcessedForDuplicates(ctx context.Context, namespace string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	q := s.d.Rebind(`UPDATE long_term_memory SET processed_for_duplicates = ? WHERE namespace = ? AND memory_id = ?`)
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, q, true, namespace, id.String()); err != nil {
			return dbErr("mark processed for duplicates", err)
		}
	}
	return nil
}

// RecentSummaries returns the newest memory summaries for the extraction
// context window.
func (s *Store) RecentSummaries(ctx context.Context, namespace string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	q := s.d.Rebind(`SELECT summary FROM long_term_memory
		WHERE namespace = ? AND duplicate_of IS NULL
		ORDER BY created_at DESC
		LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, q, namespace, limit)
	if err != nil {
		return nil, dbErr("recent summaries", err)
	}
	defer rows.Close()

	var summaries []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, dbErr("scan summary", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// ListConsciousInfo returns promotable conscious-info memories ordered by
// importance. Used by the agent's initial working-set build.
func (s *Store) ListConsciousInfo(ctx context.Context, namespace string) ([]domain.ProcessedMemory, error) {
	q := s.d.Rebind(`SELECT memory_id, turn_id, namespace, importance_score, category_primary,
			retention_type, classification, promotion_eligible, duplicate_of, processed_for_duplicates,
			created_at, expires_at, searchable_content, summary, is_permanent
		FROM long_term_memory
		WHERE namespace = ? AND classification = ? AND duplicate_of IS NULL
		ORDER BY importance_score DESC, created_at DESC`)
	return s.queryMemories(ctx, "list conscious info", q, namespace, string(domain.ClassificationConsciousInfo))
}

// ListPromotionEligibleSince returns promotion-eligible memories created
// after the given time, ordered by importance.
func (s *Store) ListPromotionEligibleSince(ctx context.Context, namespace string, since time.Time) ([]domain.ProcessedMemory, error) {
	q := s.d.Rebind(`SELECT memory_id, turn_id, namespace, importance_score, category_primary,
			retention_type, classification, promotion_eligible, duplicate_of, processed_for_duplicates,
			created_at, expires_at, searchable_content, summary, is_permanent
		FROM long_term_memory
		WHERE namespace = ? AND promotion_eligible = ? AND duplicate_of IS NULL AND created_at > ?
		ORDER BY importance_score DESC, created_at DESC`)
	return s.queryMemories(ctx, "list promotion eligible", q, namespace, true, since)
}

func (s *Store) queryMemories(ctx context.Context, op, query string, args ...any) ([]domain.ProcessedMemory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var memories []domain.ProcessedMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, dbErr(op+" scan", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*domain.ProcessedMemory, error) {
	var (
		m           domain.ProcessedMemory
		id, turnID  string
		duplicateOf sql.NullString
		expiresAt   sql.NullTime
	)
	err := row.Scan(&id, &turnID, &m.Namespace, &m.ImportanceScore, &m.Category,
		&m.Retention, &m.Classification, &m.PromotionEligible, &duplicateOf,
		&m.ProcessedForDuplicates, &m.CreatedAt, &expiresAt,
		&m.SearchableContent, &m.Summary, &m.IsPermanent)
	if err != nil {
		return nil, err
	}
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse memory id: %w", err)
	}
	if turnID != "" {
		if m.TurnID, err = uuid.Parse(turnID); err != nil {
			return nil, fmt.Errorf("parse turn id: %w", err)
		}
	}
	if duplicateOf.Valid {
		dup, err := uuid.Parse(duplicateOf.String)
		if err != nil {
			return nil, fmt.Errorf("parse duplicate_of: %w", err)
		}
		m.DuplicateOf = &dup
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	return &m, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
