package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/memorilabs/memori/internal/domain"
)

// SearchFulltext runs the dialect's native full-text query over summary and
// searchable content. Scores come back normalized to [0,1].
func (s *Store) SearchFulltext(ctx context.Context, namespace, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.d.FulltextQuery(), s.d.FulltextArgs(query, namespace, limit)...)
	if err != nil {
		return nil, dbErr("fulltext search", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			r    domain.SearchResult
			rank float64
		)
		if err := scanSearchRow(rows, &r, &rank); err != nil {
			return nil, dbErr("scan fulltext row", err)
		}
		r.Strategy = domain.StrategyFulltext
		r.Score = s.d.FulltextScore(rank)
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchKeyword is the LIKE fallback. Rows match when any token appears in
// the summary or searchable content; the engine computes the token-overlap
// score.
func (s *Store) SearchKeyword(ctx context.Context, namespace string, tokens []string, limit int) ([]domain.SearchResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var conds []string
	args := []any{namespace}
	for _, tok := range tokens {
		conds = append(conds, "(LOWER(searchable_content) LIKE ? OR LOWER(summary) LIKE ?)")
		pattern := "%" + strings.ToLower(tok) + "%"
		args = append(args, pattern, pattern)
	}
	args = append(args, limit)

	q := s.d.Rebind(fmt.Sprintf(`SELECT %s FROM long_term_memory
		WHERE namespace = ? AND duplicate_of IS NULL AND (%s)
		ORDER BY importance_score DESC, created_at DESC
		LIMIT ?`, ltColumns, strings.Join(conds, " OR ")))

	return s.querySearch(ctx, "keyword search", domain.StrategyKeywordLike, q, args...)
}

// SearchCategory pulls rows whose primary category matches, via the category
// index table.
func (s *Store) SearchCategory(ctx context.Context, namespace string, category domain.Category, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q := s.d.Rebind(`SELECT ` + qualify("lt", ltColumns) + `
		FROM memory_category_index ci
		JOIN long_term_memory lt ON lt.memory_id = ci.memory_id
		WHERE ci.namespace = ? AND ci.category_primary = ? AND lt.duplicate_of IS NULL
		ORDER BY ci.importance_score DESC, lt.created_at DESC
		LIMIT ?`)
	return s.querySearch(ctx, "category search", domain.StrategyCategory, q, namespace, string(category), limit)
}

// SearchEntities looks query tokens up in memory_entities and pulls the
// parent memories.
func (s *Store) SearchEntities(ctx context.Context, namespace string, values []string, limit int) ([]domain.SearchResult, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	placeholders := make([]string, len(values))
	args := []any{namespace}
	for i, v := range values {
		placeholders[i] = "?"
		args = append(args, domain.NormalizeContent(v))
	}
	args = append(args, limit)

	q := s.d.Rebind(fmt.Sprintf(`SELECT DISTINCT %s
		FROM long_term_memory lt
		JOIN memory_entities e ON e.memory_id = lt.memory_id
		WHERE lt.namespace = ? AND lt.duplicate_of IS NULL AND e.entity_value IN (%s)
		ORDER BY lt.importance_score DESC, lt.created_at DESC
		LIMIT ?`, qualify("lt", ltColumns), strings.Join(placeholders, ", ")))

	return s.querySearch(ctx, "entity search", domain.StrategyEntity, q, args...)
}

// SearchRecent is the last-resort fallback: newest rows in the namespace.
func (s *Store) SearchRecent(ctx context.Context, namespace string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q := s.d.Rebind(`SELECT ` + ltColumns + ` FROM long_term_memory
		WHERE namespace = ? AND duplicate_of IS NULL
		ORDER BY created_at DESC
		LIMIT ?`)
	return s.querySearch(ctx, "recent search", domain.StrategyRecentFallback, q, namespace, limit)
}

func (s *Store) querySearch(ctx context.Context, op string, strategy domain.SearchStrategy, query string, args ...any) ([]domain.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var r domain.SearchResult
		if err := scanSearchRow(rows, &r, nil); err != nil {
			return nil, dbErr(op+" scan", err)
		}
		r.Strategy = strategy
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanSearchRow(rows *sql.Rows, r *domain.SearchResult, rank *float64) error {
	var (
		id, turnID string
		class      sql.NullString
	)
	dest := []any{&id, &turnID, &r.Namespace, &r.Category, &class,
		&r.ImportanceScore, &r.Summary, &r.SearchableContent, &r.CreatedAt}
	if rank != nil {
		dest = append(dest, rank)
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	var err error
	if r.MemoryID, err = uuid.Parse(id); err != nil {
		return fmt.Errorf("parse memory id: %w", err)
	}
	if turnID != "" {
		if r.TurnID, err = uuid.Parse(turnID); err != nil {
			return fmt.Errorf("parse turn id: %w", err)
		}
	}
	if class.Valid {
		r.Classification = domain.Classification(class.String)
	}
	return nil
}

// qualify prefixes each column in a comma-separated list with a table alias.
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
