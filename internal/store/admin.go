package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memorilabs/memori/internal/domain"
)

// GetMemoryStats returns the per-namespace snapshot. Working-set copies are
// counted separately from pipeline-stored short-term rows.
func (s *Store) GetMemoryStats(ctx context.Context, namespace string) (*domain.MemoryStats, error) {
	stats := &domain.MemoryStats{
		Namespace:   namespace,
		PerCategory: make(map[domain.Category]int),
	}

	if err := s.countRow(ctx,
		`SELECT COUNT(*) FROM chat_history WHERE namespace = ?`,
		&stats.ChatCount, namespace); err != nil {
		return nil, err
	}
	if err := s.countRow(ctx,
		`SELECT COUNT(*) FROM short_term_memory WHERE namespace = ? AND category_primary <> ?`,
		&stats.ShortTermCount, namespace, string(domain.CategoryConsciousContext)); err != nil {
		return nil, err
	}
	if err := s.countRow(ctx,
		`SELECT COUNT(*) FROM short_term_memory WHERE namespace = ? AND category_primary = ?`,
		&stats.WorkingCount, namespace, string(domain.CategoryConsciousContext)); err != nil {
		return nil, err
	}
	if err := s.countRow(ctx,
		`SELECT COUNT(*) FROM long_term_memory WHERE namespace = ?`,
		&stats.LongTermCount, namespace); err != nil {
		return nil, err
	}

	q := s.d.Rebind(`SELECT category_primary, COUNT(*) FROM long_term_memory
		WHERE namespace = ? GROUP BY category_primary`)
	rows, err := s.db.QueryContext(ctx, q, namespace)
	if err != nil {
		return nil, dbErr("stats per category", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category string
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, dbErr("scan category count", err)
		}
		stats.PerCategory[domain.Category(category)] = count
	}
	return stats, rows.Err()
}

func (s *Store) countRow(ctx context.Context, query string, dest *int, args ...any) error {
	if err := s.db.QueryRowContext(ctx, s.d.Rebind(query), args...).Scan(dest); err != nil {
		return dbErr("count", err)
	}
	return nil
}

// ClearMemory wipes a namespace's stores. ClearShort drops the short-term
// table including working copies, ClearLong drops long-term plus its side
// tables, ClearAll additionally drops chat history.
func (s *Store) ClearMemory(ctx context.Context, namespace string, kind domain.ClearKind) error {
	if !domain.ValidClearKind(string(kind)) {
		return fmt.Errorf("invalid clear kind %q", kind)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exec := func(op, q string, args ...any) error {
			if _, err := tx.ExecContext(ctx, s.d.Rebind(q), args...); err != nil {
				return dbErr(op, err)
			}
			return nil
		}

		if kind == domain.ClearShort || kind == domain.ClearAll {
			if err := exec("clear short-term", `DELETE FROM short_term_memory WHERE namespace = ?`, namespace); err != nil {
				return err
			}
		}
		if kind == domain.ClearLong || kind == domain.ClearAll {
			sub := `SELECT memory_id FROM long_term_memory WHERE namespace = ?`
			if err := exec("clear entities", `DELETE FROM memory_entities WHERE memory_id IN (`+sub+`)`, namespace); err != nil {
				return err
			}
			if err := exec("clear categories", `DELETE FROM memory_categories WHERE memory_id IN (`+sub+`)`, namespace); err != nil {
				return err
			}
			if err := exec("clear category index", `DELETE FROM memory_category_index WHERE namespace = ?`, namespace); err != nil {
				return err
			}
			if err := exec("clear long-term", `DELETE FROM long_term_memory WHERE namespace = ?`, namespace); err != nil {
				return err
			}
		}
		if kind == domain.ClearAll {
			if err := exec("clear chat history", `DELETE FROM chat_history WHERE namespace = ?`, namespace); err != nil {
				return err
			}
		}
		return nil
	})
}

// DatabaseInfo reports the connected dialect and global table sizes.
func (s *Store) DatabaseInfo(ctx context.Context) (*domain.DatabaseInfo, error) {
	info := &domain.DatabaseInfo{
		Dialect:         s.d.Name(),
		Driver:          s.d.Driver(),
		FulltextEnabled: true,
		Tables:          make(map[string]int64),
	}
	for _, table := range []string{"chat_history", "short_term_memory", "long_term_memory", "memory_entities", "memory_categories", "memory_category_index"} {
		var count int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
			return nil, dbErr("table count "+table, err)
		}
		info.Tables[table] = count
	}
	return info, nil
}
