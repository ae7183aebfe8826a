package store

import (
	"strings"
)

type sqliteDialect struct{}

func (sqliteDialect) Name() string   { return dialectSQLite }
func (sqliteDialect) Driver() string { return "sqlite" }

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) SchemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS chat_history (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			namespace TEXT NOT NULL,
			user_input TEXT NOT NULL,
			ai_output TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMP NOT NULL,
			tokens INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_ns_session ON chat_history(namespace, session_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS short_term_memory (
			memory_id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			processed_data TEXT NOT NULL DEFAULT '{}',
			importance_score REAL NOT NULL DEFAULT 0.5,
			category_primary TEXT NOT NULL,
			retention_type TEXT NOT NULL DEFAULT 'short_term',
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			searchable_content TEXT NOT NULL,
			summary TEXT NOT NULL,
			is_permanent INTEGER NOT NULL DEFAULT 0,
			access_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_short_ns_cat ON short_term_memory(namespace, category_primary)`,

		`CREATE TABLE IF NOT EXISTS long_term_memory (
			memory_id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL DEFAULT '',
			namespace TEXT NOT NULL,
			processed_data TEXT NOT NULL DEFAULT '{}',
			importance_score REAL NOT NULL DEFAULT 0.5,
			category_primary TEXT NOT NULL,
			retention_type TEXT NOT NULL DEFAULT 'long_term',
			classification TEXT NOT NULL DEFAULT 'conversational',
			promotion_eligible INTEGER NOT NULL DEFAULT 0,
			duplicate_of TEXT,
			processed_for_duplicates INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			searchable_content TEXT NOT NULL,
			summary TEXT NOT NULL,
			is_permanent INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_long_ns_created ON long_term_memory(namespace, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_long_ns_class ON long_term_memory(namespace, classification)`,

		`CREATE TABLE IF NOT EXISTS memory_entities (
			entity_id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_value TEXT NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_value ON memory_entities(entity_value)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_memory ON memory_entities(memory_id)`,

		`CREATE TABLE IF NOT EXISTS memory_categories (
			memory_id TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (memory_id, category)
		)`,

		`CREATE TABLE IF NOT EXISTS memory_category_index (
			namespace TEXT NOT NULL,
			category_primary TEXT NOT NULL,
			memory_id TEXT NOT NULL,
			importance_score REAL NOT NULL DEFAULT 0.5,
			PRIMARY KEY (namespace, category_primary, memory_id)
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS long_term_memory_fts USING fts5(
			summary, searchable_content,
			content='long_term_memory', content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS long_term_memory_fts_ai AFTER INSERT ON long_term_memory BEGIN
			INSERT INTO long_term_memory_fts(rowid, summary, searchable_content)
			VALUES (new.rowid, new.summary, new.searchable_content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS long_term_memory_fts_ad AFTER DELETE ON long_term_memory BEGIN
			INSERT INTO long_term_memory_fts(long_term_memory_fts, rowid, summary, searchable_content)
			VALUES ('delete', old.rowid, old.summary, old.searchable_content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS long_term_memory_fts_au AFTER UPDATE ON long_term_memory BEGIN
			INSERT INTO long_term_memory_fts(long_term_memory_fts, rowid, summary, searchable_content)
			VALUES ('delete', old.rowid, old.summary, old.searchable_content);
			INSERT INTO long_term_memory_fts(rowid, summary, searchable_content)
			VALUES (new.rowid, new.summary, new.searchable_content);
		END`,
	}
}

func (sqliteDialect) FulltextQuery() string {
	return `SELECT lt.memory_id, lt.turn_id, lt.namespace, lt.category_primary, lt.classification,
			lt.importance_score, lt.summary, lt.searchable_content, lt.created_at,
			bm25(long_term_memory_fts) AS relevance
		FROM long_term_memory_fts
		JOIN long_term_memory lt ON lt.rowid = long_term_memory_fts.rowid
		WHERE long_term_memory_fts MATCH ?
		  AND lt.namespace = ?
		  AND lt.duplicate_of IS NULL
		ORDER BY relevance
		LIMIT ?`
}

func (sqliteDialect) FulltextArgs(query, namespace string, limit int) []any {
	return []any{ftsMatchExpr(query), namespace, limit}
}

// bm25() reports better matches as more negative values.
func (sqliteDialect) FulltextScore(raw float64) float64 {
	s := -raw
	if s < 0 {
		s = 0
	}
	return s / (s + 1)
}

func (sqliteDialect) IgnorableSchemaErr(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}

// ftsMatchExpr quotes each token so user input cannot inject FTS5 syntax.
func ftsMatchExpr(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, ``)+`"`)
	}
	return strings.Join(quoted, " OR ")
}
