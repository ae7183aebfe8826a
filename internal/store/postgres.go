package store

import "strings"

type postgresDialect struct{}

func (postgresDialect) Name() string   { return dialectPostgres }
func (postgresDialect) Driver() string { return "pgx" }

func (postgresDialect) Rebind(query string) string { return rebindDollar(query) }

func (postgresDialect) SchemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS chat_history (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			namespace TEXT NOT NULL,
			user_input TEXT NOT NULL,
			ai_output TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			tokens INT NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_ns_session ON chat_history(namespace, session_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS short_term_memory (
			memory_id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			processed_data TEXT NOT NULL DEFAULT '{}',
			importance_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			category_primary TEXT NOT NULL,
			retention_type TEXT NOT NULL DEFAULT 'short_term',
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			searchable_content TEXT NOT NULL,
			summary TEXT NOT NULL,
			is_permanent BOOLEAN NOT NULL DEFAULT FALSE,
			access_count INT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_short_ns_cat ON short_term_memory(namespace, category_primary)`,

		`CREATE TABLE IF NOT EXISTS long_term_memory (
			memory_id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL DEFAULT '',
			namespace TEXT NOT NULL,
			processed_data TEXT NOT NULL DEFAULT '{}',
			importance_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			category_primary TEXT NOT NULL,
			retention_type TEXT NOT NULL DEFAULT 'long_term',
			classification TEXT NOT NULL DEFAULT 'conversational',
			promotion_eligible BOOLEAN NOT NULL DEFAULT FALSE,
			duplicate_of TEXT,
			processed_for_duplicates BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			searchable_content TEXT NOT NULL,
			summary TEXT NOT NULL,
			is_permanent BOOLEAN NOT NULL DEFAULT FALSE,
			search_vector tsvector GENERATED ALWAYS AS (
				to_tsvector('english', coalesce(summary, '') || ' ' || coalesce(searchable_content, ''))
			) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS idx_long_ns_created ON long_term_memory(namespace, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_long_ns_class ON long_term_memory(namespace, classification)`,
		`CREATE INDEX IF NOT EXISTS idx_long_search_vector ON long_term_memory USING GIN (search_vector)`,

		`CREATE TABLE IF NOT EXISTS memory_entities (
			entity_id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_value TEXT NOT NULL,
			occurrence_count INT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_value ON memory_entities(entity_value)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_memory ON memory_entities(memory_id)`,

		`CREATE TABLE IF NOT EXISTS memory_categories (
			memory_id TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (memory_id, category)
		)`,

		`CREATE TABLE IF NOT EXISTS memory_category_index (
			namespace TEXT NOT NULL,
			category_primary TEXT NOT NULL,
			memory_id TEXT NOT NULL,
			importance_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			PRIMARY KEY (namespace, category_primary, memory_id)
		)`,
	}
}

func (postgresDialect) FulltextQuery() string {
	return `SELECT ` + ltColumns + `,
			ts_rank(search_vector, plainto_tsquery('english', $1)) AS relevance
		FROM long_term_memory
		WHERE namespace = $2
		  AND duplicate_of IS NULL
		  AND search_vector @@ plainto_tsquery('english', $1)
		ORDER BY relevance DESC
		LIMIT $3`
}

func (postgresDialect) FulltextArgs(query, namespace string, limit int) []any {
	return []any{query, namespace, limit}
}

func (postgresDialect) FulltextScore(raw float64) float64 {
	if raw < 0 {
		raw = 0
	}
	return raw / (raw + 1)
}

func (postgresDialect) IgnorableSchemaErr(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}
