package store

import "strings"

type mysqlDialect struct{}

func (mysqlDialect) Name() string   { return dialectMySQL }
func (mysqlDialect) Driver() string { return "mysql" }

func (mysqlDialect) Rebind(query string) string { return query }

func (mysqlDialect) SchemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS chat_history (
			turn_id VARCHAR(36) PRIMARY KEY,
			session_id VARCHAR(128) NOT NULL,
			namespace VARCHAR(128) NOT NULL,
			user_input MEDIUMTEXT NOT NULL,
			ai_output MEDIUMTEXT NOT NULL,
			model VARCHAR(128) NOT NULL DEFAULT '',
			timestamp DATETIME(6) NOT NULL,
			tokens INT NOT NULL DEFAULT 0,
			metadata MEDIUMTEXT,
			KEY idx_chat_ns_session (namespace, session_id, timestamp)
		) ENGINE=InnoDB`,

		`CREATE TABLE IF NOT EXISTS short_term_memory (
			memory_id VARCHAR(36) PRIMARY KEY,
			namespace VARCHAR(128) NOT NULL,
			processed_data MEDIUMTEXT,
			importance_score DOUBLE NOT NULL DEFAULT 0.5,
			category_primary VARCHAR(64) NOT NULL,
			retention_type VARCHAR(32) NOT NULL DEFAULT 'short_term',
			created_at DATETIME(6) NOT NULL,
			expires_at DATETIME(6) NULL,
			searchable_content TEXT NOT NULL,
			summary TEXT NOT NULL,
			is_permanent TINYINT(1) NOT NULL DEFAULT 0,
			access_count INT NOT NULL DEFAULT 0,
			KEY idx_short_ns_cat (namespace, category_primary),
			FULLTEXT KEY ft_short (summary, searchable_content)
		) ENGINE=InnoDB`,

		`CREATE TABLE IF NOT EXISTS long_term_memory (
			memory_id VARCHAR(36) PRIMARY KEY,
			turn_id VARCHAR(36) NOT NULL DEFAULT '',
			namespace VARCHAR(128) NOT NULL,
			processed_data MEDIUMTEXT,
			importance_score DOUBLE NOT NULL DEFAULT 0.5,
			category_primary VARCHAR(64) NOT NULL,
			retention_type VARCHAR(32) NOT NULL DEFAULT 'long_term',
			classification VARCHAR(32) NOT NULL DEFAULT 'conversational',
			promotion_eligible TINYINT(1) NOT NULL DEFAULT 0,
			duplicate_of VARCHAR(36) NULL,
			processed_for_duplicates TINYINT(1) NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			expires_at DATETIME(6) NULL,
			searchable_content TEXT NOT NULL,
			summary TEXT NOT NULL,
			is_permanent TINYINT(1) NOT NULL DEFAULT 0,
			KEY idx_long_ns_created (namespace, created_at),
			KEY idx_long_ns_class (namespace, classification),
			FULLTEXT KEY ft_long (summary, searchable_content)
		) ENGINE=InnoDB`,

		`CREATE TABLE IF NOT EXISTS memory_entities (
			entity_id VARCHAR(36) PRIMARY KEY,
			memory_id VARCHAR(36) NOT NULL,
			entity_type VARCHAR(32) NOT NULL,
			entity_value VARCHAR(255) NOT NULL,
			occurrence_count INT NOT NULL DEFAULT 1,
			KEY idx_entities_value (entity_value),
			KEY idx_entities_memory (memory_id)
		) ENGINE=InnoDB`,

		`CREATE TABLE IF NOT EXISTS memory_categories (
			memory_id VARCHAR(36) NOT NULL,
			category VARCHAR(64) NOT NULL,
			confidence DOUBLE NOT NULL DEFAULT 0,
			PRIMARY KEY (memory_id, category)
		) ENGINE=InnoDB`,

		`CREATE TABLE IF NOT EXISTS memory_category_index (
			namespace VARCHAR(128) NOT NULL,
			category_primary VARCHAR(64) NOT NULL,
			memory_id VARCHAR(36) NOT NULL,
			importance_score DOUBLE NOT NULL DEFAULT 0.5,
			PRIMARY KEY (namespace, category_primary, memory_id)
		) ENGINE=InnoDB`,
	}
}

func (mysqlDialect) FulltextQuery() string {
	return `SELECT ` + ltColumns + `,
			MATCH(summary, searchable_content) AGAINST (? IN NATURAL LANGUAGE MODE) AS relevance
		FROM long_term_memory
		WHERE namespace = ?
		  AND duplicate_of IS NULL
		  AND MATCH(summary, searchable_content) AGAINST (? IN NATURAL LANGUAGE MODE)
		ORDER BY relevance DESC
		LIMIT ?`
}

func (mysqlDialect) FulltextArgs(query, namespace string, limit int) []any {
	return []any{query, namespace, query, limit}
}

func (mysqlDialect) FulltextScore(raw float64) float64 {
	if raw < 0 {
		raw = 0
	}
	return raw / (raw + 1)
}

func (mysqlDialect) IgnorableSchemaErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "Duplicate key name")
}
