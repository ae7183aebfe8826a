package store

import "strings"

const (
	dialectSQLite   = "sqlite"
	dialectMySQL    = "mysql"
	dialectPostgres = "postgres"
)

// dialect abstracts the SQL that differs between backends: schema DDL,
// placeholder style, and the native full-text query.
type dialect interface {
	Name() string
	Driver() string
	// Rebind rewrites ?-style placeholders into the dialect's style.
	Rebind(query string) string
	SchemaStatements() []string
	// FulltextQuery returns the native full-text search over
	// long_term_memory; FulltextArgs supplies its arguments.
	FulltextQuery() string
	FulltextArgs(query, namespace string, limit int) []any
	// FulltextScore normalizes the native ranker's output into [0,1].
	FulltextScore(raw float64) float64
	// IgnorableSchemaErr reports whether a schema statement failure means
	// "already exists" and can be skipped.
	IgnorableSchemaErr(err error) bool
}

// ltColumns is the shared select list for long_term_memory search rows.
const ltColumns = "memory_id, turn_id, namespace, category_primary, classification, importance_score, summary, searchable_content, created_at"

// rebindDollar rewrites ? placeholders to $1..$n (Postgres).
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return itoa(n/10) + string(rune('0'+n%10))
}
