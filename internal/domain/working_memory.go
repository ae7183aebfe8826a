package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkingMemoryItem is a long-term memory copied into the short-term working
// set. At most one item per (namespace, normalized searchable content).
type WorkingMemoryItem struct {
	ID                uuid.UUID  `json:"id"`
	MemoryID          uuid.UUID  `json:"memory_id"`
	Namespace         string     `json:"namespace"`
	Summary           string     `json:"summary"`
	SearchableContent string     `json:"searchable_content"`
	Category          Category   `json:"category"` // always conscious_context
	ImportanceScore   float64    `json:"importance_score"`
	IsPermanent       bool       `json:"is_permanent"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	AccessCount       int        `json:"access_count"`
}

// NewWorkingItem builds the working-set copy of a long-term memory.
// Promotion is a copy, not a move: the source row stays queryable.
func NewWorkingItem(m *ProcessedMemory) *WorkingMemoryItem {
	return &WorkingMemoryItem{
		ID:                uuid.New(),
		MemoryID:          m.ID,
		Namespace:         m.Namespace,
		Summary:           m.Summary,
		SearchableContent: m.SearchableContent,
		Category:          CategoryConsciousContext,
		ImportanceScore:   m.ImportanceScore,
		IsPermanent:       m.Classification == ClassificationEssential,
		CreatedAt:         time.Now().UTC(),
	}
}
