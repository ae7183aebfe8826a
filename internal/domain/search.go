package domain

import (
	"time"

	"github.com/google/uuid"
)

// SearchStrategy tags each result with the strategy that produced it.
type SearchStrategy string

const (
	StrategyFulltext       SearchStrategy = "fulltext"
	StrategyKeywordLike    SearchStrategy = "keyword_like"
	StrategyCategory       SearchStrategy = "category"
	StrategyEntity         SearchStrategy = "entity"
	StrategyRecentFallback SearchStrategy = "recent_fallback"
)

// SearchResult is one memory row returned by the retrieval engine.
type SearchResult struct {
	MemoryID          uuid.UUID      `json:"memory_id"`
	TurnID            uuid.UUID      `json:"turn_id,omitempty"`
	Namespace         string         `json:"namespace"`
	Category          Category       `json:"category"`
	Classification    Classification `json:"classification,omitempty"`
	ImportanceScore   float64        `json:"importance_score"`
	Summary           string         `json:"summary"`
	SearchableContent string         `json:"searchable_content"`
	CreatedAt         time.Time      `json:"created_at"`
	Strategy          SearchStrategy `json:"search_strategy"`
	Score             float64        `json:"search_score"`
}

// SearchPlan is a structured rewrite of a raw query, produced either by the
// heuristic planner or by the analysis LLM.
type SearchPlan struct {
	Keywords []string  `json:"keywords"`
	Category *Category `json:"category,omitempty"`
	Entities []string  `json:"entities,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// ClearKind selects which stores Clear wipes.
type ClearKind string

const (
	ClearShort ClearKind = "short"
	ClearLong  ClearKind = "long"
	ClearAll   ClearKind = "all"
)

func ValidClearKind(k string) bool {
	switch ClearKind(k) {
	case ClearShort, ClearLong, ClearAll:
		return true
	}
	return false
}

// MemoryStats is the per-namespace snapshot returned by Stats.
// ShortTermCount excludes working-set copies; those are reported separately
// so that short + long always equals the number of pipeline-stored rows.
type MemoryStats struct {
	Namespace          string           `json:"namespace"`
	ChatCount          int              `json:"chat_count"`
	ShortTermCount     int              `json:"short_term_count"`
	LongTermCount      int              `json:"long_term_count"`
	WorkingCount       int              `json:"working_count"`
	PerCategory        map[Category]int `json:"per_category"`
	DroppedExtractions int64            `json:"dropped_extractions"`
}

// DatabaseInfo describes the connected backend.
type DatabaseInfo struct {
	Dialect         string           `json:"dialect"`
	Driver          string           `json:"driver"`
	FulltextEnabled bool             `json:"fulltext_enabled"`
	Tables          map[string]int64 `json:"tables"`
}
