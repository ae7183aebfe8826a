package domain

import (
	"time"

	"github.com/google/uuid"
)

// Category is the primary classification of a processed memory.
type Category string

const (
	CategoryFact       Category = "fact"
	CategoryPreference Category = "preference"
	CategorySkill      Category = "skill"
	CategoryContext    Category = "context"
	CategoryRule       Category = "rule"

	// CategoryConsciousContext marks working-set copies in short_term_memory.
	// It is never produced by extraction.
	CategoryConsciousContext Category = "conscious_context"
)

func ValidCategory(c string) bool {
	switch Category(c) {
	case CategoryFact, CategoryPreference, CategorySkill, CategoryContext, CategoryRule:
		return true
	}
	return false
}

// Importance is the extraction-time importance band.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

func ValidImportance(i string) bool {
	switch Importance(i) {
	case ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceCritical:
		return true
	}
	return false
}

// Score maps the importance band to its numeric score in [0,1].
func (i Importance) Score() float64 {
	switch i {
	case ImportanceLow:
		return 0.3
	case ImportanceMedium:
		return 0.5
	case ImportanceHigh:
		return 0.75
	case ImportanceCritical:
		return 1.0
	default:
		return 0.5
	}
}

// Classification drives promotion into the working set.
type Classification string

const (
	ClassificationEssential      Classification = "essential"
	ClassificationConsciousInfo  Classification = "conscious_info"
	ClassificationConversational Classification = "conversational"
)

func ValidClassification(c string) bool {
	switch Classification(c) {
	case ClassificationEssential, ClassificationConsciousInfo, ClassificationConversational:
		return true
	}
	return false
}

// Retention selects the table and default expiry for a processed memory.
type Retention string

const (
	RetentionShortTerm Retention = "short_term"
	RetentionLongTerm  Retention = "long_term"
)

// ShortTermTTL is the default retention for short-term memories.
const ShortTermTTL = 7 * 24 * time.Hour

func ValidRetention(r string) bool {
	switch Retention(r) {
	case RetentionShortTerm, RetentionLongTerm:
		return true
	}
	return false
}

// EntityType classifies an extracted entity mention.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityTechnology   EntityType = "technology"
	EntityTopic        EntityType = "topic"
	EntitySkill        EntityType = "skill"
	EntityProject      EntityType = "project"
	EntityKeyword      EntityType = "keyword"
	EntityLocation     EntityType = "location"
	EntityOrganization EntityType = "organization"
)

func ValidEntityType(t string) bool {
	switch EntityType(t) {
	case EntityPerson, EntityTechnology, EntityTopic, EntitySkill,
		EntityProject, EntityKeyword, EntityLocation, EntityOrganization:
		return true
	}
	return false
}

// Entity is a normalized entity mention attached to a processed memory.
// Value is stored lowercased.
type Entity struct {
	Type        EntityType `json:"type"`
	Value       string     `json:"value"`
	Occurrences int        `json:"occurrences"`
}

// CategoryTag is a secondary category with extraction confidence.
// Persisted for forward-compatibility; not used in ranking.
type CategoryTag struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}

// Field length limits enforced on extraction output.
const (
	MaxSummaryLen           = 500
	MaxSearchableContentLen = 5000
)

// ProcessedMemory is the structured interpretation of a chat turn.
// Immutable after store except for duplicate bookkeeping.
type ProcessedMemory struct {
	ID                     uuid.UUID      `json:"id"`
	TurnID                 uuid.UUID      `json:"turn_id"`
	Namespace              string         `json:"namespace"`
	Summary                string         `json:"summary"`
	SearchableContent      string         `json:"searchable_content"`
	Category               Category       `json:"category"`
	SecondaryCategories    []CategoryTag  `json:"secondary_categories,omitempty"`
	Importance             Importance     `json:"importance"`
	ImportanceScore        float64        `json:"importance_score"`
	Classification         Classification `json:"classification"`
	PromotionEligible      bool           `json:"promotion_eligible"`
	DuplicateOf            *uuid.UUID     `json:"duplicate_of,omitempty"`
	ProcessedForDuplicates bool           `json:"processed_for_duplicates"`
	Entities               []Entity       `json:"entities,omitempty"`
	Retention              Retention      `json:"retention"`
	IsPermanent            bool           `json:"is_permanent"`
	CreatedAt              time.Time      `json:"created_at"`
	ExpiresAt              *time.Time     `json:"expires_at,omitempty"`
}

// StoresShortTerm reports whether the memory belongs in short_term_memory
// instead of long_term_memory.
func (m *ProcessedMemory) StoresShortTerm() bool {
	return m.Classification == ClassificationConversational && m.Retention == RetentionShortTerm
}
