package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ChatStore interface {
	StoreChat(ctx context.Context, turn *ChatTurn) error
	GetChatHistory(ctx context.Context, namespace, sessionID string, limit int) ([]ChatTurn, error)
}

type MemoryStore interface {
	StoreProcessed(ctx context.Context, m *ProcessedMemory) error
	GetMemory(ctx context.Context, namespace string, id uuid.UUID) (*ProcessedMemory, error)
	// RecentUnprocessed returns recent long-term memories not yet compared
	// for duplicates, newest first.
	RecentUnprocessed(ctx context.Context, namespace string, limit int) ([]ProcessedMemory, error)
	MarkProcessedForDuplicates(ctx context.Context, namespace string, ids []uuid.UUID) error
	// RecentSummaries feeds the extraction context window.
	RecentSummaries(ctx context.Context, namespace string, limit int) ([]string, error)
	ListConsciousInfo(ctx context.Context, namespace string) ([]ProcessedMemory, error)
	ListPromotionEligibleSince(ctx context.Context, namespace string, since time.Time) ([]ProcessedMemory, error)
}

type WorkingStore interface {
	// InsertWorkingItem inserts unless an item with equal normalized content
	// already exists in the namespace. Reports whether a row was written.
	InsertWorkingItem(ctx context.Context, item *WorkingMemoryItem) (bool, error)
	ListWorkingItems(ctx context.Context, namespace string) ([]WorkingMemoryItem, error)
	TouchWorkingItems(ctx context.Context, namespace string, ids []uuid.UUID) error
}

type SearchStore interface {
	SearchFulltext(ctx context.Context, namespace, query string, limit int) ([]SearchResult, error)
	SearchKeyword(ctx context.Context, namespace string, tokens []string, limit int) ([]SearchResult, error)
	SearchCategory(ctx context.Context, namespace string, category Category, limit int) ([]SearchResult, error)
	SearchEntities(ctx context.Context, namespace string, values []string, limit int) ([]SearchResult, error)
	SearchRecent(ctx context.Context, namespace string, limit int) ([]SearchResult, error)
}

type AdminStore interface {
	GetMemoryStats(ctx context.Context, namespace string) (*MemoryStats, error)
	ClearMemory(ctx context.Context, namespace string, kind ClearKind) error
	DatabaseInfo(ctx context.Context) (*DatabaseInfo, error)
}

// ChatOptions shape a single analysis-LLM call.
type ChatOptions struct {
	MaxTokens    int
	Temperature  float32
	JSONResponse bool
}

// AnalysisClient is the contract for the analysis LLM. Memori does not care
// which vendor sits behind it, only that JSONResponse requests come back as
// a single JSON value.
type AnalysisClient interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}
