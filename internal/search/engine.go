package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
	"github.com/memorilabs/memori/internal/llm"
)

// Search constants
const (
	DefaultLimit         = 10
	DefaultPlannerBudget = 300 * time.Millisecond
)

// Engine runs structured multi-strategy search over the memory store.
// Strategies are evaluated in a fixed order and merged; a failing strategy
// is logged and skipped, never fatal.
type Engine struct {
	store         domain.SearchStore
	analysis      domain.AnalysisClient
	plannerBudget time.Duration
	logger        *zap.Logger
}

// NewEngine creates a retrieval engine. The analysis client is optional;
// without it queries are planned heuristically.
func NewEngine(store domain.SearchStore, analysis domain.AnalysisClient, logger *zap.Logger) *Engine {
	return &Engine{
		store:         store,
		analysis:      analysis,
		plannerBudget: DefaultPlannerBudget,
		logger:        logger,
	}
}

func (e *Engine) SetPlannerBudget(d time.Duration) {
	e.plannerBudget = d
}

// Search executes the strategy ladder for a raw query and returns ranked,
// deduplicated results. An empty result is a valid outcome.
func (e *Engine) Search(ctx context.Context, namespace, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	plan := e.plan(ctx, query)
	if plan.Limit > 0 && plan.Limit < limit {
		limit = plan.Limit
	}
	tokens := plan.Keywords
	if len(tokens) == 0 {
		tokens = domain.Tokens(query)
	}

	var merged []domain.SearchResult

	results, err := e.store.SearchFulltext(ctx, namespace, strings.Join(tokens, " "), limit)
	if err != nil {
		e.logger.Warn("fulltext strategy failed", zap.Error(err))
	}
	merged = append(merged, results...)

	// LIKE fallback only when full-text produced nothing.
	if len(results) == 0 {
		kw, err := e.store.SearchKeyword(ctx, namespace, tokens, limit)
		if err != nil {
			e.logger.Warn("keyword strategy failed", zap.Error(err))
		}
		for i := range kw {
			kw[i].Score = tokenOverlapScore(tokens, &kw[i])
		}
		merged = append(merged, kw...)
	}

	if plan.Category != nil {
		cat, err := e.store.SearchCategory(ctx, namespace, *plan.Category, limit)
		if err != nil {
			e.logger.Warn("category strategy failed", zap.Error(err))
		}
		for i := range cat {
			cat[i].Score = cat[i].ImportanceScore
		}
		merged = append(merged, cat...)
	}

	entities := plan.Entities
	if len(entities) == 0 {
		entities = tokens
	}
	ent, err := e.store.SearchEntities(ctx, namespace, entities, limit)
	if err != nil {
		e.logger.Warn("entity strategy failed", zap.Error(err))
	}
	for i := range ent {
		ent[i].Score = tokenOverlapScore(tokens, &ent[i])
	}
	merged = append(merged, ent...)

	if len(merged) == 0 {
		recent, err := e.store.SearchRecent(ctx, namespace, limit)
		if err != nil {
			e.logger.Warn("recent fallback failed", zap.Error(err))
			return nil, nil
		}
		merged = recent
	}

	rank(merged)
	return dedupe(merged, limit), nil
}

// plan rewrites the raw query into a search plan, through the analysis LLM
// when one is configured. Planner failure or timeout falls back to the
// heuristic plan.
func (e *Engine) plan(ctx context.Context, query string) *domain.SearchPlan {
	heuristic := &domain.SearchPlan{Keywords: domain.Tokens(query)}
	if e.analysis == nil {
		return heuristic
	}

	pctx, cancel := context.WithTimeout(ctx, e.plannerBudget)
	defer cancel()

	out, err := e.analysis.Chat(pctx, llm.BuildPlannerMessages(query), domain.ChatOptions{
		MaxTokens:    256,
		JSONResponse: true,
	})
	if err != nil {
		e.logger.Debug("retrieval planner unavailable", zap.Error(err))
		return heuristic
	}
	plan, err := llm.ParsePlan(out)
	if err != nil {
		e.logger.Debug("retrieval planner output rejected", zap.Error(err))
		return heuristic
	}
	return plan
}

// tokenOverlapScore scores a row by the fraction of query tokens present in
// its summary or searchable content.
func tokenOverlapScore(tokens []string, r *domain.SearchResult) float64 {
	if len(tokens) == 0 {
		return 0
	}
	haystack := strings.ToLower(r.Summary + " " + r.SearchableContent)
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, strings.ToLower(tok)) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

// rank orders results by score, then importance, then recency. Ties fall
// back to memory-id order so ranking is stable.
func rank(results []domain.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ImportanceScore != b.ImportanceScore {
			return a.ImportanceScore > b.ImportanceScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.MemoryID.String() < b.MemoryID.String()
	})
}

// dedupe collapses rows with equal normalized searchable content, keeping
// the highest-ranked copy. Input must already be ranked.
func dedupe(results []domain.SearchResult, limit int) []domain.SearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]domain.SearchResult, 0, limit)
	for _, r := range results {
		key := domain.NormalizeContent(r.SearchableContent)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out
}
