package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
	"github.com/memorilabs/memori/internal/llm"
)

// Pipeline constants
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64

	// DuplicateJaccard is the token-set similarity above which two memories
	// count as duplicates. Exact normalized equality always counts.
	DuplicateJaccard = 0.85

	dedupWindow     = 20
	summariesWindow = 10
	taskTimeout     = 30 * time.Second
)

// Config bounds the worker pool and carries the namespace-level memory
// filters.
type Config struct {
	Workers   int
	QueueSize int

	// AllowCategories, when non-empty, restricts storage to these primary
	// categories.
	AllowCategories []domain.Category
	// MinImportance drops extractions scoring below the threshold.
	MinImportance float64
}

// Task is one captured turn awaiting extraction.
type Task struct {
	Turn        *domain.ChatTurn
	UserContext domain.UserContext
}

// Pipeline turns captured chat turns into processed memories. The chat turn
// is written synchronously on ingest; extraction runs on a bounded worker
// pool and is dropped, never blocked on, when the queue is full.
type Pipeline struct {
	chats    domain.ChatStore
	memories domain.MemoryStore
	analysis domain.AnalysisClient
	logger   *zap.Logger

	allow         map[domain.Category]bool
	minImportance float64

	tasks      chan Task
	promotions chan string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// mu serializes enqueue against close so Ingest never races a closed
	// task channel.
	mu        sync.RWMutex
	closeOnce sync.Once
	closed    bool

	stored  atomic.Int64
	dropped atomic.Int64
}

func New(chats domain.ChatStore, memories domain.MemoryStore, analysis domain.AnalysisClient, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		chats:         chats,
		memories:      memories,
		analysis:      analysis,
		logger:        logger,
		minImportance: cfg.MinImportance,
		tasks:         make(chan Task, cfg.QueueSize),
		promotions:    make(chan string, 16),
		ctx:           ctx,
		cancel:        cancel,
	}
	if len(cfg.AllowCategories) > 0 {
		p.allow = make(map[domain.Category]bool, len(cfg.AllowCategories))
		for _, c := range cfg.AllowCategories {
			p.allow[c] = true
		}
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Ingest writes the chat turn and queues extraction. The turn is always
// persisted; when the queue is full the extraction is dropped and counted,
// with no caller-visible failure.
func (p *Pipeline) Ingest(ctx context.Context, task Task) (uuid.UUID, error) {
	if err := p.chats.StoreChat(ctx, task.Turn); err != nil {
		return uuid.Nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return task.Turn.ID, nil
	}
	select {
	case p.tasks <- task:
	default:
		p.dropped.Add(1)
		p.logger.Warn("pipeline queue full, extraction dropped",
			zap.String("turn_id", task.Turn.ID.String()),
			zap.String("namespace", task.Turn.Namespace))
	}
	return task.Turn.ID, nil
}

// Promotions signals namespaces with freshly stored promotion-eligible
// memories.
func (p *Pipeline) Promotions() <-chan string {
	return p.promotions
}

// Stored reports memories successfully written since startup.
func (p *Pipeline) Stored() int64 { return p.stored.Load() }

// Dropped reports extractions lost to backpressure or invalid output.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// Close stops accepting work, drains queued tasks and waits for workers.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		p.wg.Wait()
		p.cancel()
		close(p.promotions)
	})
}

// Cancel aborts in-flight tasks without draining. Used on hard shutdown.
func (p *Pipeline) Cancel() {
	p.cancel()
	p.Close()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		if p.ctx.Err() != nil {
			p.dropped.Add(1)
			continue
		}
		ctx, cancel := context.WithTimeout(p.ctx, taskTimeout)
		p.process(ctx, task)
		cancel()
	}
}

func (p *Pipeline) process(ctx context.Context, task Task) {
	turn := task.Turn
	log := p.logger.With(
		zap.String("turn_id", turn.ID.String()),
		zap.String("namespace", turn.Namespace))

	ex, err := p.extract(ctx, task)
	if err != nil {
		p.dropped.Add(1)
		log.Warn("extraction dropped", zap.Error(err))
		return
	}
	if !ex.Store {
		log.Debug("turn carries nothing to remember")
		return
	}

	m := &domain.ProcessedMemory{
		ID:                     uuid.New(),
		TurnID:                 turn.ID,
		Namespace:              turn.Namespace,
		Summary:                ex.Summary,
		SearchableContent:      ex.SearchableContent,
		Category:               ex.Category,
		SecondaryCategories:    ex.SecondaryCategories,
		Importance:             ex.Importance,
		ImportanceScore:        ex.Importance.Score(),
		Classification:         ex.Classification,
		PromotionEligible:      ex.PromotionEligible,
		Retention:              ex.Retention,
		Entities:               ex.Entities,
		IsPermanent:            ex.Classification == domain.ClassificationEssential,
		ProcessedForDuplicates: true,
		CreatedAt:              time.Now().UTC(),
	}

	if !p.admit(m) {
		log.Debug("memory filtered",
			zap.String("category", string(m.Category)),
			zap.Float64("importance", m.ImportanceScore))
		return
	}

	if err := p.dedup(ctx, m); err != nil {
		log.Warn("dedup pass failed, storing without comparison", zap.Error(err))
	}

	if err := p.memories.StoreProcessed(ctx, m); err != nil {
		p.dropped.Add(1)
		log.Error("store memory failed", zap.Error(err))
		return
	}
	p.stored.Add(1)
	log.Debug("memory stored",
		zap.String("memory_id", m.ID.String()),
		zap.String("classification", string(m.Classification)),
		zap.Bool("duplicate", m.DuplicateOf != nil))

	if m.PromotionEligible && m.DuplicateOf == nil {
		select {
		case p.promotions <- m.Namespace:
		default:
		}
	}
}

// extract calls the analysis LLM and validates its structured output.
// Invalid output gets one fresh attempt; the second failure drops the
// extraction.
func (p *Pipeline) extract(ctx context.Context, task Task) (*llm.Extraction, error) {
	summaries, err := p.memories.RecentSummaries(ctx, task.Turn.Namespace, summariesWindow)
	if err != nil {
		p.logger.Debug("recent summaries unavailable", zap.Error(err))
	}
	messages := llm.BuildExtractionMessages(task.Turn, task.UserContext, summaries)
	opts := domain.ChatOptions{MaxTokens: 1024, Temperature: 0.2, JSONResponse: true}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		out, err := llm.ChatWithRetry(ctx, p.analysis, messages, opts)
		if err != nil {
			return nil, err
		}
		ex, err := llm.ParseExtraction(out)
		if err == nil {
			return ex, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// admit applies the namespace-level memory filters.
func (p *Pipeline) admit(m *domain.ProcessedMemory) bool {
	if p.allow != nil && !p.allow[m.Category] {
		return false
	}
	return m.ImportanceScore >= p.minImportance
}

// dedup compares the new memory against recent non-duplicate memories in
// the namespace and sets DuplicateOf on a match. Matching is normalized
// equality or a token-set Jaccard at the threshold.
func (p *Pipeline) dedup(ctx context.Context, m *domain.ProcessedMemory) error {
	recent, err := p.memories.RecentUnprocessed(ctx, m.Namespace, dedupWindow)
	if err != nil {
		return err
	}

	norm := domain.NormalizeContent(m.SearchableContent)
	toks := domain.TokenSet(m.SearchableContent)
	var compared []uuid.UUID

	for i := range recent {
		other := &recent[i]
		if !other.ProcessedForDuplicates {
			compared = append(compared, other.ID)
		}
		if domain.NormalizeContent(other.SearchableContent) == norm ||
			domain.Jaccard(toks, domain.TokenSet(other.SearchableContent)) >= DuplicateJaccard {
			id := other.ID
			m.DuplicateOf = &id
			break
		}
	}

	if err := p.memories.MarkProcessedForDuplicates(ctx, m.Namespace, compared); err != nil {
		p.logger.Debug("mark compared memories failed", zap.Error(err))
	}
	return nil
}
