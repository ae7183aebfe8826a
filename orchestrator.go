package memori

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/agent"
	"github.com/memorilabs/memori/internal/domain"
	"github.com/memorilabs/memori/internal/inject"
	"github.com/memorilabs/memori/internal/intercept"
	"github.com/memorilabs/memori/internal/pipeline"
	"github.com/memorilabs/memori/internal/search"
	"github.com/memorilabs/memori/internal/session"
	"github.com/memorilabs/memori/internal/store"
)

// DefaultSession is the session ID used when an integration cannot supply
// its own.
const DefaultSession = "default"

const apiTimeout = 10 * time.Second

var (
	ErrNothingToRecord  = errors.New("nothing to record")
	ErrQueryRequired    = errors.New("query is required")
	ErrUnknownClearKind = errors.New("unknown clear kind")
)

// HookResult reports one hook installation attempt. Installation failures
// are structured results, never panics.
type HookResult struct {
	Hook      HookKind
	Installed bool
	Err       error
}

// EnableReport summarizes what Enable wired up.
type EnableReport struct {
	Hooks []HookResult
}

// Orchestrator owns the lifecycle of one memory instance: storage, session
// tracking, the extraction pipeline, the conscious agent and the
// interception surface. Public methods are safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	logger   *zap.Logger
	store    *store.Store
	analysis domain.AnalysisClient

	sessions *session.Tracker
	engine   *search.Engine
	pipe     *pipeline.Pipeline
	injector *inject.Injector
	agent    *agent.Agent
	registry *intercept.Registry
	deduper  *intercept.Deduper

	mu        sync.Mutex
	enabled   bool
	disabled  bool
	closed    bool
	teardowns []func()
	userCtx   domain.UserContext
}

func newOrchestrator(ctx context.Context, cfg Config, analysis domain.AnalysisClient, logger *zap.Logger) (*Orchestrator, error) {
	st, err := store.Open(ctx, cfg.DatabaseURI, logger, cfg.SchemaInit)
	if err != nil {
		return nil, err
	}

	sessions := session.NewTracker(session.DefaultTTL, session.DefaultMaxSessions, session.DefaultMaxHistory, logger)
	engine := search.NewEngine(st, analysis, logger)
	pipe := pipeline.New(st, st, analysis, pipeline.Config{
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		AllowCategories: cfg.AllowCategories,
		MinImportance:   cfg.MinImportance,
	}, logger)

	injector := inject.New(st, engine, sessions, cfg.ConsciousIngest, cfg.AutoIngest, logger)
	if cfg.InjectionBudget > 0 {
		injector.SetBudget(cfg.InjectionBudget)
	}
	if cfg.AutoLimit > 0 {
		injector.SetAutoLimit(cfg.AutoLimit)
	}

	ag := agent.New(st, st, cfg.Namespace, logger)
	if cfg.AgentInterval > 0 {
		ag.SetInterval(cfg.AgentInterval)
	}

	return &Orchestrator{
		cfg:      cfg,
		logger:   logger.With(zap.String("namespace", cfg.Namespace)),
		store:    st,
		analysis: analysis,
		sessions: sessions,
		engine:   engine,
		pipe:     pipe,
		injector: injector,
		agent:    ag,
		registry: intercept.NewRegistry(logger),
		deduper:  intercept.NewDeduper(),
	}, nil
}

// Enable wires the requested interception hooks, starts the conscious agent
// and registers the instance process-wide. Idempotent; a second call
// reports already-installed hooks without re-wiring.
func (o *Orchestrator) Enable(hooks ...HookKind) (*EnableReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, fmt.Errorf("orchestrator is closed")
	}
	// The pipeline and agent do not restart; open a fresh instance instead.
	if o.disabled {
		return nil, fmt.Errorf("orchestrator was disabled and cannot be re-enabled")
	}

	report := &EnableReport{}
	if o.enabled {
		for _, h := range hooks {
			report.Hooks = append(report.Hooks, HookResult{Hook: h, Installed: true})
		}
		return report, nil
	}

	for _, h := range hooks {
		res := HookResult{Hook: h}
		switch h {
		case HookNative:
			unPre := o.registry.RegisterPre(o.nativePre)
			unPost := o.registry.RegisterPost(o.nativePost)
			o.teardowns = append(o.teardowns, unPre, unPost)
			res.Installed = true
		case HookSubclass, HookTransport, HookExplicit:
			// Nothing global to mutate; the wrapper constructors below
			// consult the enabled flag per call.
			res.Installed = true
		default:
			res.Err = fmt.Errorf("unknown hook kind: %q", h)
		}
		report.Hooks = append(report.Hooks, res)
	}

	if o.cfg.ConsciousIngest {
		o.agent.Start(o.pipe.Promotions())
	}
	registerInstance(o)
	o.enabled = true
	o.logger.Info("memori enabled",
		zap.Bool("conscious", o.cfg.ConsciousIngest),
		zap.Bool("auto", o.cfg.AutoIngest))
	return report, nil
}

// Disable reverses Enable: unregisters hooks, stops the agent and drains
// the pipeline. Idempotent.
func (o *Orchestrator) Disable() {
	o.mu.Lock()
	if !o.enabled {
		o.mu.Unlock()
		return
	}
	o.enabled = false
	o.disabled = true
	teardowns := o.teardowns
	o.teardowns = nil
	o.mu.Unlock()

	for _, undo := range teardowns {
		undo()
	}
	o.pipe.Close()
	if o.cfg.ConsciousIngest {
		o.agent.Stop()
	}
	unregisterInstance(o)
	o.logger.Info("memori disabled")
}

// Close disables the instance and releases the database.
func (o *Orchestrator) Close() error {
	o.Disable()
	// Disable is a no-op when never enabled; the pipeline still needs draining
	// before the database goes away.
	o.pipe.Close()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.store.Close()
}

// Enabled reports whether interception is live.
func (o *Orchestrator) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// Namespace returns the partition key this instance writes under.
func (o *Orchestrator) Namespace() string { return o.cfg.Namespace }

// Hooks exposes the native callback registry for SDKs that support direct
// hook registration.
func (o *Orchestrator) Hooks() *intercept.Registry { return o.registry }

// WrapOpenAI returns a client whose chat completion calls are intercepted
// by this orchestrator. Session ID may be empty.
func (o *Orchestrator) WrapOpenAI(client *openai.Client, sessionID string) *intercept.ChatClient {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	return intercept.WrapOpenAI(client, sessionID, o, o.logger)
}

// Transport returns an http.RoundTripper that intercepts calls to known LLM
// endpoints. Use it as the Transport of the SDK's HTTP client.
func (o *Orchestrator) Transport(base http.RoundTripper, sessionID string) *intercept.Transport {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	return intercept.NewTransport(base, sessionID, o, o.logger)
}

// SetUserContext replaces the pipeline hint profile.
func (o *Orchestrator) SetUserContext(uc UserContext) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.userCtx = uc
}

func (o *Orchestrator) userContext() domain.UserContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userCtx
}

// Record is the explicit ingestion API: it persists the turn and queues
// extraction, returning the turn ID.
func (o *Orchestrator) Record(userInput, aiOutput, model string, metadata map[string]any) (uuid.UUID, error) {
	return o.record(DefaultSession, userInput, aiOutput, model, metadata)
}

// RecordSession is Record bound to a specific session.
func (o *Orchestrator) RecordSession(sessionID, userInput, aiOutput, model string, metadata map[string]any) (uuid.UUID, error) {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	return o.record(sessionID, userInput, aiOutput, model, metadata)
}

func (o *Orchestrator) record(sessionID, userInput, aiOutput, model string, metadata map[string]any) (uuid.UUID, error) {
	if userInput == "" && aiOutput == "" {
		return uuid.Nil, ErrNothingToRecord
	}

	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	turn := &domain.ChatTurn{
		ID:        uuid.New(),
		SessionID: sessionID,
		Namespace: o.cfg.Namespace,
		UserInput: userInput,
		AIOutput:  aiOutput,
		Model:     model,
		Metadata:  metadata,
	}
	id, err := o.pipe.Ingest(ctx, pipeline.Task{Turn: turn, UserContext: o.userContext()})
	if err != nil {
		return uuid.Nil, err
	}
	o.sessions.RecordTurn(sessionID, userInput, aiOutput)
	return id, nil
}

// Search runs the retrieval engine over this namespace.
func (o *Orchestrator) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if query == "" {
		return nil, ErrQueryRequired
	}
	return o.engine.Search(ctx, o.cfg.Namespace, query, limit)
}

// Clear wipes memory in this namespace: "short", "long" or "all".
func (o *Orchestrator) Clear(ctx context.Context, kind string) error {
	if kind == "" {
		kind = string(domain.ClearAll)
	}
	if !domain.ValidClearKind(kind) {
		return fmt.Errorf("%w: %q (valid: short, long, all)", ErrUnknownClearKind, kind)
	}
	return o.store.ClearMemory(ctx, o.cfg.Namespace, domain.ClearKind(kind))
}

// Stats returns the namespace snapshot, including extraction drops.
func (o *Orchestrator) Stats(ctx context.Context) (*MemoryStats, error) {
	stats, err := o.store.GetMemoryStats(ctx, o.cfg.Namespace)
	if err != nil {
		return nil, err
	}
	stats.DroppedExtractions = o.pipe.Dropped()
	return stats, nil
}

// DatabaseInfo describes the connected storage backend.
func (o *Orchestrator) DatabaseInfo(ctx context.Context) (*DatabaseInfo, error) {
	return o.store.DatabaseInfo(ctx)
}

// AddToMessages is the explicit injector: it returns messages enriched with
// the context preamble. The query override, when non-empty, drives auto
// retrieval instead of the last user message.
func (o *Orchestrator) AddToMessages(ctx context.Context, sessionID string, messages []Message, userQuery string) []Message {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	return o.injector.Augment(ctx, o.cfg.Namespace, sessionID, messages, userQuery)
}

// BeforeRequest implements intercept.Interceptor: the pre-hook augments the
// outgoing request in place, fail-open.
func (o *Orchestrator) BeforeRequest(ctx context.Context, req *intercept.ChatRequest) {
	if !o.Enabled() {
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = DefaultSession
	}
	req.Messages = o.injector.Augment(ctx, o.cfg.Namespace, sessionID, req.Messages, "")
}

// AfterResponse implements intercept.Interceptor: the post-hook records the
// finished exchange exactly once, even when several hooks observe it.
func (o *Orchestrator) AfterResponse(ctx context.Context, cap *intercept.Capture) {
	if !o.Enabled() {
		return
	}
	if !o.deduper.FirstSighting(cap) {
		return
	}
	sessionID := cap.SessionID
	if sessionID == "" {
		sessionID = DefaultSession
	}
	if _, err := o.record(sessionID, cap.UserInput, cap.AIOutput, cap.Model, cap.Metadata); err != nil {
		o.logger.Warn("turn capture failed", zap.Error(err))
	}
}

func (o *Orchestrator) nativePre(ctx context.Context, req *intercept.ChatRequest) {
	o.BeforeRequest(ctx, req)
}

func (o *Orchestrator) nativePost(ctx context.Context, cap *intercept.Capture) {
	o.AfterResponse(ctx, cap)
}

// Process-level instance registry so globally-shared integrations can find
// live orchestrators.
var (
	instanceMu sync.RWMutex
	instances  = make(map[*Orchestrator]struct{})
)

func registerInstance(o *Orchestrator) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instances[o] = struct{}{}
}

func unregisterInstance(o *Orchestrator) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	delete(instances, o)
}

// ActiveInstances lists every enabled orchestrator in the process.
func ActiveInstances() []*Orchestrator {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	out := make([]*Orchestrator, 0, len(instances))
	for o := range instances {
		out = append(out, o)
	}
	return out
}
