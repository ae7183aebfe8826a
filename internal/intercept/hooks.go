package intercept

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
)

// HookKind names the four integration styles a caller can enable.
type HookKind string

const (
	HookNative    HookKind = "native"
	HookSubclass  HookKind = "subclass"
	HookTransport HookKind = "transport"
	HookExplicit  HookKind = "explicit"
)

func ValidHookKind(k string) bool {
	switch HookKind(k) {
	case HookNative, HookSubclass, HookTransport, HookExplicit:
		return true
	}
	return false
}

// ChatRequest is the mutable view of an outgoing request handed to
// pre-hooks.
type ChatRequest struct {
	Model     string
	SessionID string
	Messages  []domain.Message
}

// Capture is the finalized request/response pair handed to post-hooks.
type Capture struct {
	SessionID  string
	Model      string
	UserInput  string
	AIOutput   string
	ResponseID string
	Tokens     int
	Duration   time.Duration
	Timestamp  time.Time
	Metadata   map[string]any
}

// PreHook may mutate the outgoing request. PostHook observes the finished
// exchange.
type (
	PreHook  func(ctx context.Context, req *ChatRequest)
	PostHook func(ctx context.Context, cap *Capture)
)

// Registry holds the native callback hooks. Hooks never propagate a panic;
// a failing hook is logged and the original call proceeds untouched.
type Registry struct {
	mu     sync.RWMutex
	nextID int
	pre    map[int]PreHook
	post   map[int]PostHook
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		pre:    make(map[int]PreHook),
		post:   make(map[int]PostHook),
		logger: logger,
	}
}

// RegisterPre adds a pre-request hook and returns its unregister func.
func (r *Registry) RegisterPre(h PreHook) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.pre[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.pre, id)
	}
}

// RegisterPost adds a success hook and returns its unregister func.
func (r *Registry) RegisterPost(h PostHook) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.post[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.post, id)
	}
}

// FirePre runs every pre-hook against the request, fail-open.
func (r *Registry) FirePre(ctx context.Context, req *ChatRequest) {
	r.mu.RLock()
	hooks := make([]PreHook, 0, len(r.pre))
	for _, h := range r.pre {
		hooks = append(hooks, h)
	}
	r.mu.RUnlock()

	for _, h := range hooks {
		r.safely("pre", func() { h(ctx, req) })
	}
}

// FirePost runs every post-hook against the capture, fail-open.
func (r *Registry) FirePost(ctx context.Context, cap *Capture) {
	r.mu.RLock()
	hooks := make([]PostHook, 0, len(r.post))
	for _, h := range r.post {
		hooks = append(hooks, h)
	}
	r.mu.RUnlock()

	for _, h := range hooks {
		r.safely("post", func() { h(ctx, cap) })
	}
}

// Size reports registered hook counts, pre plus post.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pre) + len(r.post)
}

func (r *Registry) safely(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("interception hook panicked",
				zap.String("hook", kind),
				zap.Any("panic", rec))
		}
	}()
	fn()
}
