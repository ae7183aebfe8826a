package session

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
)

// Session tracking constants
const (
	DefaultTTL         = 30 * time.Minute
	DefaultMaxSessions = 256
	DefaultMaxHistory  = 20
	cleanupInterval    = 5 * time.Minute
)

// State is the tracked conversation state for one session. All mutation
// goes through the Tracker, which holds the lock.
type State struct {
	ID              string
	History         []domain.Message
	ContextInjected bool
	LastAccess      time.Time
}

// Tracker keeps per-session conversation state in an expiring cache.
// Sessions idle past the TTL vanish; when the session count hits the cap,
// the least recently accessed session is evicted first.
type Tracker struct {
	mu          sync.Mutex
	cache       *gocache.Cache
	ttl         time.Duration
	maxSessions int
	maxHistory  int
	logger      *zap.Logger
}

func NewTracker(ttl time.Duration, maxSessions, maxHistory int, logger *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Tracker{
		cache:       gocache.New(ttl, cleanupInterval),
		ttl:         ttl,
		maxSessions: maxSessions,
		maxHistory:  maxHistory,
		logger:      logger,
	}
}

// Touch returns the session state, creating it if absent, and refreshes
// its TTL.
func (t *Tracker) Touch(sessionID string) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.touchLocked(sessionID)
}

func (t *Tracker) touchLocked(sessionID string) *State {
	if v, ok := t.cache.Get(sessionID); ok {
		s := v.(*State)
		s.LastAccess = time.Now()
		t.cache.Set(sessionID, s, t.ttl)
		return s
	}

	if t.cache.ItemCount() >= t.maxSessions {
		t.evictOldestLocked()
	}

	s := &State{ID: sessionID, LastAccess: time.Now()}
	t.cache.Set(sessionID, s, t.ttl)
	return s
}

// evictOldestLocked drops the session with the oldest last access. The
// session cap is small, so a scan is fine.
func (t *Tracker) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, item := range t.cache.Items() {
		s := item.Object.(*State)
		if oldestKey == "" || s.LastAccess.Before(oldest) {
			oldestKey = key
			oldest = s.LastAccess
		}
	}
	if oldestKey != "" {
		t.cache.Delete(oldestKey)
		t.logger.Debug("evicted session at capacity", zap.String("session_id", oldestKey))
	}
}

// RecordTurn appends a user/assistant exchange to the session history,
// trimming to the history bound. System messages survive trimming.
func (t *Tracker) RecordTurn(sessionID, userInput, aiOutput string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.touchLocked(sessionID)
	now := time.Now()
	s.History = append(s.History,
		domain.Message{Role: domain.RoleUser, Content: userInput, Timestamp: now},
		domain.Message{Role: domain.RoleAssistant, Content: aiOutput, Timestamp: now},
	)
	s.History = trimHistory(s.History, t.maxHistory)
}

// AppendSystem adds a system message to the session history.
func (t *Tracker) AppendSystem(sessionID, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.touchLocked(sessionID)
	s.History = append(s.History, domain.Message{
		Role:      domain.RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
	})
	s.History = trimHistory(s.History, t.maxHistory)
}

// History returns a copy of the session's message history.
func (t *Tracker) History(sessionID string) []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.touchLocked(sessionID)
	out := make([]domain.Message, len(s.History))
	copy(out, s.History)
	return out
}

// ContextInjected reports whether the one-shot context preamble was
// already delivered to this session.
func (t *Tracker) ContextInjected(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.touchLocked(sessionID).ContextInjected
}

// MarkInjected flags the session as having received its context preamble.
func (t *Tracker) MarkInjected(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touchLocked(sessionID).ContextInjected = true
}

// Reset forgets one session entirely.
func (t *Tracker) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Delete(sessionID)
}

// Len reports the live session count.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.ItemCount()
}

// trimHistory keeps the most recent messages within the bound. System
// messages are never dropped; the budget left after them goes to the
// newest conversational messages.
func trimHistory(history []domain.Message, max int) []domain.Message {
	if len(history) <= max {
		return history
	}

	var system []domain.Message
	var rest []domain.Message
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	budget := max - len(system)
	if budget < 0 {
		budget = 0
	}
	if len(rest) > budget {
		rest = rest[len(rest)-budget:]
	}
	return append(system, rest...)
}
