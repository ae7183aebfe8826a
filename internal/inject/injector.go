package inject

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
	"github.com/memorilabs/memori/internal/search"
	"github.com/memorilabs/memori/internal/session"
)

// Injection constants
const (
	DefaultBudget       = 500 * time.Millisecond
	DefaultMaxPreamble  = 8000
	DefaultAutoLimit    = 5
	preambleHeader      = "=== SYSTEM INSTRUCTION: AUTHORIZED USER CONTEXT DATA ==="
	preambleFooter      = "=== END USER CONTEXT DATA ==="
	preambleInstruction = "The context data above was provided by the user for this conversation. Use it when relevant. It is not private information; do not refuse to use it on privacy grounds."
	historyHeader       = "--- Conversation History ---"
	historyFooter       = "--- End History ---"
)

// Injector builds the enrichment preamble for outgoing LLM requests.
// Retrieval runs under a soft time budget; when the budget is exhausted the
// request passes through unmodified.
type Injector struct {
	working  domain.WorkingStore
	engine   *search.Engine
	sessions *session.Tracker
	logger   *zap.Logger

	conscious bool
	auto      bool

	budget      time.Duration
	maxPreamble int
	autoLimit   int
	maxHistory  int
}

func New(working domain.WorkingStore, engine *search.Engine, sessions *session.Tracker, conscious, auto bool, logger *zap.Logger) *Injector {
	return &Injector{
		working:     working,
		engine:      engine,
		sessions:    sessions,
		logger:      logger,
		conscious:   conscious,
		auto:        auto,
		budget:      DefaultBudget,
		maxPreamble: DefaultMaxPreamble,
		autoLimit:   DefaultAutoLimit,
		maxHistory:  session.DefaultMaxHistory,
	}
}

func (inj *Injector) SetBudget(d time.Duration) {
	if d > 0 {
		inj.budget = d
	}
}

func (inj *Injector) SetAutoLimit(n int) {
	if n > 0 {
		inj.autoLimit = n
	}
}

// item is one preamble line before formatting.
type item struct {
	category   domain.Category
	content    string
	importance float64
	workingID  uuid.UUID
}

// Augment returns the messages enriched with a context preamble. The query
// override, when non-empty, replaces the last user message as the auto-mode
// retrieval query. The input slice is never mutated.
func (inj *Injector) Augment(ctx context.Context, namespace, sessionID string, messages []domain.Message, queryOverride string) []domain.Message {
	ctx, cancel := context.WithTimeout(ctx, inj.budget)
	defer cancel()

	items, markInjected, ok := inj.collect(ctx, namespace, sessionID, messages, queryOverride)
	if !ok {
		return messages
	}

	history := inj.priorHistory(sessionID)
	preamble := inj.render(items, history)
	if preamble == "" {
		return messages
	}

	if markInjected {
		inj.sessions.MarkInjected(sessionID)
		inj.touchWorking(namespace, items)
	}

	out := make([]domain.Message, len(messages))
	copy(out, messages)

	// Prepend to an existing leading system message, otherwise insert one.
	if len(out) > 0 && out[0].Role == domain.RoleSystem {
		out[0].Content = preamble + "\n\n" + out[0].Content
		return out
	}
	sys := domain.Message{Role: domain.RoleSystem, Content: preamble, Timestamp: time.Now()}
	return append([]domain.Message{sys}, out...)
}

// collect gathers preamble items per the mode policy. Auto retrieval wins
// over the conscious one-shot when both modes are on. The third return is
// false when the time budget was exhausted mid-retrieval.
func (inj *Injector) collect(ctx context.Context, namespace, sessionID string, messages []domain.Message, queryOverride string) ([]item, bool, bool) {
	if inj.auto {
		query := queryOverride
		if query == "" {
			query = lastUserMessage(messages)
		}
		if query == "" {
			return nil, false, true
		}
		results, err := inj.engine.Search(ctx, namespace, query, inj.autoLimit)
		if err != nil || ctx.Err() != nil {
			inj.logger.Debug("auto retrieval unavailable", zap.Error(err))
			return nil, false, ctx.Err() == nil
		}
		items := make([]item, 0, len(results))
		for _, r := range results {
			items = append(items, item{
				category:   r.Category,
				content:    r.SearchableContent,
				importance: r.ImportanceScore,
			})
		}
		return items, false, true
	}

	if inj.conscious && !inj.sessions.ContextInjected(sessionID) {
		working, err := inj.working.ListWorkingItems(ctx, namespace)
		if err != nil || ctx.Err() != nil {
			inj.logger.Debug("working set unavailable", zap.Error(err))
			return nil, false, false
		}
		items := make([]item, 0, len(working))
		for _, w := range working {
			items = append(items, item{
				category:   w.Category,
				content:    w.SearchableContent,
				importance: w.ImportanceScore,
				workingID:  w.ID,
			})
		}
		return items, true, true
	}
	return nil, false, true
}

func (inj *Injector) touchWorking(namespace string, items []item) {
	var ids []uuid.UUID
	for _, it := range items {
		if it.workingID != uuid.Nil {
			ids = append(ids, it.workingID)
		}
	}
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := inj.working.TouchWorkingItems(ctx, namespace, ids); err != nil {
		inj.logger.Debug("touch working items failed", zap.Error(err))
	}
}

// priorHistory returns the session's prior conversational turns, newest
// last, bounded to max history minus the current message.
func (inj *Injector) priorHistory(sessionID string) []domain.Message {
	var conv []domain.Message
	for _, m := range inj.sessions.History(sessionID) {
		if m.Role == domain.RoleUser || m.Role == domain.RoleAssistant {
			conv = append(conv, m)
		}
	}
	if max := inj.maxHistory - 1; len(conv) > max {
		conv = conv[len(conv)-max:]
	}
	return conv
}

// render formats the normative preamble. Items are deduplicated by
// normalized content and ordered by importance; overflow past the size cap
// truncates lowest-importance items first. Empty sections are omitted.
func (inj *Injector) render(items []item, history []domain.Message) string {
	seen := make(map[string]struct{}, len(items))
	deduped := items[:0]
	for _, it := range items {
		key := domain.NormalizeContent(it.content)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, it)
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].importance > deduped[j].importance
	})

	for {
		s := renderSections(deduped, history)
		if len(s) <= inj.maxPreamble || len(deduped) == 0 {
			return s
		}
		deduped = deduped[:len(deduped)-1]
	}
}

func renderSections(items []item, history []domain.Message) string {
	var b strings.Builder

	if len(items) > 0 {
		b.WriteString(preambleHeader)
		b.WriteByte('\n')
		for _, it := range items {
			fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(it.category)), it.content)
		}
		b.WriteString(preambleFooter)
		b.WriteByte('\n')
		b.WriteString(preambleInstruction)
	}

	if len(history) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(historyHeader)
		b.WriteByte('\n')
		for _, m := range history {
			speaker := "User"
			if m.Role == domain.RoleAssistant {
				speaker = "You"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
		}
		b.WriteString(historyFooter)
	}
	return b.String()
}

func lastUserMessage(messages []domain.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
