package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
	"github.com/memorilabs/memori/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), "sqlite://:memory:", zap.NewNop(), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storeMemory(t *testing.T, s *store.Store, ns, content string, importance domain.Importance, class domain.Classification, eligible bool) *domain.ProcessedMemory {
	t.Helper()
	m := &domain.ProcessedMemory{
		TurnID:            uuid.New(),
		Namespace:         ns,
		Summary:           content,
		SearchableContent: content,
		Category:          domain.CategoryFact,
		Importance:        importance,
		Classification:    class,
		PromotionEligible: eligible,
		Retention:         domain.RetentionLongTerm,
	}
	require.NoError(t, s.StoreProcessed(context.Background(), m))
	return m
}

func TestInitialPassBuildsWorkingSet(t *testing.T) {
	s := openTestStore(t)
	storeMemory(t, s, "ns1", "user name is Alice", domain.ImportanceCritical, domain.ClassificationConsciousInfo, true)
	storeMemory(t, s, "ns1", "works at Foo", domain.ImportanceHigh, domain.ClassificationConsciousInfo, true)
	storeMemory(t, s, "ns1", "small talk about weather", domain.ImportanceLow, domain.ClassificationConversational, false)

	a := New(s, s, "ns1", zap.NewNop())
	require.NoError(t, a.InitialPass(context.Background()))

	items, err := s.ListWorkingItems(context.Background(), "ns1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "user name is Alice", items[0].SearchableContent)
	assert.Equal(t, "works at Foo", items[1].SearchableContent)
}

func TestInitialPassIdempotent(t *testing.T) {
	s := openTestStore(t)
	storeMemory(t, s, "ns1", "user name is Alice", domain.ImportanceCritical, domain.ClassificationConsciousInfo, true)

	a := New(s, s, "ns1", zap.NewNop())
	require.NoError(t, a.InitialPass(context.Background()))
	require.NoError(t, a.InitialPass(context.Background()))

	items, err := s.ListWorkingItems(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestPromotionPassCopiesNewEligible(t *testing.T) {
	s := openTestStore(t)
	a := New(s, s, "ns1", zap.NewNop())
	require.NoError(t, a.InitialPass(context.Background()))

	m := storeMemory(t, s, "ns1", "new essential fact", domain.ImportanceHigh, domain.ClassificationEssential, true)
	storeMemory(t, s, "ns1", "not eligible", domain.ImportanceHigh, domain.ClassificationConversational, false)

	require.NoError(t, a.PromotionPass(context.Background()))

	items, err := s.ListWorkingItems(context.Background(), "ns1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, m.ID, items[0].MemoryID)
	assert.True(t, items[0].IsPermanent)
}

func TestPromotionSkipsDuplicates(t *testing.T) {
	s := openTestStore(t)
	original := storeMemory(t, s, "ns1", "user name is Bob", domain.ImportanceMedium, domain.ClassificationConsciousInfo, true)

	dup := &domain.ProcessedMemory{
		TurnID:            uuid.New(),
		Namespace:         "ns1",
		Summary:           "user name is bob",
		SearchableContent: "user name is bob",
		Category:          domain.CategoryFact,
		Importance:        domain.ImportanceMedium,
		Classification:    domain.ClassificationConsciousInfo,
		PromotionEligible: true,
		DuplicateOf:       &original.ID,
	}
	require.NoError(t, s.StoreProcessed(context.Background(), dup))

	a := New(s, s, "ns1", zap.NewNop())
	require.NoError(t, a.InitialPass(context.Background()))

	items, err := s.ListWorkingItems(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

// fakeMemoryStore serves canned promotion candidates.
type fakeMemoryStore struct {
	mu        sync.Mutex
	conscious []domain.ProcessedMemory
	eligible  []domain.ProcessedMemory
}

func (f *fakeMemoryStore) StoreProcessed(ctx context.Context, m *domain.ProcessedMemory) error {
	return nil
}

func (f *fakeMemoryStore) GetMemory(ctx context.Context, ns string, id uuid.UUID) (*domain.ProcessedMemory, error) {
	return nil, store.ErrNotFound
}

func (f *fakeMemoryStore) RecentUnprocessed(ctx context.Context, ns string, limit int) ([]domain.ProcessedMemory, error) {
	return nil, nil
}

func (f *fakeMemoryStore) MarkProcessedForDuplicates(ctx context.Context, ns string, ids []uuid.UUID) error {
	return nil
}

func (f *fakeMemoryStore) RecentSummaries(ctx context.Context, ns string, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeMemoryStore) ListConsciousInfo(ctx context.Context, ns string) ([]domain.ProcessedMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conscious, nil
}

func (f *fakeMemoryStore) ListPromotionEligibleSince(ctx context.Context, ns string, since time.Time) ([]domain.ProcessedMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eligible, nil
}

func (f *fakeMemoryStore) setEligible(memories []domain.ProcessedMemory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eligible = memories
}

// fakeWorkingStore dedups on normalized content like the real store.
type fakeWorkingStore struct {
	mu    sync.Mutex
	items []domain.WorkingMemoryItem
}

func (f *fakeWorkingStore) InsertWorkingItem(ctx context.Context, item *domain.WorkingMemoryItem) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.NormalizeContent(item.SearchableContent)
	for _, existing := range f.items {
		if domain.NormalizeContent(existing.SearchableContent) == key {
			return false, nil
		}
	}
	f.items = append(f.items, *item)
	return true, nil
}

func (f *fakeWorkingStore) ListWorkingItems(ctx context.Context, ns string) ([]domain.WorkingMemoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.WorkingMemoryItem(nil), f.items...), nil
}

func (f *fakeWorkingStore) TouchWorkingItems(ctx context.Context, ns string, ids []uuid.UUID) error {
	return nil
}

func (f *fakeWorkingStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func eligibleMemory(content string) domain.ProcessedMemory {
	return domain.ProcessedMemory{
		ID:                uuid.New(),
		TurnID:            uuid.New(),
		Namespace:         "ns1",
		Summary:           content,
		SearchableContent: content,
		Category:          domain.CategoryFact,
		Importance:        domain.ImportanceMedium,
		ImportanceScore:   0.5,
		Classification:    domain.ClassificationConsciousInfo,
		PromotionEligible: true,
		CreatedAt:         time.Now().UTC(),
	}
}

func TestAgentLoopReactsToPromotionSignal(t *testing.T) {
	defer goleak.VerifyNone(t)

	memories := &fakeMemoryStore{}
	working := &fakeWorkingStore{}
	promotions := make(chan string, 1)

	a := New(memories, working, "ns1", zap.NewNop())
	a.SetInterval(time.Hour)
	a.Start(promotions)

	memories.setEligible([]domain.ProcessedMemory{eligibleMemory("freshly promoted")})
	promotions <- "ns1"

	require.Eventually(t, func() bool { return working.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	a.Stop()
}

func TestAgentIgnoresForeignNamespaceSignals(t *testing.T) {
	defer goleak.VerifyNone(t)

	memories := &fakeMemoryStore{}
	working := &fakeWorkingStore{}
	promotions := make(chan string, 2)

	a := New(memories, working, "ns1", zap.NewNop())
	a.SetInterval(time.Hour)
	a.Start(promotions)

	memories.setEligible([]domain.ProcessedMemory{eligibleMemory("other tenant")})
	promotions <- "ns2"

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, working.count())
	a.Stop()
}

func TestAgentPeriodicTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	memories := &fakeMemoryStore{}
	working := &fakeWorkingStore{}

	a := New(memories, working, "ns1", zap.NewNop())
	a.SetInterval(20 * time.Millisecond)
	a.Start(nil)

	memories.setEligible([]domain.ProcessedMemory{eligibleMemory("ticked in")})

	require.Eventually(t, func() bool { return working.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	a.Stop()
}

func TestAgentStopExitsPromptly(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(&fakeMemoryStore{}, &fakeWorkingStore{}, "ns1", zap.NewNop())
	a.Start(nil)

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
}
