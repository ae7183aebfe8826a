package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
)

// Agent scheduling constants
const (
	DefaultInterval = 5 * time.Minute
	errorBackoff    = 60 * time.Second
	passTimeout     = 30 * time.Second
)

// Agent is the background promotion loop. It copies eligible long-term
// memories into the working set: a full conscious-info pass on start, then
// an incremental promotion-eligible scan every interval or on a pipeline
// signal. All working-set writes for the namespace go through this single
// goroutine, which keeps the uniqueness invariant cheap to hold.
type Agent struct {
	memories  domain.MemoryStore
	working   domain.WorkingStore
	namespace string
	logger    *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	lastScan time.Time
}

func New(memories domain.MemoryStore, working domain.WorkingStore, namespace string, logger *zap.Logger) *Agent {
	return &Agent{
		memories:  memories,
		working:   working,
		namespace: namespace,
		logger:    logger,
		interval:  DefaultInterval,
		stopCh:    make(chan struct{}),
	}
}

func (a *Agent) SetInterval(d time.Duration) {
	if d > 0 {
		a.interval = d
	}
}

// Start launches the loop. The promotions channel, when non-nil, triggers
// an immediate incremental scan; a nil channel leaves only the ticker.
func (a *Agent) Start(promotions <-chan string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		a.logger.Info("conscious agent started",
			zap.String("namespace", a.namespace),
			zap.Duration("interval", a.interval))

		if err := a.runPass(true); err != nil {
			a.logger.Error("initial working-set build failed", zap.Error(err))
			if !a.backoff() {
				return
			}
		}

		for {
			select {
			case <-ticker.C:
			case ns, ok := <-promotions:
				if !ok {
					promotions = nil
					continue
				}
				if ns != a.namespace {
					continue
				}
			case <-a.stopCh:
				a.logger.Info("conscious agent stopped", zap.String("namespace", a.namespace))
				return
			}

			if err := a.runPass(false); err != nil {
				a.logger.Error("promotion pass failed", zap.Error(err))
				if !a.backoff() {
					return
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (a *Agent) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

// backoff pauses after a failed pass. Returns false when stopped.
func (a *Agent) backoff() bool {
	select {
	case <-time.After(errorBackoff):
		return true
	case <-a.stopCh:
		return false
	}
}

func (a *Agent) runPass(initial bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()
	if initial {
		return a.InitialPass(ctx)
	}
	return a.PromotionPass(ctx)
}

// InitialPass copies every conscious-info memory into the working set.
// Re-runs are no-ops thanks to insert-time dedup.
func (a *Agent) InitialPass(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	memories, err := a.memories.ListConsciousInfo(ctx, a.namespace)
	if err != nil {
		return err
	}
	a.lastScan = time.Now().UTC()

	copied, err := a.copyToWorking(ctx, memories)
	if copied > 0 {
		a.logger.Info("working set initialized",
			zap.String("namespace", a.namespace),
			zap.Int("copied", copied))
	}
	return err
}

// PromotionPass copies promotion-eligible memories created since the last
// scan.
func (a *Agent) PromotionPass(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	since := a.lastScan
	memories, err := a.memories.ListPromotionEligibleSince(ctx, a.namespace, since)
	if err != nil {
		return err
	}
	a.lastScan = time.Now().UTC()

	copied, err := a.copyToWorking(ctx, memories)
	if copied > 0 {
		a.logger.Debug("promoted memories",
			zap.String("namespace", a.namespace),
			zap.Int("copied", copied))
	}
	return err
}

// copyToWorking inserts working copies one transaction at a time. Promotion
// is a copy; the long-term rows stay queryable.
func (a *Agent) copyToWorking(ctx context.Context, memories []domain.ProcessedMemory) (int, error) {
	copied := 0
	for i := range memories {
		m := &memories[i]
		if m.DuplicateOf != nil {
			continue
		}
		inserted, err := a.working.InsertWorkingItem(ctx, domain.NewWorkingItem(m))
		if err != nil {
			return copied, err
		}
		if inserted {
			copied++
		}
	}
	return copied, nil
}
