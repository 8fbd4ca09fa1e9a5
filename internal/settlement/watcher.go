package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"settlement-engine/internal/events"
)

// Watcher announces markets whose expiration has passed without a resolution
type Watcher struct {
	svc      *Service
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	notified map[common.Address]bool
}

// NewWatcher creates a watcher sweeping every interval
func NewWatcher(svc *Service, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Watcher{
		svc:      svc,
		interval: interval,
		stopCh:   make(chan struct{}),
		notified: make(map[common.Address]bool),
	}
}

// Start begins the sweep goroutine
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the watcher and waits for the sweep goroutine to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.svc.log.Error("expiration sweep failed", zap.Error(err))
			}
		}
	}
}

// Announced reports whether id has been announced as expired
func (w *Watcher) Announced(id common.Address) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.notified[id]
}

// Sweep publishes market.expired once for each open market past expiration
// and returns the markets announced by this call.
func (w *Watcher) Sweep(ctx context.Context) ([]common.Address, error) {
	markets, err := w.svc.List(ctx)
	if err != nil {
		return nil, err
	}
	now := w.svc.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	var expired []common.Address
	for _, m := range markets {
		if !m.AwaitingResolution(now) || w.notified[m.ID] {
			continue
		}
		w.notified[m.ID] = true
		expired = append(expired, m.ID)

		w.svc.log.Info("market expired, awaiting oracle",
			zap.String("market", m.ID.Hex()),
			zap.Int64("expiration", m.ExpirationTime),
			zap.Int64("now", now))
		w.svc.publish(events.TypeExpired, m.ID, map[string]interface{}{
			"expiration_time": m.ExpirationTime,
			"oracle":          m.Oracle.Hex(),
		})
	}
	return expired, nil
}
