package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically removes expired sessions from a Store.
type Sweeper struct {
	store    *Store
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *zap.Logger
}

// NewSweeper creates a sweeper. A non-positive interval defaults to one
// minute.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Start begins the sweep loop in a background goroutine.
func (w *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
	w.logger.Info("session sweeper started",
		zap.Duration("interval", w.interval),
		zap.Duration("ttl", w.store.TTL()))
}

// Stop halts the loop and waits for it to exit.
func (w *Sweeper) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.logger.Info("session sweeper stopped")
}

func (w *Sweeper) loop(ctx context.Context) {
	defer close(w.done)
	w.store.run(ctx, w.interval, func(n int) {
		w.logger.Debug("swept expired sessions",
			zap.Int("removed", n),
			zap.Int("remaining", w.store.Len()))
	})
}

func (s *Store) run(ctx context.Context, interval time.Duration, onSweep func(int)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}
