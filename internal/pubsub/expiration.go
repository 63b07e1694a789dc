package pubsub

import (
	"log/slog"
	"sync"
	"time"
)

// expirationTask is the recurring job that removes expired messages. The
// scheduler polls NextInterval before every lap, so an interval change
// applies from the lap armed after the one already waiting. Once cancelled,
// Run is a no-op and the
// scheduler drops the task.
type expirationTask struct {
	store Store
	stats Stats
	log   *slog.Logger

	mu        sync.Mutex
	interval  time.Duration
	cancelled bool
}

func newExpirationTask(store Store, stats Stats, log *slog.Logger, interval time.Duration) *expirationTask {
	return &expirationTask{
		store:    store,
		stats:    stats,
		log:      log,
		interval: interval,
	}
}

func (t *expirationTask) NextInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.interval
}

func (t *expirationTask) SetInterval(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.interval = interval
}

func (t *expirationTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelled = true
}

func (t *expirationTask) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cancelled
}

func (t *expirationTask) Run() {
	if t.Cancelled() {
		return
	}

	expired := t.store.ExpiredMessages()
	if len(expired) == 0 {
		return
	}

	t.stats.MessagesExpired(len(expired))
	if err := t.store.RemoveMessages(expired, ReasonExpired); err != nil {
		// next firing retries
		t.log.Debug("failed to remove expired messages", "error", err)
	}
}
