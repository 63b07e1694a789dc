// Package pubsub implements the message dispatch engine of the cache's
// pub/sub subsystem. The engine continuously assigns published messages to
// eligible subscribers, reassigns messages whose acknowledgements timed
// out, garbage-collects delivered and expired messages, evicts inactive
// subscriptions, reclaims space under memory pressure, and wakes clients
// that should poll for pending deliveries.
//
// The engine is stateless apart from a version counter and a shutdown
// flag: topics, subscriptions and messages are owned by the store and
// reached through the Store contract.
package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cachemq/cachemq/internal/scheduler"
)

// Scheduler runs the engine's recurring tasks. Satisfied by
// *scheduler.Scheduler.
type Scheduler interface {
	Register(t scheduler.Task)
}

// Manager owns the engine lifecycle: it registers as the store's topic
// listener, runs the dispatch and notification workers, and hosts the
// on-demand entry points.
type Manager struct {
	store  Store
	notify ClientNotifier
	cfg    Config

	clk   clock.Clock
	log   *slog.Logger
	stats Stats
	sched Scheduler

	version *versionSignal

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	expiry   *expirationTask
	ownSched *scheduler.Scheduler
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the wall clock. Used by tests.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clk = clk }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithStats sets the metrics sink. Defaults to a no-op sink.
func WithStats(stats Stats) Option {
	return func(m *Manager) { m.stats = stats }
}

// WithScheduler sets the scheduler the expiration task is registered with.
// When absent the manager runs its own.
func WithScheduler(sched Scheduler) Option {
	return func(m *Manager) { m.sched = sched }
}

// NewManager creates the engine. Call Start to launch the workers.
func NewManager(store Store, notify ClientNotifier, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		notify: notify,
		cfg:    cfg.withDefaults(),
		clk:    clock.New(),
		log:    slog.Default(),
		stats:  nopStats{},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.version = newVersionSignal(m.clk)

	return m
}

// Start registers the engine as topic listener, launches the dispatch and
// notification workers, and registers the expiration task. Calling Start
// while running is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.store.RegisterTopicListener(m)

	d := &dispatcher{
		store:   m.store,
		cfg:     m.cfg,
		version: m.version,
		stats:   m.stats,
		log:     m.log,
	}
	n := &notifier{
		store:    m.store,
		notify:   m.notify,
		interval: m.cfg.NotificationInterval,
		clk:      m.clk,
		log:      m.log,
	}

	m.wg.Add(2)
	go m.runWorker(ctx, "dispatch", d.run)
	go m.runWorker(ctx, "notification", n.run)

	sched := m.sched
	if sched == nil {
		m.ownSched = scheduler.New(m.clk)
		sched = m.ownSched
	}
	m.expiry = newExpirationTask(m.store, m.stats, m.log, m.cfg.CleanInterval)
	sched.Register(m.expiry)

	m.log.Info("pubsub dispatch engine started")
}

func (m *Manager) runWorker(ctx context.Context, name string, run func(ctx context.Context)) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("worker terminated", "worker", name, "panic", r)
		}
	}()

	run(ctx)
}

// Stop signals cancellation to the workers and the expiration task and
// waits for the workers to finish their current iteration.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false

	m.cancel()
	m.expiry.Cancel()
	ownSched := m.ownSched
	m.ownSched = nil
	m.mu.Unlock()

	if ownSched != nil {
		ownSched.Stop()
	}
	m.wg.Wait()

	m.log.Info("pubsub dispatch engine stopped")
}

// Evict synchronously removes evictable messages worth at least bytesWanted.
func (m *Manager) Evict(bytesWanted int64) error {
	msgs := m.store.EvictableMessages(bytesWanted)
	if len(msgs) == 0 {
		return nil
	}

	m.stats.MessagesEvicted(len(msgs))

	return m.store.RemoveMessages(msgs, ReasonEvicted)
}

// SetExpirationInterval updates the expiration task period. Non-positive
// values are ignored.
func (m *Manager) SetExpirationInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.CleanInterval = interval
	if m.expiry != nil {
		m.expiry.SetInterval(interval)
	}
}

// OnSubscriptionCreated implements TopicListener.
func (m *Manager) OnSubscriptionCreated(string, SubscriptionInfo) {
	m.version.Bump()
}

// OnSubscriptionRemoved implements TopicListener.
func (m *Manager) OnSubscriptionRemoved(string, SubscriptionInfo) {
	m.version.Bump()
}

// OnMessageArrived implements TopicListener.
func (m *Manager) OnMessageArrived(string) {
	m.version.Bump()
}

// OnMessageDelivered implements TopicListener.
func (m *Manager) OnMessageDelivered(string, SubscriptionInfo) {
	m.version.Bump()
}

// OnSizeChanged implements TopicListener. Reserved for metrics.
func (m *Manager) OnSizeChanged(string, int64) {}

// OnCountChanged implements TopicListener. Reserved for metrics.
func (m *Manager) OnCountChanged(string, int) {}
