package pubsub

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// notifier periodically wakes clients that have pending deliveries so they
// poll. It runs on a fixed cadence, independent of the version signal, so
// bursty publishes still result in roughly one poll hint per interval per
// client.
type notifier struct {
	store    Store
	notify   ClientNotifier
	interval time.Duration
	clk      clock.Clock
	log      *slog.Logger
}

func (n *notifier) run(ctx context.Context) {
	ticker := n.clk.Ticker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.tick()
		}
	}
}

func (n *notifier) tick() {
	for _, clientID := range n.store.NotifiableClients() {
		n.notify(clientID, EventCodePoll, EventTypePubSub)
	}
}
