// Package metrics exposes the engine's message lifecycle counters as
// prometheus metrics. Per-second rates are derived at query time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PubSub implements the engine's stats sink.
type PubSub struct {
	delivered prometheus.Counter
	expired   prometheus.Counter
	evicted   prometheus.Counter
}

// NewPubSub creates and registers the pub/sub counters.
func NewPubSub(reg prometheus.Registerer) *PubSub {
	p := &PubSub{
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachemq_pubsub_messages_delivered_total",
			Help: "Messages removed after successful delivery.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachemq_pubsub_messages_expired_total",
			Help: "Messages removed because their expiry passed.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachemq_pubsub_messages_evicted_total",
			Help: "Messages removed under memory pressure.",
		}),
	}

	reg.MustRegister(p.delivered, p.expired, p.evicted)

	return p
}

func (p *PubSub) MessagesDelivered(n int) {
	p.delivered.Add(float64(n))
}

func (p *PubSub) MessagesExpired(n int) {
	p.expired.Add(float64(n))
}

func (p *PubSub) MessagesEvicted(n int) {
	p.evicted.Add(float64(n))
}
