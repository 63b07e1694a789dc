package pubsub

import (
	"context"
	"log/slog"
)

// dispatcher runs the five dispatch phases in order every iteration, then
// parks on the version signal until something interesting happens.
type dispatcher struct {
	store   Store
	cfg     Config
	version *versionSignal
	stats   Stats
	log     *slog.Logger
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		seen := d.version.Current()
		hadPendingWork := d.runPhases(ctx)

		if ctx.Err() != nil {
			return
		}

		d.version.WaitForUpdate(ctx, seen, hadPendingWork, d.cfg.WaitMax)
	}
}

// runPhases executes one dispatch iteration. The phase order matters:
// revoking stale assignments before assigning recycles work quickly,
// removing inactive clients before assigning prevents doomed assignments,
// and delivered cleanup runs last to coalesce with prior work. It reports
// whether any phase hit its fairness cap and deferred work.
func (d *dispatcher) runPhases(ctx context.Context) bool {
	phases := []struct {
		name string
		fn   func(ctx context.Context) (bool, error)
	}{
		{"revoke expired assignments", d.revokeExpiredAssignments},
		{"remove inactive clients", d.removeInactiveClients},
		{"assign pending messages", d.assignPendingMessages},
		{"assign delivery messages", d.assignDeliveryMessages},
		{"remove delivered messages", d.removeDeliveredMessages},
	}

	var hadPendingWork bool
	for _, phase := range phases {
		if ctx.Err() != nil {
			return hadPendingWork
		}

		more, err := phase.fn(ctx)
		if err != nil {
			d.log.Error("dispatch phase failed", "phase", phase.name, "error", err)
			continue
		}
		if more {
			hadPendingWork = true
		}
	}

	return hadPendingWork
}

// revokeExpiredAssignments moves messages whose acknowledgement deadline
// lapsed back to unassigned so they can be dispatched again.
func (d *dispatcher) revokeExpiredAssignments(ctx context.Context) (bool, error) {
	msgs := d.store.UnacknowledgedMessages(d.cfg.AssignmentTimeout)

	for i, msg := range msgs {
		if i >= d.cfg.FairnessCap {
			return true, nil
		}
		if ctx.Err() != nil {
			return true, nil
		}

		if err := d.store.AssignmentOperation(msg, SubscriptionInfo{}, RevokeAssignment); err != nil {
			d.log.Error("failed to revoke assignment", "topic", msg.Topic, "message", msg.ID, "error", err)
		}
	}

	return false, nil
}

// removeInactiveClients unsubscribes clients that have been idle past the
// inactivity threshold.
func (d *dispatcher) removeInactiveClients(ctx context.Context) (bool, error) {
	inactive := d.store.InactiveClientSubscriptions(d.cfg.InactivityThreshold)

	var processed int
	for topic, clients := range inactive {
		for _, clientID := range clients {
			if processed >= d.cfg.FairnessCap {
				return true, nil
			}
			if ctx.Err() != nil {
				return true, nil
			}
			processed++

			op := TopicOp{
				Kind:     OpUnsubscribe,
				Topic:    topic,
				Sub:      SubscriptionInfo{ClientID: clientID},
				Internal: true,
			}
			if err := d.store.TopicOperation(op); err != nil {
				d.log.Error("failed to unsubscribe inactive client", "topic", topic, "client", clientID, "error", err)
				continue
			}

			d.log.Info("unsubscribed inactive client", "topic", topic, "client", clientID)
		}
	}

	return false, nil
}

// assignPendingMessages binds unassigned messages to subscribers. Messages
// with delivery option All get the synthetic fan-out subscription; the store
// expands it downstream.
func (d *dispatcher) assignPendingMessages(ctx context.Context) (bool, error) {
	for processed := 0; processed < d.cfg.FairnessCap; processed++ {
		if ctx.Err() != nil {
			return true, nil
		}

		msg, ok := d.store.NextUnassignedMessage()
		if !ok {
			return false, nil
		}

		sub := FanoutSubscription
		if msg.Option == DeliverAny {
			s, ok := d.store.GetSubscriber(msg.Topic, RoleSubscriber)
			if !ok {
				// no eligible subscriber yet, the message is retried on a later sweep
				continue
			}
			sub = s
		}

		if err := d.store.AssignmentOperation(msg, sub, AssignSubscription); err != nil {
			d.log.Error("failed to assign message", "topic", msg.Topic, "message", msg.ID, "error", err)
		}
	}

	return true, nil
}

// assignDeliveryMessages rechecks assigned-but-undelivered messages. A
// message whose topic no longer has a publisher is dropped: nobody is left
// to confirm the delivery.
func (d *dispatcher) assignDeliveryMessages(ctx context.Context) (bool, error) {
	for processed := 0; processed < d.cfg.FairnessCap; processed++ {
		if ctx.Err() != nil {
			return true, nil
		}

		msg, ok := d.store.NextUndeliveredMessage()
		if !ok {
			return false, nil
		}

		if _, ok := d.store.GetSubscriber(msg.Topic, RolePublisher); !ok {
			if err := d.store.RemoveMessages([]Message{msg}, ReasonRemoved); err != nil {
				d.log.Error("failed to remove orphaned message", "topic", msg.Topic, "message", msg.ID, "error", err)
			}
			continue
		}

		if err := d.store.AssignmentOperation(msg, msg.AssignedTo, AssignSubscription); err != nil {
			d.log.Error("failed to refresh assignment", "topic", msg.Topic, "message", msg.ID, "error", err)
		}
	}

	return true, nil
}

// removeDeliveredMessages clears the current delivered set in one shot.
func (d *dispatcher) removeDeliveredMessages(_ context.Context) (bool, error) {
	delivered := d.store.DeliveredMessages()
	if len(delivered) == 0 {
		return false, nil
	}

	if err := d.store.RemoveMessages(delivered, ReasonDelivered); err != nil {
		return false, err
	}
	d.stats.MessagesDelivered(len(delivered))

	return false, nil
}
