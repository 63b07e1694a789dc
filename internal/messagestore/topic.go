package messagestore

import (
	"time"

	"github.com/cachemq/cachemq/internal/pubsub"
)

type assignmentState uint8

const (
	stateUnassigned assignmentState = iota
	stateAssigned
	stateDelivered
)

type storedMessage struct {
	seq  uint64
	msg  pubsub.Message
	data []byte

	state      assignmentState
	assignedTo pubsub.SubscriptionInfo
	assignedAt time.Time
}

// snapshot returns the message as the engine sees it.
func (m *storedMessage) snapshot() pubsub.Message {
	s := m.msg
	s.AssignedTo = m.assignedTo
	s.AssignedAt = m.assignedAt
	return s
}

type subscription struct {
	info       pubsub.SubscriptionInfo
	lastActive time.Time
}

type topic struct {
	name          string
	subscriptions []*subscription
	// round-robin cursors per role, advanced by nextSubscriber
	rr       map[pubsub.SubscriptionRole]int
	messages []*storedMessage
}

func newTopic(name string) *topic {
	return &topic{
		name: name,
		rr:   make(map[pubsub.SubscriptionRole]int),
	}
}

func (t *topic) findSubscription(info pubsub.SubscriptionInfo) *subscription {
	for _, sub := range t.subscriptions {
		if sub.info == info {
			return sub
		}
	}

	return nil
}

func (t *topic) addSubscription(info pubsub.SubscriptionInfo, now time.Time) bool {
	if sub := t.findSubscription(info); sub != nil {
		sub.lastActive = now
		return false
	}

	t.subscriptions = append(t.subscriptions, &subscription{info: info, lastActive: now})

	return true
}

// removeSubscriptions removes every subscription matching info. A zero Role
// matches all roles held by the client.
func (t *topic) removeSubscriptions(info pubsub.SubscriptionInfo) []pubsub.SubscriptionInfo {
	var removed []pubsub.SubscriptionInfo

	kept := t.subscriptions[:0]
	for _, sub := range t.subscriptions {
		if sub.info.ClientID == info.ClientID && (info.Role == 0 || sub.info.Role == info.Role) {
			removed = append(removed, sub.info)
			continue
		}
		kept = append(kept, sub)
	}
	t.subscriptions = kept

	return removed
}

// nextSubscriber returns one subscription of the given role, rotating across
// eligible subscriptions on successive calls.
func (t *topic) nextSubscriber(role pubsub.SubscriptionRole) (pubsub.SubscriptionInfo, bool) {
	n := len(t.subscriptions)
	if n == 0 {
		return pubsub.SubscriptionInfo{}, false
	}

	start := t.rr[role]
	for i := 0; i < n; i++ {
		sub := t.subscriptions[(start+i)%n]
		if sub.info.Role != role {
			continue
		}

		t.rr[role] = (start + i + 1) % n
		return sub.info, true
	}

	return pubsub.SubscriptionInfo{}, false
}

// subscriberClients returns the distinct clients holding a subscriber
// subscription.
func (t *topic) subscriberClients() []string {
	var clients []string
	seen := make(map[string]struct{})
	for _, sub := range t.subscriptions {
		if sub.info.Role != pubsub.RoleSubscriber {
			continue
		}
		if _, ok := seen[sub.info.ClientID]; ok {
			continue
		}
		seen[sub.info.ClientID] = struct{}{}
		clients = append(clients, sub.info.ClientID)
	}

	return clients
}

func (t *topic) findMessage(id string) (*storedMessage, int) {
	for i, m := range t.messages {
		if m.msg.ID == id {
			return m, i
		}
	}

	return nil, -1
}

func (t *topic) removeMessage(id string) *storedMessage {
	m, i := t.findMessage(id)
	if m == nil {
		return nil
	}

	t.messages = append(t.messages[:i], t.messages[i+1:]...)

	return m
}

// touch refreshes the last-activity timestamp of every subscription the
// client holds on this topic.
func (t *topic) touch(clientID string, now time.Time) {
	for _, sub := range t.subscriptions {
		if sub.info.ClientID == clientID {
			sub.lastActive = now
		}
	}
}

// lastActivity returns the most recent activity across the client's
// subscriptions on this topic.
func (t *topic) lastActivity(clientID string) (time.Time, bool) {
	var latest time.Time
	var found bool
	for _, sub := range t.subscriptions {
		if sub.info.ClientID != clientID {
			continue
		}
		found = true
		if sub.lastActive.After(latest) {
			latest = sub.lastActive
		}
	}

	return latest, found
}
