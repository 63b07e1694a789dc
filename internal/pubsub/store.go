package pubsub

import "time"

// Store is the engine's view of the message store. Implementations are
// expected to synchronize internally; the engine holds no lock across a
// store call.
type Store interface {
	// RegisterTopicListener installs the receiver for topic events. The store
	// calls the listener on its own goroutines.
	RegisterTopicListener(l TopicListener)

	// InactiveClientSubscriptions returns, per topic, the clients whose last
	// activity is older than threshold.
	InactiveClientSubscriptions(threshold time.Duration) map[string][]string

	// TopicOperation applies a topic-level mutation.
	TopicOperation(op TopicOp) error

	// NextUnassignedMessage returns one message currently unassigned, or
	// false if there are none left in the current sweep.
	NextUnassignedMessage() (Message, bool)

	// NextUndeliveredMessage returns one assigned message whose subscriber
	// has not yet acknowledged it, or false if there are none left in the
	// current sweep.
	NextUndeliveredMessage() (Message, bool)

	// UnacknowledgedMessages returns assigned messages whose assignment age
	// exceeds timeout.
	UnacknowledgedMessages(timeout time.Duration) []Message

	// GetSubscriber returns one eligible subscription of the given role for
	// the topic. Successive calls are expected to rotate across eligible
	// subscriptions; the balancing policy is the store's.
	GetSubscriber(topic string, role SubscriptionRole) (SubscriptionInfo, bool)

	// AssignmentOperation transitions the message's assignment state. The
	// subscription is ignored for RevokeAssignment.
	AssignmentOperation(msg Message, sub SubscriptionInfo, kind AssignmentKind) error

	// DeliveredMessages returns all messages currently marked delivered.
	DeliveredMessages() []Message

	// RemoveMessages deletes the given messages, recording the reason.
	RemoveMessages(msgs []Message, reason RemovalReason) error

	// ExpiredMessages returns all messages past their expiry time.
	ExpiredMessages() []Message

	// EvictableMessages returns messages whose combined size is at least
	// bytesWanted. The store chooses which.
	EvictableMessages(bytesWanted int64) []Message

	// NotifiableClients returns clients with pending deliveries since their
	// last notification.
	NotifiableClients() []string
}

// TopicListener receives topic events from the store.
type TopicListener interface {
	OnSubscriptionCreated(topic string, sub SubscriptionInfo)
	OnSubscriptionRemoved(topic string, sub SubscriptionInfo)
	OnMessageArrived(topic string)
	OnMessageDelivered(topic string, sub SubscriptionInfo)
	OnSizeChanged(topic string, bytes int64)
	OnCountChanged(topic string, count int)
}

// Stats receives message lifecycle counts from the engine.
type Stats interface {
	MessagesDelivered(n int)
	MessagesExpired(n int)
	MessagesEvicted(n int)
}

type nopStats struct{}

func (nopStats) MessagesDelivered(int) {}
func (nopStats) MessagesExpired(int)   {}
func (nopStats) MessagesEvicted(int)   {}
