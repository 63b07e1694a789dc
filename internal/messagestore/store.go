// Package messagestore holds the topics, subscriptions and messages the
// dispatch engine works over. All state is guarded by a single store mutex;
// listener callbacks are fired after the mutex is released.
package messagestore

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/cachemq/cachemq/internal/pubsub"
)

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrUnknownMessage = errors.New("unknown message")
	ErrNotAssigned    = errors.New("message is not assigned to this client")
)

// Delivery is a message handed to a polling client.
type Delivery struct {
	Message pubsub.Message
	Data    []byte
}

// TopicStore is an in-memory implementation of the engine's store contract,
// with an optional bolt journal for crash recovery of published messages.
type TopicStore struct {
	clk clock.Clock
	log *slog.Logger

	mu       sync.Mutex
	topics   map[string]*topic
	listener pubsub.TopicListener
	nextSeq  uint64

	// sweep cursors: each eligible message is returned once per sweep, then
	// the scan reports empty and resets
	unassignedCursor  uint64
	undeliveredCursor uint64

	pendingNotify map[string]struct{}

	journal *Journal
}

// Option configures a TopicStore.
type Option func(*TopicStore)

// WithClock substitutes the wall clock. Used by tests.
func WithClock(clk clock.Clock) Option {
	return func(s *TopicStore) { s.clk = clk }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *TopicStore) { s.log = log }
}

// WithJournal persists published messages to the journal and replays them
// on creation.
func WithJournal(j *Journal) Option {
	return func(s *TopicStore) { s.journal = j }
}

// New creates a TopicStore. If a journal is configured, surviving messages
// are replayed as unassigned.
func New(opts ...Option) (*TopicStore, error) {
	s := &TopicStore{
		clk:           clock.New(),
		log:           slog.Default(),
		topics:        make(map[string]*topic),
		pendingNotify: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.journal != nil {
		err := s.journal.Load(func(topicName string, msg pubsub.Message, data []byte) {
			t := s.getOrCreateTopic(topicName)
			s.nextSeq++
			t.messages = append(t.messages, &storedMessage{seq: s.nextSeq, msg: msg, data: data})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to replay journal: %w", err)
		}
	}

	return s, nil
}

// RegisterTopicListener implements pubsub.Store.
func (s *TopicStore) RegisterTopicListener(l pubsub.TopicListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listener = l
}

func (s *TopicStore) getOrCreateTopic(name string) *topic {
	t, ok := s.topics[name]
	if !ok {
		t = newTopic(name)
		s.topics[name] = t
	}

	return t
}

// fire reads the registered listener under the store lock and invokes the
// given callbacks on it after the lock is released.
func (s *TopicStore) fire(events []func(l pubsub.TopicListener)) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()

	if l == nil {
		return
	}

	for _, ev := range events {
		ev(l)
	}
}

// Publish stores a new message on the topic, creating the topic if needed.
// A ttl of zero means the message never expires.
func (s *TopicStore) Publish(topicName, clientID string, data []byte, opt pubsub.DeliveryOption, ttl time.Duration) (pubsub.Message, error) {
	if topicName == "" {
		return pubsub.Message{}, ErrUnknownTopic
	}

	s.mu.Lock()
	t := s.getOrCreateTopic(topicName)
	now := s.clk.Now()
	t.touch(clientID, now)

	s.nextSeq++
	m := &storedMessage{
		seq: s.nextSeq,
		msg: pubsub.Message{
			Topic:       topicName,
			ID:          uuid.NewString(),
			Option:      opt,
			PublishedAt: now,
			Size:        int64(len(data)),
		},
		data: data,
	}
	if ttl > 0 {
		m.msg.ExpiresAt = now.Add(ttl)
	}

	if s.journal != nil {
		if err := s.journal.Append(m.msg, data); err != nil {
			s.mu.Unlock()
			return pubsub.Message{}, fmt.Errorf("failed to journal message: %w", err)
		}
	}

	t.messages = append(t.messages, m)
	count := len(t.messages)
	s.mu.Unlock()

	s.fire([]func(l pubsub.TopicListener){
		func(l pubsub.TopicListener) { l.OnMessageArrived(topicName) },
		func(l pubsub.TopicListener) { l.OnCountChanged(topicName, count) },
	})

	return m.msg, nil
}

// Acknowledge marks an assigned message as delivered to the client.
// Acknowledging an already delivered message is a no-op.
func (s *TopicStore) Acknowledge(topicName, msgID, clientID string) error {
	s.mu.Lock()
	t, ok := s.topics[topicName]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTopic
	}

	m, _ := t.findMessage(msgID)
	if m == nil {
		s.mu.Unlock()
		return ErrUnknownMessage
	}

	t.touch(clientID, s.clk.Now())

	if m.state == stateDelivered {
		s.mu.Unlock()
		return nil
	}
	if m.state != stateAssigned {
		s.mu.Unlock()
		return ErrNotAssigned
	}
	if m.assignedTo != pubsub.FanoutSubscription && m.assignedTo.ClientID != clientID {
		s.mu.Unlock()
		return ErrNotAssigned
	}

	m.state = stateDelivered
	s.mu.Unlock()

	sub := pubsub.SubscriptionInfo{ClientID: clientID, Role: pubsub.RoleSubscriber}
	s.fire([]func(l pubsub.TopicListener){
		func(l pubsub.TopicListener) { l.OnMessageDelivered(topicName, sub) },
	})

	return nil
}

// RecordActivity refreshes the client's last-activity timestamp on the
// topic. The poll handler calls it for each topic it returns a delivery
// from; a poll that returns nothing records no activity.
func (s *TopicStore) RecordActivity(topicName, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.topics[topicName]; ok {
		t.touch(clientID, s.clk.Now())
	}
}

// PendingDeliveries returns the messages currently assigned to the client,
// including fan-out messages on topics the client subscribes to.
func (s *TopicStore) PendingDeliveries(clientID string) []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Delivery
	for _, t := range s.topics {
		subscribed := t.findSubscription(pubsub.SubscriptionInfo{ClientID: clientID, Role: pubsub.RoleSubscriber}) != nil
		for _, m := range t.messages {
			if m.state != stateAssigned {
				continue
			}
			if m.assignedTo.ClientID == clientID || (m.assignedTo == pubsub.FanoutSubscription && subscribed) {
				out = append(out, Delivery{Message: m.snapshot(), Data: m.data})
			}
		}
	}

	return out
}

// TopicOperation implements pubsub.Store.
func (s *TopicStore) TopicOperation(op pubsub.TopicOp) error {
	switch op.Kind {
	case pubsub.OpSubscribe:
		return s.subscribe(op)
	case pubsub.OpUnsubscribe:
		return s.unsubscribe(op)
	}

	return fmt.Errorf("unknown topic operation kind: %d", op.Kind)
}

func (s *TopicStore) subscribe(op pubsub.TopicOp) error {
	if op.Sub.ClientID == "" || op.Sub.Role == 0 {
		return fmt.Errorf("invalid subscription: %+v", op.Sub)
	}

	s.mu.Lock()
	t := s.getOrCreateTopic(op.Topic)
	created := t.addSubscription(op.Sub, s.clk.Now())
	s.mu.Unlock()

	if !created {
		return nil
	}

	s.fire([]func(l pubsub.TopicListener){
		func(l pubsub.TopicListener) { l.OnSubscriptionCreated(op.Topic, op.Sub) },
	})

	return nil
}

func (s *TopicStore) unsubscribe(op pubsub.TopicOp) error {
	s.mu.Lock()
	t, ok := s.topics[op.Topic]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTopic
	}

	removed := t.removeSubscriptions(op.Sub)
	if !op.Internal {
		t.touch(op.Sub.ClientID, s.clk.Now())
	}
	s.mu.Unlock()

	events := make([]func(l pubsub.TopicListener), 0, len(removed))
	for _, sub := range removed {
		sub := sub
		events = append(events, func(l pubsub.TopicListener) { l.OnSubscriptionRemoved(op.Topic, sub) })
	}
	s.fire(events)

	return nil
}

// InactiveClientSubscriptions implements pubsub.Store.
func (s *TopicStore) InactiveClientSubscriptions(threshold time.Duration) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clk.Now().Add(-threshold)

	out := make(map[string][]string)
	for name, t := range s.topics {
		seen := make(map[string]struct{})
		for _, sub := range t.subscriptions {
			if _, ok := seen[sub.info.ClientID]; ok {
				continue
			}
			seen[sub.info.ClientID] = struct{}{}

			latest, _ := t.lastActivity(sub.info.ClientID)
			if latest.Before(cutoff) {
				out[name] = append(out[name], sub.info.ClientID)
			}
		}
	}

	return out
}

// NextUnassignedMessage implements pubsub.Store. Messages are returned in
// publication order, each once per sweep.
func (s *TopicStore) NextUnassignedMessage() (pubsub.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.nextMessage(stateUnassigned, &s.unassignedCursor)
	if m == nil {
		return pubsub.Message{}, false
	}

	return m.snapshot(), true
}

// NextUndeliveredMessage implements pubsub.Store.
func (s *TopicStore) NextUndeliveredMessage() (pubsub.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.nextMessage(stateAssigned, &s.undeliveredCursor)
	if m == nil {
		return pubsub.Message{}, false
	}

	return m.snapshot(), true
}

func (s *TopicStore) nextMessage(state assignmentState, cursor *uint64) *storedMessage {
	var best *storedMessage
	for _, t := range s.topics {
		for _, m := range t.messages {
			if m.state != state || m.seq <= *cursor {
				continue
			}
			if best == nil || m.seq < best.seq {
				best = m
			}
		}
	}

	if best == nil {
		// sweep exhausted, the next call starts over
		*cursor = 0
		return nil
	}

	*cursor = best.seq

	return best
}

// UnacknowledgedMessages implements pubsub.Store.
func (s *TopicStore) UnacknowledgedMessages(timeout time.Duration) []pubsub.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clk.Now().Add(-timeout)

	var out []pubsub.Message
	for _, t := range s.topics {
		for _, m := range t.messages {
			if m.state == stateAssigned && m.assignedAt.Before(cutoff) {
				out = append(out, m.snapshot())
			}
		}
	}

	return out
}

// GetSubscriber implements pubsub.Store.
func (s *TopicStore) GetSubscriber(topicName string, role pubsub.SubscriptionRole) (pubsub.SubscriptionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[topicName]
	if !ok {
		return pubsub.SubscriptionInfo{}, false
	}

	return t.nextSubscriber(role)
}

// AssignmentOperation implements pubsub.Store.
func (s *TopicStore) AssignmentOperation(msg pubsub.Message, sub pubsub.SubscriptionInfo, kind pubsub.AssignmentKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[msg.Topic]
	if !ok {
		return ErrUnknownTopic
	}
	m, _ := t.findMessage(msg.ID)
	if m == nil {
		return ErrUnknownMessage
	}

	switch kind {
	case pubsub.AssignSubscription:
		if m.state == stateDelivered {
			return fmt.Errorf("message %s is already delivered", msg.ID)
		}

		// re-issuing an unchanged assignment keeps the original timestamp,
		// otherwise the acknowledgement deadline would never lapse
		fresh := m.state != stateAssigned || m.assignedTo != sub

		m.state = stateAssigned
		m.assignedTo = sub
		if !fresh {
			return nil
		}
		m.assignedAt = s.clk.Now()

		if sub == pubsub.FanoutSubscription {
			for _, clientID := range t.subscriberClients() {
				s.pendingNotify[clientID] = struct{}{}
			}
		} else {
			s.pendingNotify[sub.ClientID] = struct{}{}
		}
	case pubsub.RevokeAssignment:
		if m.state != stateAssigned {
			return nil
		}

		m.state = stateUnassigned
		m.assignedTo = pubsub.SubscriptionInfo{}
		m.assignedAt = time.Time{}
	default:
		return fmt.Errorf("unknown assignment operation kind: %d", kind)
	}

	return nil
}

// DeliveredMessages implements pubsub.Store.
func (s *TopicStore) DeliveredMessages() []pubsub.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []pubsub.Message
	for _, t := range s.topics {
		for _, m := range t.messages {
			if m.state == stateDelivered {
				out = append(out, m.snapshot())
			}
		}
	}

	return out
}

// RemoveMessages implements pubsub.Store.
func (s *TopicStore) RemoveMessages(msgs []pubsub.Message, reason pubsub.RemovalReason) error {
	s.mu.Lock()

	removedByTopic := make(map[string][]string)
	counts := make(map[string]int)
	for _, msg := range msgs {
		t, ok := s.topics[msg.Topic]
		if !ok {
			continue
		}
		if m := t.removeMessage(msg.ID); m != nil {
			removedByTopic[msg.Topic] = append(removedByTopic[msg.Topic], msg.ID)
			counts[msg.Topic] = len(t.messages)
		}
	}

	if s.journal != nil {
		for topicName, ids := range removedByTopic {
			if err := s.journal.Remove(topicName, ids); err != nil {
				s.log.Error("failed to remove messages from journal", "topic", topicName, "error", err)
			}
		}
	}
	s.mu.Unlock()

	var events []func(l pubsub.TopicListener)
	for topicName, ids := range removedByTopic {
		s.log.Debug("removed messages", "topic", topicName, "count", len(ids), "reason", reason.String())

		topicName := topicName
		count := counts[topicName]
		events = append(events, func(l pubsub.TopicListener) { l.OnCountChanged(topicName, count) })
	}
	s.fire(events)

	return nil
}

// ExpiredMessages implements pubsub.Store. A message past its expiry is
// returned regardless of its assignment state.
func (s *TopicStore) ExpiredMessages() []pubsub.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()

	var out []pubsub.Message
	for _, t := range s.topics {
		for _, m := range t.messages {
			if !m.msg.ExpiresAt.IsZero() && m.msg.ExpiresAt.Before(now) {
				out = append(out, m.snapshot())
			}
		}
	}

	return out
}

// EvictableMessages implements pubsub.Store. Oldest messages are chosen
// first until the requested size is covered.
func (s *TopicStore) EvictableMessages(bytesWanted int64) []pubsub.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*storedMessage, 0)
	for _, t := range s.topics {
		all = append(all, t.messages...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	var out []pubsub.Message
	var total int64
	for _, m := range all {
		if total >= bytesWanted {
			break
		}
		out = append(out, m.snapshot())
		total += m.msg.Size
	}

	return out
}

// NotifiableClients implements pubsub.Store. Clients are returned once and
// become notifiable again on their next assignment.
func (s *TopicStore) NotifiableClients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pendingNotify) == 0 {
		return nil
	}

	out := make([]string, 0, len(s.pendingNotify))
	for clientID := range s.pendingNotify {
		out = append(out, clientID)
	}
	sort.Strings(out)

	s.pendingNotify = make(map[string]struct{})

	return out
}
