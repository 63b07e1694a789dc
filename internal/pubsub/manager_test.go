package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestManager(store Store, opts ...Option) *Manager {
	cfg := Config{WaitMax: time.Millisecond * 20, NotificationInterval: time.Millisecond * 10}
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return NewManager(store, func(string, int, EventType) {}, cfg, opts...)
}

func TestManagerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	mgr := newTestManager(store)

	mgr.Start()
	mgr.Stop()
}

func TestManagerStartIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	mgr := newTestManager(store)

	mgr.Start()
	mgr.Start()
	defer mgr.Stop()

	store.mu.Lock()
	registrations := store.registrations
	store.mu.Unlock()
	assert.Equal(t, 1, registrations)
}

func TestManagerStopWithoutStart(t *testing.T) {
	mgr := newTestManager(newFakeStore())
	mgr.Stop()
}

func TestManagerRestarts(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	mgr := newTestManager(store)

	mgr.Start()
	mgr.Stop()
	mgr.Start()

	require.Eventually(t, func() bool {
		return store.iterations() >= 1
	}, time.Second, time.Millisecond)

	mgr.Stop()
}

func TestManagerEventsBumpVersion(t *testing.T) {
	mgr := newTestManager(newFakeStore())
	sub := SubscriptionInfo{ClientID: "client-1", Role: RoleSubscriber}

	mgr.OnSubscriptionCreated(topicA, sub)
	mgr.OnSubscriptionRemoved(topicA, sub)
	mgr.OnMessageArrived(topicA)
	mgr.OnMessageDelivered(topicA, sub)
	assert.Equal(t, uint64(4), mgr.version.Current())

	mgr.OnSizeChanged(topicA, 100)
	mgr.OnCountChanged(topicA, 1)
	assert.Equal(t, uint64(4), mgr.version.Current())
}

func TestManagerEvict(t *testing.T) {
	store := newFakeStore()
	store.evictable = []Message{
		{Topic: topicA, ID: "msg-1", Size: 64},
		{Topic: topicA, ID: "msg-2", Size: 64},
	}

	stats := &statsRecorder{}
	mgr := newTestManager(store, WithStats(stats))

	require.NoError(t, mgr.Evict(100))

	removals := store.removalCalls()
	require.Len(t, removals, 1)
	assert.Equal(t, ReasonEvicted, removals[0].reason)
	assert.Len(t, removals[0].msgs, 2)

	_, _, evicted := stats.counts()
	assert.Equal(t, 2, evicted)
}

func TestManagerEvictNothingToDo(t *testing.T) {
	store := newFakeStore()
	stats := &statsRecorder{}
	mgr := newTestManager(store, WithStats(stats))

	require.NoError(t, mgr.Evict(100))

	assert.Empty(t, store.removalCalls())
	_, _, evicted := stats.counts()
	assert.Equal(t, 0, evicted)
}

func TestManagerSetExpirationInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr := newTestManager(newFakeStore())
	mgr.Start()
	defer mgr.Stop()

	mgr.mu.Lock()
	expiry := mgr.expiry
	mgr.mu.Unlock()

	mgr.SetExpirationInterval(time.Second * 2)
	assert.Equal(t, time.Second*2, expiry.NextInterval())

	// non-positive values are ignored
	mgr.SetExpirationInterval(0)
	mgr.SetExpirationInterval(-time.Second)
	assert.Equal(t, time.Second*2, expiry.NextInterval())
}
