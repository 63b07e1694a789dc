package messagestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachemq/cachemq/internal/pubsub"
)

func openTestJournal(t *testing.T, path string) *Journal {
	journal, err := OpenJournal(path)
	require.NoError(t, err)

	t.Cleanup(journal.Close)

	return journal
}

func TestJournalReplaysMessagesOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	journal := openTestJournal(t, path)
	store, err := New(WithJournal(journal))
	require.NoError(t, err)

	m1, err := store.Publish(topicA, "publisher-1", []byte("first"), pubsub.DeliverAny, 0)
	require.NoError(t, err)
	m2, err := store.Publish(topicA, "publisher-1", []byte("second"), pubsub.DeliverAll, time.Hour)
	require.NoError(t, err)

	journal.Close()

	// a fresh store replays the journalled messages as unassigned
	reopened := openTestJournal(t, path)
	restored, err := New(WithJournal(reopened))
	require.NoError(t, err)

	got1, ok := restored.NextUnassignedMessage()
	require.True(t, ok)
	assert.Equal(t, m1.ID, got1.ID)
	assert.Equal(t, pubsub.DeliverAny, got1.Option)

	got2, ok := restored.NextUnassignedMessage()
	require.True(t, ok)
	assert.Equal(t, m2.ID, got2.ID)
	assert.Equal(t, pubsub.DeliverAll, got2.Option)
	assert.False(t, got2.ExpiresAt.IsZero())

	_, ok = restored.NextUnassignedMessage()
	assert.False(t, ok)
}

func TestJournalRemovedMessagesAreNotReplayed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	journal := openTestJournal(t, path)
	store, err := New(WithJournal(journal))
	require.NoError(t, err)

	msg, err := store.Publish(topicA, "publisher-1", []byte("payload"), pubsub.DeliverAny, 0)
	require.NoError(t, err)
	keep, err := store.Publish(topicB, "publisher-1", []byte("payload"), pubsub.DeliverAny, 0)
	require.NoError(t, err)

	require.NoError(t, store.RemoveMessages([]pubsub.Message{msg}, pubsub.ReasonDelivered))

	journal.Close()

	reopened := openTestJournal(t, path)
	restored, err := New(WithJournal(reopened))
	require.NoError(t, err)

	got, ok := restored.NextUnassignedMessage()
	require.True(t, ok)
	assert.Equal(t, keep.ID, got.ID)

	_, ok = restored.NextUnassignedMessage()
	assert.False(t, ok)
}

func TestJournalLoadEmpty(t *testing.T) {
	journal := openTestJournal(t, filepath.Join(t.TempDir(), "journal.db"))

	err := journal.Load(func(string, pubsub.Message, []byte) {
		t.Fatal("unexpected record in empty journal")
	})
	require.NoError(t, err)
}
