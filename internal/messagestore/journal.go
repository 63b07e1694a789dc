package messagestore

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"

	"github.com/cachemq/cachemq/internal/pubsub"
)

// Journal persists published messages to a bolt database, one bucket per
// topic, so a restart can replay undelivered messages. Delivered, expired
// and evicted messages are deleted as they are removed from the store.
type Journal struct {
	db *bolt.DB
}

type journalRecord struct {
	ID          string                `json:"id"`
	Option      pubsub.DeliveryOption `json:"option"`
	PublishedAt time.Time             `json:"published_at"`
	ExpiresAt   time.Time             `json:"expires_at,omitempty"`
	Data        []byte                `json:"data"`
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() {
	_ = j.db.Close()
}

// Append writes the message to the topic's bucket.
func (j *Journal) Append(msg pubsub.Message, data []byte) error {
	rec := journalRecord{
		ID:          msg.ID,
		Option:      msg.Option,
		PublishedAt: msg.PublishedAt,
		ExpiresAt:   msg.ExpiresAt,
		Data:        data,
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(msg.Topic))
		if err != nil {
			return fmt.Errorf("failed to create topic bucket: %w", err)
		}

		return bucket.Put([]byte(msg.ID), b)
	})
}

// Remove deletes the given messages from the topic's bucket.
func (j *Journal) Remove(topic string, ids []string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(topic))
		if bucket == nil {
			return nil
		}

		for _, id := range ids {
			if err := bucket.Delete([]byte(id)); err != nil {
				return err
			}
		}

		return nil
	})
}

// Load replays every journalled message, oldest first per topic.
func (j *Journal) Load(fn func(topic string, msg pubsub.Message, data []byte)) error {
	return j.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			topicName := string(name)

			var records []journalRecord
			err := bucket.ForEach(func(_, v []byte) error {
				var rec journalRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("failed to unmarshal journal record: %w", err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}

			// bolt iterates in key order; replay in publication order instead
			sort.Slice(records, func(i, k int) bool {
				return records[i].PublishedAt.Before(records[k].PublishedAt)
			})

			for _, rec := range records {
				msg := pubsub.Message{
					Topic:       topicName,
					ID:          rec.ID,
					Option:      rec.Option,
					PublishedAt: rec.PublishedAt,
					ExpiresAt:   rec.ExpiresAt,
					Size:        int64(len(rec.Data)),
				}
				fn(topicName, msg, rec.Data)
			}

			return nil
		})
	})
}
