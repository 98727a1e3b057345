// Package queue implements an at-least-once message queue on BadgerDB.
// Messages live under a data key; a visibility index keyed by timestamp
// orders delivery and hides in-flight messages until their timeout lapses.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// storedMessage wraps the payload with queue bookkeeping
type storedMessage struct {
	ID           string              `json:"id"`
	Body         models.QueueMessage `json:"body"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// BadgerQueue implements interfaces.Queue on a shared Badger database
type BadgerQueue struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	pollInterval      time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBadgerQueue creates a queue over an already-open Badger database
func NewBadgerQueue(db *badger.DB, queueName string, visibilityTimeout, pollInterval time.Duration, maxReceive int, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &BadgerQueue{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		pollInterval:      pollInterval,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Enqueue adds a message to the queue, immediately visible
func (q *BadgerQueue) Enqueue(ctx context.Context, msg *models.QueueMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	stored := storedMessage{
		ID:         uuid.New().String(),
		Body:       *msg,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(stored.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(stored.VisibleAt, stored.ID), []byte{})
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	q.logger.Debug().
		Str("queue", q.queueName).
		Str("task_id", msg.TaskID).
		Msg("Message enqueued")

	return nil
}

// Receive pulls the next visible message. The message stays hidden for the
// visibility timeout; the returned delete function removes it permanently.
func (q *BadgerQueue) Receive(ctx context.Context) (*models.QueueMessage, interfaces.DeleteFunc, error) {
	var claimed storedMessage
	var msgID string

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false
		var oldIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}

			// Keys sort by timestamp; a future entry means nothing later
			// is visible either.
			if ts.After(now) {
				break
			}

			item, err := txn.Get(q.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry; clean it up and move on.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &claimed)
			}); err != nil {
				return err
			}

			if claimed.ReceiveCount >= q.maxReceive {
				// Poison message. Park it under the dead-letter prefix for
				// inspection instead of redelivering forever.
				if err := q.deadLetter(txn, key, id, &claimed); err != nil {
					return err
				}
				continue
			}

			found = true
			msgID = id
			oldIndexKey = key
			break
		}

		if !found {
			return models.ErrNoMessage
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(q.visibilityTimeout)

		newData, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msgID), newData); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(claimed.VisibleAt, msgID), []byte{})
	})

	if err != nil {
		return nil, nil, err
	}

	q.logger.Trace().
		Str("queue", q.queueName).
		Str("task_id", claimed.Body.TaskID).
		Int("receive_count", claimed.ReceiveCount).
		Msg("Message received")

	deleteFn := func() error {
		return q.deleteMessage(msgID)
	}

	body := claimed.Body
	return &body, deleteFn, nil
}

// ReceiveWait polls until a message arrives or wait elapses
func (q *BadgerQueue) ReceiveWait(ctx context.Context, wait time.Duration) (*models.QueueMessage, interfaces.DeleteFunc, error) {
	deadline := time.Now().Add(wait)
	for {
		msg, deleteFn, err := q.Receive(ctx)
		if err == nil {
			return msg, deleteFn, nil
		}
		if !errors.Is(err, models.ErrNoMessage) {
			return nil, nil, err
		}
		if time.Now().After(deadline) {
			return nil, nil, models.ErrNoMessage
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// Length counts visible and in-flight messages
func (q *BadgerQueue) Length(ctx context.Context) (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count queue messages: %w", err)
	}
	return count, nil
}

// Close is a no-op; the database is owned by the storage manager
func (q *BadgerQueue) Close() error {
	return nil
}

func (q *BadgerQueue) deleteMessage(msgID string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		msgKey := q.msgKey(msgID)
		item, err := txn.Get(msgKey)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already deleted
			}
			return err
		}

		var current storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(current.VisibleAt, msgID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Delete(msgKey)
	})
}

func (q *BadgerQueue) deadLetter(txn *badger.Txn, indexKey []byte, id string, msg *storedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := txn.Set(q.deadLetterKey(id), data); err != nil {
		return err
	}
	if err := txn.Delete(indexKey); err != nil {
		return err
	}
	if err := txn.Delete(q.msgKey(id)); err != nil {
		return err
	}

	q.logger.Warn().
		Str("queue", q.queueName).
		Str("task_id", msg.Body.TaskID).
		Int("receive_count", msg.ReceiveCount).
		Msg("Message exceeded max receives, moved to dead letter")

	return nil
}

// Key helpers. The index timestamp is zero padded to 20 digits so byte
// ordering matches numeric ordering.

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.queueName, id))
}

func (q *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.queueName, visibleAt.UnixNano(), id))
}

func (q *BadgerQueue) deadLetterKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dead:%s", q.queueName, id))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", q.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	if len(suffix) < 21 { // 20 digits + 1 colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}

var _ interfaces.Queue = (*BadgerQueue)(nil)
