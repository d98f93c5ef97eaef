// Package badgerdb implements store.MessageStore on top of BadgerDB.
//
// Key layout:
//
//	msg:{id:020}                      -> JSON encoded store.Message
//	conv:{pair}:{id:020}              -> empty, one per message, pair is the order independent user pair
//	unread:{receiver}:{id:020}        -> empty, removed once the message is read
//
// Ids are zero padded so lexicographic key order equals numeric order.
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vovakirdan/relaychat/internal/errs"
	"github.com/vovakirdan/relaychat/internal/store"
)

const (
	sequenceKey       = "seq:messages"
	sequenceBandwidth = 100
	maxTxnRetries     = 10
)

// BadgerStore implements store.MessageStore for BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	now func() time.Time
}

var _ store.MessageStore = (*BadgerStore)(nil)

// New opens a Badger database in dir. An empty dir opens an in-memory database.
func New(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("get message sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, now: time.Now}, nil
}

// Close releases the id lease and closes the database.
func (s *BadgerStore) Close() error {
	releaseErr := s.seq.Release()
	closeErr := s.db.Close()
	return errors.Join(releaseErr, closeErr)
}

// CreateMessage persists a new unread message.
func (s *BadgerStore) CreateMessage(_ context.Context, sender, receiver, content string) (*store.Message, error) {
	if err := store.ValidateNew(sender, receiver, content); err != nil {
		return nil, err
	}

	n, err := s.seq.Next()
	if err != nil {
		return nil, errs.Store("next message id", err)
	}

	msg := &store.Message{
		ID:        int64(n) + 1, // sequences start at zero
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return nil, errs.Store("encode message", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(msg.ID), value); err != nil {
			return err
		}
		if err := txn.Set(conversationKey(sender, receiver, msg.ID), nil); err != nil {
			return err
		}
		return txn.Set(unreadKey(receiver, msg.ID), nil)
	})
	if err != nil {
		return nil, errs.Store("insert message", err)
	}

	return msg, nil
}

// MarkRead flags a message as read, keeping the first read timestamp.
// Concurrent updates of the same key conflict in Badger; the transaction is retried.
func (s *BadgerStore) MarkRead(ctx context.Context, id int64) (*store.Message, error) {
	var (
		msg *store.Message
		err error
	)
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errs.Store("mark read", ctxErr)
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			current, getErr := getMessage(txn, id)
			if getErr != nil {
				return getErr
			}
			if !current.IsRead {
				readAt := s.now().UTC().Truncate(time.Millisecond)
				current.IsRead = true
				current.ReadAt = &readAt

				value, encErr := json.Marshal(current)
				if encErr != nil {
					return encErr
				}
				if setErr := txn.Set(messageKey(id), value); setErr != nil {
					return setErr
				}
				if delErr := txn.Delete(unreadKey(current.Receiver, id)); delErr != nil {
					return delErr
				}
			}
			msg = current
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, errs.Store("mark read", err)
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *BadgerStore) GetMessage(_ context.Context, id int64) (*store.Message, error) {
	var msg *store.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var getErr error
		msg, getErr = getMessage(txn, id)
		return getErr
	})
	if err != nil {
		return nil, errs.Store("get message", err)
	}
	return msg, nil
}

// ListConversation retrieves messages between two users, newest first.
func (s *BadgerStore) ListConversation(_ context.Context, userA, userB string, limit int, beforeID *int64) ([]*store.Message, error) {
	limit = store.NormalizeLimit(limit)
	prefix := conversationPrefix(userA, userB)

	var seek []byte
	switch {
	case beforeID == nil:
		seek = append(append([]byte{}, prefix...), 0xff)
	case *beforeID <= 1:
		return []*store.Message{}, nil
	default:
		seek = append(append([]byte{}, prefix...), padID(*beforeID-1)...)
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true

	return s.scanIndex(prefix, seek, opts, limit)
}

// ListUnread retrieves unread messages addressed to receiver, oldest first.
func (s *BadgerStore) ListUnread(_ context.Context, receiver string, limit int) ([]*store.Message, error) {
	prefix := unreadPrefix(receiver)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	return s.scanIndex(prefix, prefix, opts, store.NormalizeLimit(limit))
}

// scanIndex walks index keys under prefix and resolves the referenced messages.
func (s *BadgerStore) scanIndex(prefix, seek []byte, opts badger.IteratorOptions, limit int) ([]*store.Message, error) {
	messages := make([]*store.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			id, parseErr := idFromIndexKey(it.Item().Key(), len(prefix))
			if parseErr != nil {
				return parseErr
			}
			msg, getErr := getMessage(txn, id)
			if getErr != nil {
				return getErr
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Store("scan messages", err)
	}
	return messages, nil
}

func getMessage(txn *badger.Txn, id int64) (*store.Message, error) {
	item, err := txn.Get(messageKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &errs.NotFoundError{MessageID: id}
		}
		return nil, err
	}

	var msg store.Message
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	if err != nil {
		return nil, fmt.Errorf("decode message %d: %w", id, err)
	}
	return &msg, nil
}

func padID(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func messageKey(id int64) []byte {
	return []byte("msg:" + padID(id))
}

// userSegment length-prefixes a user id so ids containing ':' cannot collide.
func userSegment(userID string) string {
	return strconv.Itoa(len(userID)) + "." + userID
}

func conversationPrefix(userA, userB string) []byte {
	if userB < userA {
		userA, userB = userB, userA
	}
	return []byte("conv:" + userSegment(userA) + ":" + userSegment(userB) + ":")
}

func conversationKey(sender, receiver string, id int64) []byte {
	return append(conversationPrefix(sender, receiver), padID(id)...)
}

func unreadPrefix(receiver string) []byte {
	return []byte("unread:" + userSegment(receiver) + ":")
}

func unreadKey(receiver string, id int64) []byte {
	return append(unreadPrefix(receiver), padID(id)...)
}

func idFromIndexKey(key []byte, prefixLen int) (int64, error) {
	id, err := strconv.ParseInt(string(key[prefixLen:]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse index key %q: %w", key, err)
	}
	return id, nil
}
