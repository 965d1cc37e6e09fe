package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Message is the durable message record. Immutable after insert except the
// read flag and timestamp, which MarkRead mutates.
type Message struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Content    string     `json:"content"`
	Type       string     `json:"type"`
	CreatedAt  time.Time  `json:"createdAt"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
}

// Messages is the message store backed by Badger.
//
// Key layout:
//
//	msg:{a}:{b}:{%019d unixnano}:{id} -> JSON message record
//
// where {a}:{b} is the lexicographically ordered pair of participant IDs,
// so both directions of a conversation share one prefix and the padded
// timestamp keeps prefix scans chronological.
type Messages struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessages(db *badger.DB, log *slog.Logger) *Messages {
	return &Messages{db: db, log: log}
}

func conversationPrefix(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(fmt.Sprintf("msg:%s:%s:", a, b))
}

func messageKey(m Message) []byte {
	prefix := conversationPrefix(m.SenderID, m.ReceiverID)
	return append(prefix, fmt.Sprintf("%019d:%s", m.CreatedAt.UnixNano(), m.ID)...)
}

// Insert persists a message record. The caller owns ID and CreatedAt.
func (m *Messages) Insert(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg), data)
	})
}

// ByID scans the conversation between the message's participants for the
// record; used by tests and read-path verification.
func (m *Messages) ByID(senderID, receiverID, id string) (Message, error) {
	msgs, err := m.Conversation(senderID, receiverID, 0)
	if err != nil {
		return Message{}, err
	}
	for _, msg := range msgs {
		if msg.ID == id {
			return msg, nil
		}
	}
	return Message{}, ErrNotFound
}

// Conversation returns the messages exchanged between two users in
// chronological order, capped at limit (0 means no cap).
func (m *Messages) Conversation(a, b string, limit int) ([]Message, error) {
	var msgs []Message
	prefix := conversationPrefix(a, b)

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(msgs) == limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var msg Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return err
				}
				msgs = append(msgs, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead flags every unread message from senderID to receiverID as read
// and returns how many records were updated.
func (m *Messages) MarkRead(senderID, receiverID string) (int, error) {
	updated := 0
	now := time.Now().UTC()
	prefix := conversationPrefix(senderID, receiverID)

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)

		type pending struct {
			key  []byte
			data []byte
		}
		var writes []pending

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				var msg Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return err
				}
				if msg.SenderID != senderID || msg.ReceiverID != receiverID || msg.Read {
					return nil
				}
				msg.Read = true
				msg.ReadAt = &now
				data, err := json.Marshal(msg)
				if err != nil {
					return err
				}
				writes = append(writes, pending{key: key, data: data})
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}

		// Writes happen after the iterator closes; Badger forbids Set
		// while iterating the same transaction.
		it.Close()
		for _, w := range writes {
			if err := txn.Set(w.key, w.data); err != nil {
				return err
			}
		}
		updated = len(writes)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if updated > 0 {
		m.log.Debug("messages marked read", "from", senderID, "to", receiverID, "count", updated)
	}
	return updated, nil
}
