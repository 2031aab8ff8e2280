package client

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/thomasgauvin/llm-client/pkg/models"
)

// DefaultTitle is the placeholder title a conversation carries until the
// title generator replaces it.
const DefaultTitle = "New conversation"

const conversationsBucket = "conversations"

// ErrConversationNotFound is returned by Get for an unknown id.
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation is a locally persisted chat thread. ID is zero until the
// first Put assigns one.
type Conversation struct {
	ID       uint64           `json:"id"`
	Title    string           `json:"title"`
	Messages []models.Message `json:"messages"`
}

// ConversationStore persists conversations in a local BoltDB file, keyed by
// an auto-assigned integer id.
type ConversationStore struct {
	db *bolt.DB
}

// OpenConversationStore opens (creating if needed) the conversation
// database at path.
func OpenConversationStore(path string) (*ConversationStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(conversationsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &ConversationStore{db: db}, nil
}

// Close closes the underlying database.
func (cs *ConversationStore) Close() error { return cs.db.Close() }

// Put inserts or updates a conversation. A zero ID is replaced with the
// next auto-increment id; the caller's struct is updated in place so the
// assigned id carries forward.
func (cs *ConversationStore) Put(conv *Conversation) error {
	return cs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(conversationsBucket))
		if conv.ID == 0 {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			conv.ID = id
		}
		enc, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		return b.Put(itob(conv.ID), enc)
	})
}

// Get returns the conversation with the given id.
func (cs *ConversationStore) Get(id uint64) (*Conversation, error) {
	var conv *Conversation
	err := cs.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(conversationsBucket)).Get(itob(id))
		if raw == nil {
			return ErrConversationNotFound
		}
		conv = &Conversation{}
		return json.Unmarshal(raw, conv)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// All returns every conversation, newest first.
func (cs *ConversationStore) All() ([]*Conversation, error) {
	var out []*Conversation
	err := cs.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(conversationsBucket)).ForEach(func(k, v []byte) error {
			conv := &Conversation{}
			if err := json.Unmarshal(v, conv); err != nil {
				// Skip malformed entries instead of failing the whole load
				return nil
			}
			out = append(out, conv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Delete removes a conversation. Deleting an unknown id is a no-op.
func (cs *ConversationStore) Delete(id uint64) error {
	return cs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(conversationsBucket)).Delete(itob(id))
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
