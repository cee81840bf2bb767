package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"rag-client/internal/models"
)

const lastConversationKey = "session:last_conversation"

func transcriptKey(conversationID string) []byte {
	return []byte(fmt.Sprintf("conversation:%s:transcript", conversationID))
}

type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(dbPath))
}

// NewMemoryStore opens a non-persistent store, used when the data directory
// is unavailable and in tests
func NewMemoryStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) SaveTranscript(ctx context.Context, conversationID string, messages []models.ChatMessage) error {
	if conversationID == "" {
		return errors.New("cannot cache a transcript without a conversation id")
	}

	data, err := json.Marshal(transcript{
		ConversationID: conversationID,
		Messages:       messages,
		SavedAt:        time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(transcriptKey(conversationID), data)
	})
}

func (s *BadgerStore) LoadTranscript(ctx context.Context, conversationID string) ([]models.ChatMessage, bool, error) {
	var t transcript

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(transcriptKey(conversationID))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &t)
		})
	})

	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load transcript: %w", err)
	}

	if t.Messages == nil {
		t.Messages = []models.ChatMessage{}
	}
	return t.Messages, true, nil
}

func (s *BadgerStore) DeleteTranscript(ctx context.Context, conversationID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(transcriptKey(conversationID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to delete transcript: %w", err)
		}

		// Forget the selection if it pointed at the deleted conversation
		item, err := txn.Get([]byte(lastConversationKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		last, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(last) == conversationID {
			return txn.Delete([]byte(lastConversationKey))
		}
		return nil
	})
}

func (s *BadgerStore) SetLastConversation(ctx context.Context, conversationID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if conversationID == "" {
			if err := txn.Delete([]byte(lastConversationKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return nil
		}
		return txn.Set([]byte(lastConversationKey), []byte(conversationID))
	})
}

func (s *BadgerStore) LastConversation(ctx context.Context) (string, error) {
	var id string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastConversationKey))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id = string(val)
		return nil
	})

	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read last conversation: %w", err)
	}

	return id, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
