package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"giglink/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketSession       = []byte("session")
	bucketConversations = []byte("conversations")

	sessionKey = []byte("current")
)

// StateCache is the client's local persistence: the access token survives a
// restart (the web client kept it in localStorage), and the last
// conversation-list snapshot renders instantly before the first refresh.
type StateCache struct {
	db *bbolt.DB
}

func NewStateCache(path string) (*StateCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSession); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &StateCache{db: db}, nil
}

func (s *StateCache) Close() error {
	return s.db.Close()
}

func (s *StateCache) SaveToken(token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)
		if token == "" {
			return b.Delete(sessionKey)
		}
		rec := &DBSession{AccessToken: token, SavedAt: time.Now().Unix()}
		data, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(sessionKey, data)
	})
}

func (s *StateCache) LoadToken() (string, error) {
	var token string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSession).Get(sessionKey)
		if data == nil {
			return models.ErrNotFound
		}
		var rec DBSession
		if err := rec.UnmarshalBinary(data); err != nil {
			return err
		}
		token = rec.AccessToken
		return nil
	})
	return token, err
}

// SaveConversations replaces the cached conversation-list snapshot.
func (s *StateCache) SaveConversations(list []models.ConversationSummary) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketConversations); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketConversations)
		if err != nil {
			return err
		}
		for _, c := range list {
			rec := DBConversation{
				ConversationID:  c.ConversationID,
				Username:        c.Username,
				AvatarURL:       c.AvatarURL,
				LastMessageTime: c.LastMessageTime.Unix(),
				UnreadCount:     c.UnreadCount,
			}
			data, err := rec.MarshalBinary()
			if err != nil {
				return err
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, uint64(c.ConversationID))
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *StateCache) LoadConversations() ([]models.ConversationSummary, error) {
	var list []models.ConversationSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var rec DBConversation
			if err := rec.UnmarshalBinary(v); err != nil {
				return err
			}
			list = append(list, models.ConversationSummary{
				ConversationID:  rec.ConversationID,
				Username:        rec.Username,
				AvatarURL:       rec.AvatarURL,
				LastMessageTime: time.Unix(rec.LastMessageTime, 0),
				UnreadCount:     rec.UnreadCount,
			})
			return nil
		})
	})
	return list, err
}
