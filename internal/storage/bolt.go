package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// statesBucket holds one Record per entity id
const statesBucket = "states"

// BoltStore is a bbolt implementation of Store
type BoltStore struct {
	db    *bbolt.DB
	clock func() time.Time
}

// NewBoltStore opens or creates the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(statesBucket)); err != nil {
			return fmt.Errorf("failed to create states bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, clock: time.Now}, nil
}

// LoadLastState returns the last saved state of entityID
func (s *BoltStore) LoadLastState(entityID string) (string, error) {
	rec, err := s.Load(entityID)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

// Load returns the full record saved for entityID
func (s *BoltStore) Load(entityID string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(statesBucket))
		if bucket == nil {
			return fmt.Errorf("states bucket not found")
		}

		data := bucket.Get([]byte(entityID))
		if data == nil {
			return fmt.Errorf("%s: %w", entityID, ErrNotFound)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal state of %s: %w", entityID, err)
		}
		return nil
	})
	return rec, err
}

// SaveState records value as the current state of entityID
func (s *BoltStore) SaveState(entityID, value string) error {
	data, err := json.Marshal(Record{State: value, SavedAt: s.clock()})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(statesBucket))
		if bucket == nil {
			return fmt.Errorf("states bucket not found")
		}
		return bucket.Put([]byte(entityID), data)
	})
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}
