// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package database

import (
	"errors"
	"fmt"

	"github.com/ChainSafe/grandpa-client/client/api"
)

// PebbleAuxStore is an auxiliary key-value store backed by a Database.
type PebbleAuxStore struct {
	db Database
}

var _ api.AuxStore = (*PebbleAuxStore)(nil)

// NewPebbleAuxStore wraps the given database as an auxiliary store.
func NewPebbleAuxStore(db Database) *PebbleAuxStore {
	return &PebbleAuxStore{db: db}
}

// OpenPebbleAuxStore opens a pebble database at the given path.
func OpenPebbleAuxStore(path string, inMemory bool) (*PebbleAuxStore, error) {
	db, err := NewPebble(path, inMemory)
	if err != nil {
		return nil, err
	}
	return &PebbleAuxStore{db: db}, nil
}

// Insert applies the given insertions and deletions as a single batch.
// Deletions take effect after insertions within the batch.
func (s *PebbleAuxStore) Insert(insert []api.KeyValue, deleted []api.Key) error {
	if len(insert) == 0 && len(deleted) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer func() {
		if err := batch.Close(); err != nil {
			logger.Errorf("while closing batch: %s", err)
		}
	}()
	for _, kv := range insert {
		if err := batch.Put(kv.Key, kv.Value); err != nil {
			return fmt.Errorf("batching write for key 0x%x: %w", kv.Key, err)
		}
	}
	for _, key := range deleted {
		if err := batch.Del(key); err != nil {
			return fmt.Errorf("batching delete for key 0x%x: %w", key, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("flushing write batch: %w", err)
	}
	return nil
}

// Get returns the value stored under key, or nil if the key is absent.
func (s *PebbleAuxStore) Get(key api.Key) (*[]byte, error) {
	value, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &value, nil
}

// Close releases the underlying database.
func (s *PebbleAuxStore) Close() error {
	return s.db.Close()
}
