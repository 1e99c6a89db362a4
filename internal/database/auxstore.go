// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package database provides badger and pebble backed implementations of
// the auxiliary store used to persist finality state between runs.
package database

import (
	"errors"
	"fmt"

	"github.com/ChainSafe/chaindb"
	"github.com/ChainSafe/grandpa-client/client/api"
)

// AuxStore is a chaindb backed auxiliary key-value store.
type AuxStore struct {
	db chaindb.Database
}

var _ api.AuxStore = (*AuxStore)(nil)

// NewAuxStore wraps the given database as an auxiliary store.
func NewAuxStore(db chaindb.Database) *AuxStore {
	return &AuxStore{db: db}
}

// OpenAuxStore opens a badger database at the given path.
func OpenAuxStore(path string, inMemory bool) (*AuxStore, error) {
	cfg := &chaindb.Config{
		DataDir:  path,
		InMemory: inMemory,
	}
	db, err := chaindb.NewBadgerDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}
	return &AuxStore{db: db}, nil
}

// Insert applies the given insertions and deletions as a single batch.
// Deletions take effect after insertions within the batch.
func (s *AuxStore) Insert(insert []api.KeyValue, deleted []api.Key) error {
	if len(insert) == 0 && len(deleted) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
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
func (s *AuxStore) Get(key api.Key) (*[]byte, error) {
	value, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, chaindb.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &value, nil
}

// Close releases the underlying database.
func (s *AuxStore) Close() error {
	return s.db.Close()
}
