// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package database

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testNewPebble(t *testing.T) Database {
	t.Helper()

	db, err := NewPebble(t.TempDir(), false)
	require.NoError(t, err)

	t.Cleanup(func() {
		err := db.Close()
		require.NoError(t, err)
	})

	return db
}

func TestPebblePutGetDel(t *testing.T) {
	db := testNewPebble(t)

	for _, key := range []string{"camel", "walrus", "296204", "\x00123\x00"} {
		err := db.Put([]byte(key), []byte(key))
		require.NoError(t, err)

		data, err := db.Get([]byte(key))
		require.NoError(t, err)
		require.Equal(t, []byte(key), data)

		exists, err := db.Has([]byte(key))
		require.NoError(t, err)
		require.True(t, exists)

		err = db.Put([]byte(key), []byte("?"))
		require.NoError(t, err)
		data, err = db.Get([]byte(key))
		require.NoError(t, err)
		require.Equal(t, []byte("?"), data)

		err = db.Del([]byte(key))
		require.NoError(t, err)

		_, err = db.Get([]byte(key))
		require.ErrorIs(t, err, ErrNotFound)

		exists, err = db.Has([]byte(key))
		require.NoError(t, err)
		require.False(t, exists)
	}
}

func TestPebblePath(t *testing.T) {
	db := testNewPebble(t)

	fi, err := os.Stat(db.Path())
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestPebbleBatch(t *testing.T) {
	db := testNewPebble(t)
	key := []byte("camel")
	value := []byte("camel-value")

	batch := db.NewBatch()
	err := batch.Put(key, value)
	require.NoError(t, err)
	require.Equal(t, 1, batch.ValueSize())

	// nothing visible until the batch is flushed
	_, err = db.Get(key)
	require.ErrorIs(t, err, ErrNotFound)

	err = batch.Flush()
	require.NoError(t, err)
	err = batch.Close()
	require.NoError(t, err)

	retrieved, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, retrieved)

	deleteBatch := db.NewBatch()
	err = deleteBatch.Del(key)
	require.NoError(t, err)
	err = deleteBatch.Flush()
	require.NoError(t, err)
	err = deleteBatch.Close()
	require.NoError(t, err)

	_, err = db.Get(key)
	require.ErrorIs(t, err, ErrNotFound)
}

func testIteratorSetup(t *testing.T, db Database) {
	t.Helper()
	batch := db.NewBatch()

	for i := 0; i < 5; i++ {
		key := []byte(fmt.Sprintf("camel-%d", i))
		value := []byte(fmt.Sprintf("camel-value-%d", i))
		err := batch.Put(key, value)
		require.NoError(t, err)
	}
	err := batch.Put([]byte("walrus"), []byte("walrus-value"))
	require.NoError(t, err)

	err = batch.Flush()
	require.NoError(t, err)
	err = batch.Close()
	require.NoError(t, err)
}

func TestPebbleIterator(t *testing.T) {
	db := testNewPebble(t)
	testIteratorSetup(t, db)

	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Release()

	counter := 0
	for succ := it.First(); succ; succ = it.Next() {
		require.True(t, it.Valid())
		require.NotNil(t, it.Key())
		require.NotNil(t, it.Value())
		counter++
	}

	// testIteratorSetup creates 6 entries
	require.Equal(t, 6, counter)
}

func TestPebbleIteratorSeek(t *testing.T) {
	db := testNewPebble(t)
	testIteratorSetup(t, db)

	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Release()

	succ := it.SeekGE([]byte("camel-3"))
	require.True(t, succ)
	require.Equal(t, []byte("camel-3"), it.Key())
	require.Equal(t, []byte("camel-value-3"), it.Value())
}

func TestPebblePrefixIterator(t *testing.T) {
	db := testNewPebble(t)
	testIteratorSetup(t, db)

	it, err := db.NewPrefixIterator([]byte("camel-"))
	require.NoError(t, err)
	defer it.Release()

	counter := 0
	for succ := it.First(); succ; succ = it.Next() {
		require.Equal(t, "camel-", string(it.Key()[:6]))
		counter++
	}

	// the walrus entry is outside the prefix
	require.Equal(t, 5, counter)
}
