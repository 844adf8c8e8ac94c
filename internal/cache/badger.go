// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store using BadgerDB for durable, TTL-aware
// storage. Suitable for production use with persistence across restarts.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string
	// InMemory runs badger without disk persistence (tests, ephemeral
	// deployments).
	InMemory bool
}

// NewBadgerStore opens a badger database at the configured path and wraps
// it as a Store. The caller owns Close.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	// Badger's default logger writes to stdout outside our structured
	// logging; silence it and rely on our own error returns.
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", opts.Path, err)
	}
	return &BadgerStore{db: db}, nil
}

// DB exposes the underlying badger handle for components that need
// iteration (none currently; kept for operational tooling).
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

// Get returns the value stored under key, or ErrNotFound.
func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// SetWithTTL stores value under key with the given TTL. Badger enforces
// expiration natively; expired keys read as not found.
func (s *BadgerStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BadgerStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// SetIfAbsent stores value under key only if the key does not already
// exist. The check and write happen in one badger transaction, which is
// what makes claims and locks safe under concurrent access.
func (s *BadgerStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	acquired := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil // key exists, not acquired
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check %s: %w", key, err)
		}
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// Close closes the underlying badger database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
