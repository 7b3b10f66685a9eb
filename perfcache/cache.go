// Copyright 2025 Sybl Developers
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package perfcache keeps a local append-only log of per-worker
// performance records. It mirrors the job_performances collection of the
// document store so an edge node restart can warm-start worker
// performance without a store round trip.
package perfcache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Cache is a wrapper around badger.DB storing performance history
// per model id.
type Cache struct {
	bdb *badger.DB
}

func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open performance cache: %w", err)
	}
	return &Cache{bdb: db}, nil
}

// Close closes the internal Badger database. It is possible to call the
// method on a nil instance or an uninitialized Cache, in which case it
// is a NOP.
func (c *Cache) Close() error {
	if c != nil && c.bdb != nil {
		return c.bdb.Close()
	}
	return nil
}

// Append records one performance value for a model.
func (c *Cache) Append(modelID string, performance float64, t time.Time) error {
	err := c.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(encodePerfKey(modelID, t), encodePerformance(performance))
	})
	if err != nil {
		return fmt.Errorf("failed to append performance record: %w", err)
	}
	return nil
}

// Last returns up to n most recent performance values of a model,
// newest first.
func (c *Cache) Last(modelID string, n int) ([]float64, error) {
	all := make([]float64, 0, 16)
	err := c.bdb.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = encodePerfPrefix(modelID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var v float64
			err := it.Item().Value(func(val []byte) error {
				v = decodePerformance(val)
				return nil
			})
			if err != nil {
				return err
			}
			all = append(all, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read performance records: %w", err)
	}
	// keys iterate oldest first; flip and trim to the newest n
	ans := make([]float64, 0, n)
	for i := len(all) - 1; i >= 0 && len(ans) < n; i-- {
		ans = append(ans, all[i])
	}
	return ans, nil
}
