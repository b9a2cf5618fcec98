// Copyright (C) 2025 Wayfarer, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package kv

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemStore is an in-process Store with real TTL semantics, for tests and
// single-node local runs. It can also simulate transport outages so the
// fail-open paths are testable.
type MemStore struct {
	cache *ttlcache.Cache[string, string]

	mu     sync.Mutex
	broken bool
	err    error
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go c.Start()
	return &MemStore{cache: c}
}

// Stop halts the expiration loop.
func (m *MemStore) Stop() {
	m.cache.Stop()
}

// Break makes every subsequent call fail with err, simulating an
// unreachable store. Fix restores normal operation.
func (m *MemStore) Break(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken = true
	m.err = err
}

func (m *MemStore) Fix() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken = false
	m.err = nil
}

func (m *MemStore) failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken {
		return m.err
	}
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (string, error) {
	if err := m.failure(); err != nil {
		return "", err
	}
	item := m.cache.Get(key)
	if item == nil || item.IsExpired() {
		return "", ErrNotFound
	}
	return item.Value(), nil
}

func (m *MemStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := m.failure(); err != nil {
		return err
	}
	m.cache.Set(key, value, ttl)
	return nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	if err := m.failure(); err != nil {
		return err
	}
	m.cache.Delete(key)
	return nil
}

// TTLOf reports the remaining TTL of key, for tests asserting TTL-class
// selection. Returns false when the key is absent.
func (m *MemStore) TTLOf(key string) (time.Duration, bool) {
	item := m.cache.Get(key)
	if item == nil || item.IsExpired() {
		return 0, false
	}
	return time.Until(item.ExpiresAt()), true
}
