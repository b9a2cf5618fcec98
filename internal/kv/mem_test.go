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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_RoundTrip(t *testing.T) {
	m := NewMemStore()
	defer m.Stop()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_Expiry(t *testing.T) {
	m := NewMemStore()
	defer m.Stop()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_TTLOf(t *testing.T) {
	m := NewMemStore()
	defer m.Stop()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Hour))
	ttl, ok := m.TTLOf("k")
	require.True(t, ok)
	assert.InDelta(t, time.Hour, ttl, float64(time.Minute))

	_, ok = m.TTLOf("absent")
	assert.False(t, ok)
}

func TestMemStore_Break(t *testing.T) {
	m := NewMemStore()
	defer m.Stop()
	ctx := context.Background()
	boom := errors.New("connection refused")

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

	m.Break(boom)
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.Set(ctx, "k", "v", time.Minute), boom)
	assert.ErrorIs(t, m.Delete(ctx, "k"), boom)

	m.Fix()
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
