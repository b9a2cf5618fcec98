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

package staleness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarerhq/tripcache/internal/kv"
)

func newController(t *testing.T) (*Controller, *kv.MemStore) {
	t.Helper()
	mem := kv.NewMemStore()
	t.Cleanup(mem.Stop)
	return New(mem), mem
}

// No marker means fresh: the marker TTL is at least the whole-trip TTL,
// so an expired marker implies an expired entry anyway.
func TestController_AbsentMeansFresh(t *testing.T) {
	c, _ := newController(t)
	assert.False(t, c.IsStale(context.Background(), "t1"))
}

func TestController_MarkStale(t *testing.T) {
	c, mem := newController(t)
	ctx := context.Background()

	c.MarkStale(ctx, "t1")
	assert.True(t, c.IsStale(ctx, "t1"))

	// idempotent
	c.MarkStale(ctx, "t1")
	assert.True(t, c.IsStale(ctx, "t1"))

	ttl, ok := mem.TTLOf(Key("t1"))
	require.True(t, ok)
	assert.InDelta(t, DefaultMarkerTTL, ttl, float64(time.Minute))
}

func TestController_MarkFresh(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()

	c.MarkStale(ctx, "t1")
	c.MarkFresh(ctx, "t1")
	assert.False(t, c.IsStale(ctx, "t1"))
}

// When the marker cannot be read, assume stale and re-derive: serving a
// possibly pre-write payload is the one failure mode this package exists
// to prevent.
func TestController_TransportFailureMeansStale(t *testing.T) {
	c, mem := newController(t)
	ctx := context.Background()

	c.MarkFresh(ctx, "t1")
	mem.Break(errors.New("connection refused"))
	assert.True(t, c.IsStale(ctx, "t1"))

	mem.Fix()
	assert.False(t, c.IsStale(ctx, "t1"))
}

func TestController_WithMarkerTTL(t *testing.T) {
	mem := kv.NewMemStore()
	t.Cleanup(mem.Stop)
	c := New(mem, WithMarkerTTL(2*time.Hour))

	c.MarkStale(context.Background(), "t1")
	ttl, ok := mem.TTLOf(Key("t1"))
	require.True(t, ok)
	assert.InDelta(t, 2*time.Hour, ttl, float64(time.Minute))
}
