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

package shapeindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarerhq/tripcache/internal/kv"
	"github.com/wayfarerhq/tripcache/tripdb"
)

type stubSource struct {
	shape *tripdb.TripShape
	err   error
	calls int
}

func (s *stubSource) FetchTripShape(context.Context, string) (*tripdb.TripShape, error) {
	s.calls++
	return s.shape, s.err
}

func testShape() *tripdb.TripShape {
	return &tripdb.TripShape{
		TripID: "t1",
		DayIDs: []string{"d1", "d2"},
		ActivityIDs: map[string][]string{
			"d1": {"a1", "a2"},
			"d2": {},
		},
	}
}

func TestIndex_RoundTrip(t *testing.T) {
	mem := kv.NewMemStore()
	t.Cleanup(mem.Stop)
	idx := New(mem, &stubSource{})
	ctx := context.Background()

	idx.Set(ctx, testShape())

	got, ok := idx.Get(ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, testShape(), got)

	ttl, ok := mem.TTLOf(Key("t1"))
	require.True(t, ok)
	assert.InDelta(t, DefaultTTL, ttl, float64(time.Minute))
}

func TestIndex_MissOnAbsentOrBroken(t *testing.T) {
	mem := kv.NewMemStore()
	t.Cleanup(mem.Stop)
	idx := New(mem, &stubSource{})
	ctx := context.Background()

	_, ok := idx.Get(ctx, "t1")
	assert.False(t, ok)

	idx.Set(ctx, testShape())
	mem.Break(errors.New("connection refused"))
	_, ok = idx.Get(ctx, "t1")
	assert.False(t, ok)
}

func TestIndex_Rebuild(t *testing.T) {
	mem := kv.NewMemStore()
	t.Cleanup(mem.Stop)
	src := &stubSource{shape: testShape()}
	idx := New(mem, src, WithTTL(time.Minute))
	ctx := context.Background()

	shape, err := idx.Rebuild(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, testShape(), shape)
	assert.Equal(t, 1, src.calls)

	got, ok := idx.Get(ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, testShape(), got)

	ttl, ok := mem.TTLOf(Key("t1"))
	require.True(t, ok)
	assert.InDelta(t, time.Minute, ttl, float64(5*time.Second))
}

// A store failure during rebuild is surfaced: the alternative is a shape
// silently describing a layout that no longer exists.
func TestIndex_RebuildStoreFailure(t *testing.T) {
	mem := kv.NewMemStore()
	t.Cleanup(mem.Stop)
	boom := errors.New("db down")
	idx := New(mem, &stubSource{err: boom})

	_, err := idx.Rebuild(context.Background(), "t1")
	assert.ErrorIs(t, err, boom)
}

// A cache failure during rebuild is not: the store read succeeded and the
// shape will be re-cached on the next rebuild or repopulation.
func TestIndex_RebuildCacheFailureSwallowed(t *testing.T) {
	mem := kv.NewMemStore()
	t.Cleanup(mem.Stop)
	idx := New(mem, &stubSource{shape: testShape()})

	mem.Break(errors.New("connection refused"))
	shape, err := idx.Rebuild(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, testShape(), shape)
}
