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

package fragcache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarerhq/tripcache/internal/kv"
	"github.com/wayfarerhq/tripcache/tripdb"
)

func newTestCache(t *testing.T) (*Cache, *kv.MemStore) {
	t.Helper()
	mem := kv.NewMemStore()
	t.Cleanup(mem.Stop)
	c := New(mem, WithConfig(Config{
		MetadataTTL:   time.Hour,
		StructuralTTL: 30 * time.Minute,
		ActiveEditTTL: 5 * time.Minute,
	}))
	return c, mem
}

func TestKey(t *testing.T) {
	assert.Equal(t, "trip:meta:t1", Key(KindMeta, "t1"))
	assert.Equal(t, "trip:day:d1", Key(KindDay, "d1"))
	assert.Equal(t, "trip:activity:a1", Key(KindActivity, "a1"))
}

func TestCache_MetaRoundTrip(t *testing.T) {
	c, mem := newTestCache(t)
	ctx := context.Background()

	meta := &tripdb.TripMeta{ID: "t1", OwnerID: "creator-1", Title: "Lisbon"}
	c.SetMeta(ctx, meta)

	got, ok := c.GetMeta(ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, meta, got)

	// metadata rides the long TTL class
	ttl, ok := mem.TTLOf(Key(KindMeta, "t1"))
	require.True(t, ok)
	assert.InDelta(t, time.Hour, ttl, float64(time.Minute))
}

func TestCache_TTLClasses(t *testing.T) {
	c, mem := newTestCache(t)
	ctx := context.Background()

	day := &tripdb.Day{ID: "d1", TripID: "t1", Position: 1, Title: "Alfama"}
	c.SetDay(ctx, day, false)
	ttl, ok := mem.TTLOf(Key(KindDay, "d1"))
	require.True(t, ok)
	assert.InDelta(t, 30*time.Minute, ttl, float64(time.Minute))

	// the same fragment under active edit drops to the short class
	c.SetDay(ctx, day, true)
	ttl, ok = mem.TTLOf(Key(KindDay, "d1"))
	require.True(t, ok)
	assert.InDelta(t, 5*time.Minute, ttl, float64(time.Minute))

	act := &tripdb.Activity{ID: "a1", DayID: "d1", Position: 1}
	c.SetActivity(ctx, act, true)
	ttl, ok = mem.TTLOf(Key(KindActivity, "a1"))
	require.True(t, ok)
	assert.InDelta(t, 5*time.Minute, ttl, float64(time.Minute))
}

// Day fragments never embed their activities: those are fragments of
// their own and an embedded copy would silently go stale.
func TestCache_SetDayStripsActivities(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	day := &tripdb.Day{
		ID: "d1", TripID: "t1", Position: 1, Title: "Alfama",
		Activities: []tripdb.Activity{{ID: "a1", DayID: "d1", Position: 1}},
	}
	c.SetDay(ctx, day, false)

	got, ok := c.GetDay(ctx, "d1")
	require.True(t, ok)
	assert.Empty(t, got.Activities)
	assert.Equal(t, "Alfama", got.Title)

	// the caller's value is untouched
	assert.Len(t, day.Activities, 1)
}

func TestCache_MissOnAbsent(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := c.GetMeta(ctx, "absent")
	assert.False(t, ok)

	snap := c.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.Misses)
	assert.EqualValues(t, 0, snap.Hits)
}

// A transport failure must read as a miss, never as an error: the caller
// falls back to the authoritative store.
func TestCache_FailOpenOnTransportError(t *testing.T) {
	c, mem := newTestCache(t)
	ctx := context.Background()

	c.SetMeta(ctx, &tripdb.TripMeta{ID: "t1"})
	mem.Break(errors.New("connection refused"))

	_, ok := c.GetMeta(ctx, "t1")
	assert.False(t, ok)
}

func TestCache_UndecodableEntryIsMiss(t *testing.T) {
	c, mem := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, Key(KindDay, "d1"), "not json", time.Minute))
	_, ok := c.GetDay(ctx, "d1")
	assert.False(t, ok)
}

// A failed cache write is swallowed; the entry is simply absent.
func TestCache_WriteFailureSwallowed(t *testing.T) {
	c, mem := newTestCache(t)
	ctx := context.Background()

	mem.Break(errors.New("connection refused"))
	c.SetMeta(ctx, &tripdb.TripMeta{ID: "t1"})
	mem.Fix()

	_, ok := c.GetMeta(ctx, "t1")
	assert.False(t, ok)
	assert.EqualValues(t, 0, c.Metrics().Snapshot().Writes)
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.SetActivity(ctx, &tripdb.Activity{ID: "a1"}, false)
	c.DeleteActivity(ctx, "a1")

	_, ok := c.GetActivity(ctx, "a1")
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.Metrics().Snapshot().Invalidations)
}

func TestCache_GetDaysPartial(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("d%d", i)
		ids = append(ids, id)
		if i%2 == 0 {
			c.SetDay(ctx, &tripdb.Day{ID: id, TripID: "t1", Position: i + 1}, false)
		}
	}

	got := c.GetDays(ctx, ids)
	assert.Len(t, got, 10)
	for i := 0; i < 20; i += 2 {
		id := fmt.Sprintf("d%d", i)
		require.Contains(t, got, id)
		assert.Equal(t, id, got[id].ID)
	}
}

func TestCache_GetActivitiesPartial(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.SetActivity(ctx, &tripdb.Activity{ID: "a1", DayID: "d1"}, false)
	got := c.GetActivities(ctx, []string{"a1", "a2"})
	assert.Len(t, got, 1)
	assert.Contains(t, got, "a1")
}

func TestMetrics_Snapshot(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.SetMeta(ctx, &tripdb.TripMeta{ID: "t1"})
	_, _ = c.GetMeta(ctx, "t1")
	_, _ = c.GetMeta(ctx, "t2")
	c.DeleteMeta(ctx, "t1")

	snap := c.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.Hits)
	assert.EqualValues(t, 1, snap.Misses)
	assert.EqualValues(t, 1, snap.Writes)
	assert.EqualValues(t, 1, snap.Invalidations)
}
