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

package tripcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarerhq/tripcache/internal/idgen"
	"github.com/wayfarerhq/tripcache/internal/kv"
	"github.com/wayfarerhq/tripcache/tripdb"
)

func strptr(s string) *string { return &s }

func newTestService(t *testing.T) (*Service, *tripdb.MemStore, *kv.MemStore, *tripdb.Trip) {
	t.Helper()
	store := tripdb.NewMemStore(tripdb.WithIDGenerator(idgen.NewSequenceGenerator("id")))
	mem := kv.NewMemStore()
	t.Cleanup(mem.Stop)

	svc := New(store, mem)
	t.Cleanup(svc.Close)

	trip := store.SeedTrip(
		tripdb.TripMeta{OwnerID: "creator-1", Title: "Lisbon", Currency: "EUR"},
		tripdb.Day{Title: "Alfama", Activities: []tripdb.Activity{
			{Title: "Castle", Gems: []tripdb.Gem{{Kind: tripdb.GemTip, Title: "Go early", Body: "Queues"}}},
			{Title: "Fado"},
		}},
		tripdb.Day{Title: "Belem", Activities: []tripdb.Activity{
			{Title: "Pasteis"},
		}},
	)
	return svc, store, mem, trip
}

// A cold read falls through to the store and returns the full tree; the
// same read after repopulation settles is served from cache and equal.
func TestLoadTrip_RoundTrip(t *testing.T) {
	svc, _, _, trip := newTestService(t)
	ctx := context.Background()

	cold, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trip, cold)

	svc.Close() // wait for background repopulation

	warm, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, cold, warm)
}

func TestLoadTrip_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.LoadTrip(context.Background(), "nope")
	assert.ErrorIs(t, err, tripdb.ErrNotFound)
}

// Repopulation fills every tier: fast path, fragments, shape, marker.
func TestLoadTrip_Repopulates(t *testing.T) {
	svc, _, mem, trip := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	svc.Close()

	for _, key := range []string{
		FullTripKey(trip.ID),
		"trip:meta:" + trip.ID,
		"trip:shape:" + trip.ID,
		"trip:day:" + trip.Days[0].ID,
		"trip:activity:" + trip.Days[0].Activities[0].ID,
	} {
		_, err := mem.Get(ctx, key)
		assert.NoError(t, err, "tier %s not repopulated", key)
	}
	assert.False(t, svc.stale.IsStale(ctx, trip.ID))
}

// After a save, the fast-path entry is distrusted: the next whole-trip
// read reflects the write even though the old entry has not expired.
func TestLoadTrip_StaleMarkerForcesRederive(t *testing.T) {
	svc, _, _, trip := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	svc.Close()

	actID := trip.Days[0].Activities[0].ID
	_, err = svc.SaveChanges(ctx, "creator-1", trip.ID, &tripdb.ChangeBundle{
		UpdatedActivities: []tripdb.ActivityUpdate{{
			ID:    tripdb.Durable(actID),
			Patch: tripdb.ActivityPatch{Description: strptr("Book the sunset slot")},
		}},
	})
	require.NoError(t, err)

	got, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "Book the sunset slot", got.Days[0].Activities[0].Description)

	// the successful re-derive re-armed the fast path
	assert.False(t, svc.stale.IsStale(ctx, trip.ID))
}

// Deleting a day renumbers the survivors in the store; the next read,
// assembled from fragments, must match the store tree exactly, with
// dense positions and a decremented day count.
func TestLoadTrip_AfterDayDeleteMatchesStore(t *testing.T) {
	svc, store, _, trip := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	svc.Close() // wait until every tier is warm

	_, err = svc.SaveChanges(ctx, "creator-1", trip.ID, &tripdb.ChangeBundle{
		DeletedDays: []tripdb.ID{tripdb.Durable(trip.Days[0].ID)},
	})
	require.NoError(t, err)

	got, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)

	want, err := store.FetchTripTree(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.Len(t, got.Days, 1)
	assert.Equal(t, 1, got.Days[0].Position)
	assert.Equal(t, 1, got.DayCount)
}

// With the KV store down entirely, reads still succeed from the
// authoritative store.
func TestLoadTrip_CacheOutageFallsBack(t *testing.T) {
	svc, _, mem, trip := newTestService(t)
	ctx := context.Background()

	mem.Break(errors.New("connection refused"))
	defer mem.Fix()

	got, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.ID, got.ID)
	require.Len(t, got.Days, 2)
}

func TestLoadTripMeta_ReadThrough(t *testing.T) {
	svc, store, _, trip := newTestService(t)
	ctx := context.Background()

	meta, err := svc.LoadTripMeta(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", meta.Title)

	// behind the service's back; a cached read must not see this
	_, err = store.UpdateTripMeta(ctx, trip.ID, tripdb.TripPatch{Title: strptr("renamed")})
	require.NoError(t, err)

	meta, err = svc.LoadTripMeta(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", meta.Title)
}

func TestLoadDay_FallbackWarms(t *testing.T) {
	svc, _, mem, trip := newTestService(t)
	ctx := context.Background()
	day := trip.Days[0]

	got, err := svc.LoadDay(ctx, day.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alfama", got.Title)
	require.Len(t, got.Activities, 2)
	assert.Equal(t, "Go early", got.Activities[0].Gems[0].Title)

	// fragments were warmed on the way out
	_, err = mem.Get(ctx, "trip:day:"+day.ID)
	assert.NoError(t, err)
	_, err = mem.Get(ctx, "trip:activity:"+day.Activities[0].ID)
	assert.NoError(t, err)
}

func TestLoadDay_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.LoadDay(context.Background(), "nope")
	assert.ErrorIs(t, err, tripdb.ErrNotFound)
}

// Once the shape and fragments are warm, LoadDay assembles from cache:
// a store-side edit that bypassed the cache stays invisible.
func TestLoadDay_AssemblesFromCache(t *testing.T) {
	svc, store, _, trip := newTestService(t)
	ctx := context.Background()
	day := trip.Days[0]

	_, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	svc.Close()

	_, err = store.UpdateDay(ctx, day.ID, tripdb.DayPatch{Title: strptr("renamed")})
	require.NoError(t, err)

	got, err := svc.LoadDay(ctx, day.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alfama", got.Title)
	require.Len(t, got.Activities, 2)
}

func TestPrefetchDay(t *testing.T) {
	svc, _, mem, trip := newTestService(t)
	ctx := context.Background()
	day := trip.Days[1]

	svc.PrefetchDay(ctx, day.ID, trip.ID)

	_, err := mem.Get(ctx, "trip:day:"+day.ID)
	assert.NoError(t, err)
	_, err = mem.Get(ctx, "trip:activity:"+day.Activities[0].ID)
	assert.NoError(t, err)
}

func TestSaveChanges_OwnershipEnforced(t *testing.T) {
	svc, store, _, trip := newTestService(t)
	ctx := context.Background()

	_, err := svc.SaveChanges(ctx, "someone-else", trip.ID, &tripdb.ChangeBundle{
		Meta: &tripdb.TripPatch{Title: strptr("hijacked")},
	})
	assert.ErrorIs(t, err, ErrNotOwner)

	meta, err := store.FetchTripMeta(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", meta.Title)
}

func TestSaveChanges_ReturnsRemap(t *testing.T) {
	svc, _, _, trip := newTestService(t)
	ctx := context.Background()

	remap, err := svc.SaveChanges(ctx, "creator-1", trip.ID, &tripdb.ChangeBundle{
		AddedDays: []tripdb.DayAdd{{Ref: tripdb.Provisional("draft-1"), Title: "Sintra"}},
	})
	require.NoError(t, err)
	assert.Contains(t, remap, "draft-1")
}

func TestSaveDayField_OwnershipEnforced(t *testing.T) {
	svc, _, _, trip := newTestService(t)
	err := svc.SaveDayField(context.Background(), "someone-else", trip.ID, trip.Days[0].ID,
		tripdb.DayPatch{Title: strptr("x")})
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestSaveActivityField(t *testing.T) {
	svc, store, _, trip := newTestService(t)
	ctx := context.Background()
	actID := trip.Days[0].Activities[0].ID

	require.NoError(t, svc.SaveActivityField(ctx, "creator-1", trip.ID, actID,
		tripdb.ActivityPatch{Location: strptr("Alfama hilltop")}))

	stored, err := store.FetchActivity(ctx, actID)
	require.NoError(t, err)
	assert.Equal(t, "Alfama hilltop", stored.Location)
	assert.True(t, svc.stale.IsStale(ctx, trip.ID))
}

func TestInvalidateTrip(t *testing.T) {
	svc, _, _, trip := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	svc.Close()
	require.False(t, svc.stale.IsStale(ctx, trip.ID))

	svc.InvalidateTrip(ctx, trip.ID)
	assert.True(t, svc.stale.IsStale(ctx, trip.ID))
}

func TestMetricsSnapshot(t *testing.T) {
	svc, _, _, trip := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoadTrip(ctx, trip.ID)
	require.NoError(t, err)
	svc.Close()

	snap := svc.Metrics()
	assert.Positive(t, snap.Writes)
}
