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

// Package assembler reconstructs a full trip from the shape index plus
// per-fragment cache entries, without touching the authoritative store.
//
// Assembly is strict about structure and lenient about leaves: a missing
// metadata, shape, or day fragment aborts with ErrCacheIncomplete (the
// caller falls back to the store), while a missing activity fragment only
// thins out its day: the product acceptably degrades to fewer activities
// rather than no trip.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/wayfarerhq/tripcache/internal/fragcache"
	"github.com/wayfarerhq/tripcache/internal/logctx"
	"github.com/wayfarerhq/tripcache/internal/shapeindex"
	"github.com/wayfarerhq/tripcache/tripdb"
)

// ErrCacheIncomplete signals that the trip cannot be reconstructed from
// cache alone and the caller must read the authoritative store.
var ErrCacheIncomplete = errors.New("assembler: cache incomplete")

// Assembler builds trips from cache.
type Assembler struct {
	frags  *fragcache.Cache
	shapes *shapeindex.Index
}

func New(frags *fragcache.Cache, shapes *shapeindex.Index) *Assembler {
	return &Assembler{frags: frags, shapes: shapes}
}

// Assemble reconstructs the trip in three ordered waves: metadata and
// shape together, then all day fragments, then all activity fragments.
// Each wave fans out concurrently; waves themselves are sequenced because
// each one's key set comes from the previous one.
func (a *Assembler) Assemble(ctx context.Context, tripID string) (*tripdb.Trip, error) {
	var (
		meta  *tripdb.TripMeta
		shape *tripdb.TripShape
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, ok := a.frags.GetMeta(gctx, tripID)
		if !ok {
			return fmt.Errorf("%w: metadata of trip %s absent", ErrCacheIncomplete, tripID)
		}
		meta = m
		return nil
	})
	g.Go(func() error {
		s, ok := a.shapes.Get(gctx, tripID)
		if !ok {
			return fmt.Errorf("%w: shape of trip %s absent", ErrCacheIncomplete, tripID)
		}
		shape = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	days := a.frags.GetDays(ctx, shape.DayIDs)
	if len(days) != len(shape.DayIDs) {
		// Serving fewer days than the shape promises would silently
		// truncate the itinerary. Abort instead.
		return nil, fmt.Errorf("%w: trip %s has %d of %d days cached",
			ErrCacheIncomplete, tripID, len(days), len(shape.DayIDs))
	}

	allActivityIDs := make([]string, 0, shape.ActivityCount())
	for _, dayID := range shape.DayIDs {
		allActivityIDs = append(allActivityIDs, shape.ActivityIDs[dayID]...)
	}
	acts := a.frags.GetActivities(ctx, allActivityIDs)

	trip := &tripdb.Trip{TripMeta: *meta, Days: make([]tripdb.Day, 0, len(shape.DayIDs))}
	for _, dayID := range shape.DayIDs {
		day := *days[dayID]
		// Order comes from the shape, not from whatever order the
		// fragments resolved in.
		day.Activities = make([]tripdb.Activity, 0, len(shape.ActivityIDs[dayID]))
		for _, actID := range shape.ActivityIDs[dayID] {
			act, ok := acts[actID]
			if !ok {
				logctx.FromContext(ctx).Debug("activity fragment missing, serving day without it",
					slog.String("trip_id", tripID), slog.String("day_id", dayID),
					slog.String("activity_id", actID))
				continue
			}
			day.Activities = append(day.Activities, *act)
		}
		trip.Days = append(trip.Days, day)
	}
	return trip, nil
}
