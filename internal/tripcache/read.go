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
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/wayfarerhq/tripcache/internal/kv"
	"github.com/wayfarerhq/tripcache/internal/logctx"
	"github.com/wayfarerhq/tripcache/tripdb"
)

// LoadTrip returns the full trip. Read tiers, fastest first:
//
//  1. the whole-trip entry, if present and not marked stale
//  2. assembly from shape + fragments
//  3. the authoritative store, repopulating every cache tier in the
//     background; the response never waits on the repopulation
//
// As long as the store is reachable, reads degrade to slower, never to
// absent.
func (s *Service) LoadTrip(ctx context.Context, tripID string) (*tripdb.Trip, error) {
	ctx = logctx.WithTrip(ctx, tripID)
	log := logctx.FromContext(ctx)

	// The staleness check comes before trusting the payload: a marker set
	// by a component write turns an unexpired fast-path hit into a miss.
	if !s.stale.IsStale(ctx, tripID) {
		if trip, ok := s.getFullTrip(ctx, tripID); ok {
			return trip, nil
		}
	}

	if trip, err := s.asm.Assemble(ctx, tripID); err == nil {
		s.cacheFullTrip(ctx, trip)
		return trip, nil
	} else {
		log.Debug("assembly failed, falling back to store", slog.Any("error", err))
	}

	trip, err := s.store.FetchTripTree(ctx, tripID)
	if err != nil {
		return nil, err
	}
	s.repopulateAsync(ctx, trip)
	return trip, nil
}

// LoadTripMeta returns trip metadata only, read-through.
func (s *Service) LoadTripMeta(ctx context.Context, tripID string) (*tripdb.TripMeta, error) {
	ctx = logctx.WithTrip(ctx, tripID)
	if meta, ok := s.frags.GetMeta(ctx, tripID); ok {
		return meta, nil
	}
	meta, err := s.store.FetchTripMeta(ctx, tripID)
	if err != nil {
		return nil, err
	}
	s.frags.SetMeta(ctx, meta)
	return meta, nil
}

// LoadDay returns one day with its activities. It first tries a partial
// assembly (day fragment + shape + activity fragments); if any piece is
// missing it reads the day from the store and warms the fragments.
func (s *Service) LoadDay(ctx context.Context, dayID string) (*tripdb.Day, error) {
	if day, ok := s.assembleDay(ctx, dayID); ok {
		return day, nil
	}
	day, err := s.store.FetchDay(ctx, dayID)
	if err != nil {
		return nil, err
	}
	s.warmDay(ctx, day)
	return day, nil
}

// PrefetchDay warms the caches for a day the user is about to open.
// Best-effort: failures are logged, never returned.
func (s *Service) PrefetchDay(ctx context.Context, dayID, tripID string) {
	ctx = logctx.WithTrip(ctx, tripID)
	day, err := s.store.FetchDay(ctx, dayID)
	if err != nil {
		logctx.FromContext(ctx).Warn("day prefetch failed",
			slog.String("day_id", dayID), slog.Any("error", err))
		return
	}
	s.warmDay(ctx, day)
}

func (s *Service) assembleDay(ctx context.Context, dayID string) (*tripdb.Day, bool) {
	day, ok := s.frags.GetDay(ctx, dayID)
	if !ok {
		return nil, false
	}
	shape, ok := s.shapes.Get(ctx, day.TripID)
	if !ok {
		return nil, false
	}
	actIDs, ok := shape.ActivityIDs[dayID]
	if !ok {
		// shape predates this day; treat as miss rather than serve an
		// activity list of unknown completeness
		return nil, false
	}
	acts := s.frags.GetActivities(ctx, actIDs)
	if len(acts) != len(actIDs) {
		return nil, false
	}
	day.Activities = make([]tripdb.Activity, 0, len(actIDs))
	for _, id := range actIDs {
		day.Activities = append(day.Activities, *acts[id])
	}
	return day, true
}

func (s *Service) warmDay(ctx context.Context, day *tripdb.Day) {
	s.frags.SetDay(ctx, day, false)
	for i := range day.Activities {
		s.frags.SetActivity(ctx, &day.Activities[i], false)
	}
}

func (s *Service) getFullTrip(ctx context.Context, tripID string) (*tripdb.Trip, bool) {
	raw, err := s.kv.Get(ctx, FullTripKey(tripID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logctx.FromContext(ctx).Warn("whole-trip read failed, treating as miss",
				slog.Any("error", err))
		}
		return nil, false
	}
	var trip tripdb.Trip
	if err := json.Unmarshal([]byte(raw), &trip); err != nil {
		logctx.FromContext(ctx).Warn("whole-trip entry undecodable, treating as miss",
			slog.Any("error", err))
		return nil, false
	}
	return &trip, true
}

// cacheFullTrip re-caches the fast-path entry. Fresh is marked first: if
// a component write slips in between, it re-marks stale and correctly
// shadows the payload written here.
func (s *Service) cacheFullTrip(ctx context.Context, trip *tripdb.Trip) {
	s.stale.MarkFresh(ctx, trip.ID)
	raw, err := json.Marshal(trip)
	if err != nil {
		logctx.FromContext(ctx).Error("trip not encodable, whole-trip write dropped",
			slog.Any("error", err))
		return
	}
	if err := s.kv.Set(ctx, FullTripKey(trip.ID), string(raw), s.cfg.WholeTripTTL); err != nil {
		logctx.FromContext(ctx).Warn("whole-trip cache write failed", slog.Any("error", err))
	}
}

// repopulateAsync rebuilds every cache tier from an authoritative read,
// off the request path. Fire-and-forget: the caller already has its
// response, so failures here are logged and left to the next read miss.
func (s *Service) repopulateAsync(ctx context.Context, trip *tripdb.Trip) {
	bg := context.WithoutCancel(ctx)
	s.repopWG.Add(1)
	go func() {
		defer s.repopWG.Done()
		bg, cancel := context.WithTimeout(bg, s.cfg.RepopulateTimeout)
		defer cancel()

		s.frags.SetMeta(bg, &trip.TripMeta)
		for i := range trip.Days {
			s.warmDay(bg, &trip.Days[i])
		}
		s.shapes.Set(bg, shapeOf(trip))
		s.cacheFullTrip(bg, trip)
	}()
}
