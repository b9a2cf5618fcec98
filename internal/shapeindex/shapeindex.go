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

// Package shapeindex caches the shape of a trip (ordered day IDs and the
// day-to-activity ID map) separately from fragment content, so the
// assembler can judge completeness before fetching anything heavy.
//
// The shape is descriptive: it is rebuilt from the authoritative store
// after structural writes and is never the source of truth for existence.
package shapeindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wayfarerhq/tripcache/internal/kv"
	"github.com/wayfarerhq/tripcache/internal/logctx"
	"github.com/wayfarerhq/tripcache/tripdb"
)

// DefaultTTL is long relative to content TTLs: shape changes only on
// structural writes, which rebuild it anyway.
const DefaultTTL = time.Hour

// Key returns the KV key for a trip's shape.
func Key(tripID string) string {
	return "trip:shape:" + tripID
}

// ShapeSource is the slice of the authoritative store the rebuild needs.
type ShapeSource interface {
	FetchTripShape(ctx context.Context, tripID string) (*tripdb.TripShape, error)
}

// Index caches trip shapes in the KV store.
type Index struct {
	kv     kv.Store
	source ShapeSource
	ttl    time.Duration
}

type Option func(*Index)

// WithTTL overrides the shape TTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Index) { i.ttl = ttl }
}

func New(store kv.Store, source ShapeSource, opts ...Option) *Index {
	i := &Index{kv: store, source: source, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Get returns the cached shape, or false on any miss. Transport failures
// are treated as misses.
func (i *Index) Get(ctx context.Context, tripID string) (*tripdb.TripShape, bool) {
	raw, err := i.kv.Get(ctx, Key(tripID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logctx.FromContext(ctx).Warn("shape read failed, treating as miss",
				slog.String("trip_id", tripID), slog.Any("error", err))
		}
		return nil, false
	}
	var shape tripdb.TripShape
	if err := json.Unmarshal([]byte(raw), &shape); err != nil {
		logctx.FromContext(ctx).Warn("shape entry undecodable, treating as miss",
			slog.String("trip_id", tripID), slog.Any("error", err))
		return nil, false
	}
	return &shape, true
}

// Set caches a shape, best-effort.
func (i *Index) Set(ctx context.Context, shape *tripdb.TripShape) {
	raw, err := json.Marshal(shape)
	if err != nil {
		logctx.FromContext(ctx).Error("shape not encodable, cache write dropped",
			slog.String("trip_id", shape.TripID), slog.Any("error", err))
		return
	}
	if err := i.kv.Set(ctx, Key(shape.TripID), string(raw), i.ttl); err != nil {
		logctx.FromContext(ctx).Warn("shape cache write failed",
			slog.String("trip_id", shape.TripID), slog.Any("error", err))
	}
}

// Rebuild reads the current ID graph from the authoritative store and
// overwrites the cached shape. Invoked after structural writes only;
// content edits never move IDs and must not pay for a rebuild.
//
// A store failure is returned (the shape would otherwise go quietly
// stale); a cache write failure is swallowed as usual.
func (i *Index) Rebuild(ctx context.Context, tripID string) (*tripdb.TripShape, error) {
	shape, err := i.source.FetchTripShape(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("rebuild shape of trip %s: %w", tripID, err)
	}
	i.Set(ctx, shape)
	return shape, nil
}
