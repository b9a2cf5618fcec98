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

// Package staleness tracks one boolean freshness marker per trip. Any
// component write marks the trip stale; the whole-trip fast path consults
// the marker before trusting its payload, and a successful whole-trip
// re-cache marks it fresh again.
package staleness

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wayfarerhq/tripcache/internal/kv"
	"github.com/wayfarerhq/tripcache/internal/logctx"
)

// DefaultMarkerTTL must be at least the whole-trip TTL: the marker may
// only ever expire together with, or after, the entry it guards.
const DefaultMarkerTTL = time.Hour

const (
	staleValue = "1"
	freshValue = "0"
)

// Key returns the KV key for a trip's staleness marker.
func Key(tripID string) string {
	return "trip:stale:" + tripID
}

// Controller reads and writes staleness markers.
type Controller struct {
	kv  kv.Store
	ttl time.Duration
}

type Option func(*Controller)

// WithMarkerTTL overrides the marker TTL.
func WithMarkerTTL(ttl time.Duration) Option {
	return func(c *Controller) { c.ttl = ttl }
}

func New(store kv.Store, opts ...Option) *Controller {
	c := &Controller{kv: store, ttl: DefaultMarkerTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MarkStale flags the trip as stale. Idempotent; marking twice is the
// same as once. The write is best-effort but logged loudly on failure,
// because a lost marker can let the fast path serve a pre-write payload
// until its TTL runs out.
func (c *Controller) MarkStale(ctx context.Context, tripID string) {
	if err := c.kv.Set(ctx, Key(tripID), staleValue, c.ttl); err != nil {
		logctx.FromContext(ctx).Error("failed to mark trip stale",
			slog.String("trip_id", tripID), slog.Any("error", err))
	}
}

// MarkFresh records that the whole-trip entry was just re-cached. Callers
// must mark fresh before writing the whole-trip entry: if a component
// write lands in between, it sets the marker stale again and correctly
// shadows the entry about to be written.
func (c *Controller) MarkFresh(ctx context.Context, tripID string) {
	if err := c.kv.Set(ctx, Key(tripID), freshValue, c.ttl); err != nil {
		logctx.FromContext(ctx).Warn("failed to mark trip fresh",
			slog.String("trip_id", tripID), slog.Any("error", err))
	}
}

// IsStale reports whether the whole-trip fast path may be trusted. An
// absent marker means fresh: the marker outlives the whole-trip entry, so
// if it expired the entry did too. A transport failure means stale:
// when in doubt, re-derive.
func (c *Controller) IsStale(ctx context.Context, tripID string) bool {
	v, err := c.kv.Get(ctx, Key(tripID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false
		}
		logctx.FromContext(ctx).Warn("staleness marker unreadable, assuming stale",
			slog.String("trip_id", tripID), slog.Any("error", err))
		return true
	}
	return v == staleValue
}
