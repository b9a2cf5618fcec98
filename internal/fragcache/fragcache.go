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

// Package fragcache stores individual trip fragments (metadata, days,
// activities) in the remote KV store, each under its own key and TTL
// class.
//
// Reads fail open: a transport error is a miss, which forces the caller
// back to the authoritative store. Writes are best-effort: a failed cache
// write is logged and swallowed, never surfaced to the caller whose save
// already succeeded.
package fragcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wayfarerhq/tripcache/internal/kv"
	"github.com/wayfarerhq/tripcache/internal/logctx"
	"github.com/wayfarerhq/tripcache/tripdb"
)

// Kind names a fragment kind. It is part of the cache key, so renaming a
// kind invalidates every entry of that kind.
type Kind string

const (
	KindMeta     Kind = "meta"
	KindDay      Kind = "day"
	KindActivity Kind = "activity"
)

// Key returns the KV key for a fragment.
func Key(kind Kind, id string) string {
	return "trip:" + string(kind) + ":" + id
}

// fanOutLimit bounds concurrent KV requests per batch read.
const fanOutLimit = 16

// Config holds the TTL classes. ActiveEditTTL applies to day and activity
// fragments written mid-edit; StructuralTTL to the same fragments at
// rest; MetadataTTL to trip metadata.
type Config struct {
	MetadataTTL   time.Duration `mapstructure:"metadata_ttl"`
	StructuralTTL time.Duration `mapstructure:"structural_ttl"`
	ActiveEditTTL time.Duration `mapstructure:"active_edit_ttl"`
}

func DefaultConfig() Config {
	return Config{
		MetadataTTL:   time.Hour,
		StructuralTTL: 30 * time.Minute,
		ActiveEditTTL: 5 * time.Minute,
	}
}

// Cache is the component cache over one KV store.
type Cache struct {
	kv      kv.Store
	cfg     Config
	metrics *Metrics
}

type Option func(*Cache)

// WithConfig overrides the TTL classes.
func WithConfig(cfg Config) Option {
	return func(c *Cache) { c.cfg = cfg }
}

// WithMetrics supplies a shared Metrics instance.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func New(store kv.Store, opts ...Option) *Cache {
	c := &Cache{
		kv:      store,
		cfg:     DefaultConfig(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metrics returns the cache's counter set.
func (c *Cache) Metrics() *Metrics {
	return c.metrics
}

func (c *Cache) structuralTTL(activeEdit bool) time.Duration {
	if activeEdit {
		return c.cfg.ActiveEditTTL
	}
	return c.cfg.StructuralTTL
}

// GetMeta returns the cached trip metadata, or false on any miss.
func (c *Cache) GetMeta(ctx context.Context, tripID string) (*tripdb.TripMeta, bool) {
	var m tripdb.TripMeta
	if !c.get(ctx, KindMeta, tripID, &m) {
		return nil, false
	}
	return &m, true
}

// SetMeta caches trip metadata under the metadata TTL class.
func (c *Cache) SetMeta(ctx context.Context, m *tripdb.TripMeta) {
	c.set(ctx, KindMeta, m.ID, m, c.cfg.MetadataTTL)
}

// DeleteMeta evicts the metadata fragment.
func (c *Cache) DeleteMeta(ctx context.Context, tripID string) {
	c.delete(ctx, KindMeta, tripID)
}

// GetDay returns the cached day fragment, or false on any miss.
func (c *Cache) GetDay(ctx context.Context, dayID string) (*tripdb.Day, bool) {
	var d tripdb.Day
	if !c.get(ctx, KindDay, dayID, &d) {
		return nil, false
	}
	return &d, true
}

// SetDay caches a day fragment. activeEdit selects the short TTL class
// for fragments under active modification. Activities are stripped
// before caching: they are fragments of their own, and an embedded copy
// would go stale the moment one of them is refreshed.
func (c *Cache) SetDay(ctx context.Context, d *tripdb.Day, activeEdit bool) {
	scalar := *d
	scalar.Activities = nil
	c.set(ctx, KindDay, d.ID, &scalar, c.structuralTTL(activeEdit))
}

// DeleteDay evicts a day fragment.
func (c *Cache) DeleteDay(ctx context.Context, dayID string) {
	c.delete(ctx, KindDay, dayID)
}

// GetActivity returns the cached activity fragment, or false on any miss.
func (c *Cache) GetActivity(ctx context.Context, activityID string) (*tripdb.Activity, bool) {
	var a tripdb.Activity
	if !c.get(ctx, KindActivity, activityID, &a) {
		return nil, false
	}
	return &a, true
}

// SetActivity caches an activity fragment (gems included).
func (c *Cache) SetActivity(ctx context.Context, a *tripdb.Activity, activeEdit bool) {
	c.set(ctx, KindActivity, a.ID, a, c.structuralTTL(activeEdit))
}

// DeleteActivity evicts an activity fragment.
func (c *Cache) DeleteActivity(ctx context.Context, activityID string) {
	c.delete(ctx, KindActivity, activityID)
}

// GetDays fetches many day fragments concurrently. Missing or failed IDs
// are simply absent from the result; the caller decides whether a partial
// result is acceptable.
func (c *Cache) GetDays(ctx context.Context, dayIDs []string) map[string]*tripdb.Day {
	out := make(map[string]*tripdb.Day, len(dayIDs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, id := range dayIDs {
		g.Go(func() error {
			if d, ok := c.GetDay(gctx, id); ok {
				mu.Lock()
				out[id] = d
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// GetActivities fetches many activity fragments concurrently, with the
// same partial-result semantics as GetDays.
func (c *Cache) GetActivities(ctx context.Context, activityIDs []string) map[string]*tripdb.Activity {
	out := make(map[string]*tripdb.Activity, len(activityIDs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, id := range activityIDs {
		g.Go(func() error {
			if a, ok := c.GetActivity(gctx, id); ok {
				mu.Lock()
				out[id] = a
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Cache) get(ctx context.Context, kind Kind, id string, dst any) bool {
	raw, err := c.kv.Get(ctx, Key(kind, id))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logctx.FromContext(ctx).Warn("fragment cache read failed, treating as miss",
				slog.String("kind", string(kind)), slog.String("id", id), slog.Any("error", err))
		}
		c.metrics.miss(ctx, kind)
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		logctx.FromContext(ctx).Warn("fragment cache entry undecodable, treating as miss",
			slog.String("kind", string(kind)), slog.String("id", id), slog.Any("error", err))
		c.metrics.miss(ctx, kind)
		return false
	}
	c.metrics.hit(ctx, kind)
	return true
}

func (c *Cache) set(ctx context.Context, kind Kind, id string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		logctx.FromContext(ctx).Error("fragment not encodable, cache write dropped",
			slog.String("kind", string(kind)), slog.String("id", id), slog.Any("error", err))
		return
	}
	if err := c.kv.Set(ctx, Key(kind, id), string(raw), ttl); err != nil {
		logctx.FromContext(ctx).Warn("fragment cache write failed",
			slog.String("kind", string(kind)), slog.String("id", id), slog.Any("error", err))
		return
	}
	c.metrics.write(ctx, kind)
}

func (c *Cache) delete(ctx context.Context, kind Kind, id string) {
	if err := c.kv.Delete(ctx, Key(kind, id)); err != nil {
		logctx.FromContext(ctx).Warn("fragment cache eviction failed",
			slog.String("kind", string(kind)), slog.String("id", id), slog.Any("error", err))
		return
	}
	c.metrics.invalidate(ctx, kind)
}
