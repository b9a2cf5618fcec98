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

// Package tripcache is the interface the page layer consumes: trip reads
// that degrade gracefully through three tiers (whole-trip fast path,
// per-fragment assembly, authoritative store) and writes that go through
// the write-through orchestrator.
package tripcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wayfarerhq/tripcache/internal/assembler"
	"github.com/wayfarerhq/tripcache/internal/fragcache"
	"github.com/wayfarerhq/tripcache/internal/kv"
	"github.com/wayfarerhq/tripcache/internal/shapeindex"
	"github.com/wayfarerhq/tripcache/internal/staleness"
	"github.com/wayfarerhq/tripcache/internal/writethrough"
	"github.com/wayfarerhq/tripcache/tripdb"
)

// ErrNotOwner is returned when a write is attempted by a caller who does
// not own the trip. Rejected before any store or cache mutation.
var ErrNotOwner = errors.New("tripcache: caller does not own trip")

// FullTripKey is the KV key of the whole-trip fast-path entry.
func FullTripKey(tripID string) string {
	return "trip:full:" + tripID
}

// Config aggregates the cache layer's tunables.
type Config struct {
	Fragments fragcache.Config `mapstructure:"fragments"`
	// ShapeTTL is the structure-index TTL.
	ShapeTTL time.Duration `mapstructure:"shape_ttl"`
	// WholeTripTTL is the fast-path entry TTL. Must not exceed MarkerTTL.
	WholeTripTTL time.Duration `mapstructure:"whole_trip_ttl"`
	// MarkerTTL is the staleness-marker TTL.
	MarkerTTL time.Duration `mapstructure:"marker_ttl"`
	// RepopulateTimeout bounds the background cache repopulation that
	// follows a store-fallback read.
	RepopulateTimeout time.Duration `mapstructure:"repopulate_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Fragments:         fragcache.DefaultConfig(),
		ShapeTTL:          shapeindex.DefaultTTL,
		WholeTripTTL:      15 * time.Minute,
		MarkerTTL:         staleness.DefaultMarkerTTL,
		RepopulateTimeout: 30 * time.Second,
	}
}

// Service wires the cache components over one KV store and one
// authoritative store.
type Service struct {
	store  tripdb.Store
	kv     kv.Store
	cfg    Config
	frags  *fragcache.Cache
	shapes *shapeindex.Index
	stale  *staleness.Controller
	asm    *assembler.Assembler
	orch   *writethrough.Orchestrator

	repopWG sync.WaitGroup
}

type Option func(*serviceOptions)

type serviceOptions struct {
	cfg     Config
	metrics *fragcache.Metrics
}

// WithConfig overrides the default tunables.
func WithConfig(cfg Config) Option {
	return func(o *serviceOptions) { o.cfg = cfg }
}

// WithMetrics supplies a shared fragment-cache metrics instance.
func WithMetrics(m *fragcache.Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

func New(store tripdb.Store, kvs kv.Store, opts ...Option) *Service {
	o := &serviceOptions{cfg: DefaultConfig(), metrics: fragcache.NewMetrics()}
	for _, opt := range opts {
		opt(o)
	}
	frags := fragcache.New(kvs,
		fragcache.WithConfig(o.cfg.Fragments),
		fragcache.WithMetrics(o.metrics),
	)
	shapes := shapeindex.New(kvs, store, shapeindex.WithTTL(o.cfg.ShapeTTL))
	stale := staleness.New(kvs, staleness.WithMarkerTTL(o.cfg.MarkerTTL))
	return &Service{
		store:  store,
		kv:     kvs,
		cfg:    o.cfg,
		frags:  frags,
		shapes: shapes,
		stale:  stale,
		asm:    assembler.New(frags, shapes),
		orch:   writethrough.New(store, frags, shapes, stale),
	}
}

// Metrics returns the fragment-cache counters.
func (s *Service) Metrics() fragcache.Snapshot {
	return s.frags.Metrics().Snapshot()
}

// Close waits for in-flight background repopulations to finish. The
// request paths never wait on these; Close exists for orderly shutdown
// and deterministic tests.
func (s *Service) Close() {
	s.repopWG.Wait()
}

// shapeOf derives a trip's shape from a full tree already in hand,
// sparing the store a second round trip during repopulation.
func shapeOf(trip *tripdb.Trip) *tripdb.TripShape {
	shape := &tripdb.TripShape{
		TripID:      trip.ID,
		DayIDs:      make([]string, 0, len(trip.Days)),
		ActivityIDs: make(map[string][]string, len(trip.Days)),
	}
	for i := range trip.Days {
		d := &trip.Days[i]
		shape.DayIDs = append(shape.DayIDs, d.ID)
		ids := make([]string, 0, len(d.Activities))
		for j := range d.Activities {
			ids = append(ids, d.Activities[j].ID)
		}
		shape.ActivityIDs[d.ID] = ids
	}
	return shape
}

// ownerCheck rejects writers who do not own the trip, before anything is
// mutated. Ownership never changes, so a cached metadata fragment is as
// good as a store read.
func (s *Service) ownerCheck(ctx context.Context, callerID, tripID string) error {
	meta, ok := s.frags.GetMeta(ctx, tripID)
	if !ok {
		var err error
		meta, err = s.store.FetchTripMeta(ctx, tripID)
		if err != nil {
			return err
		}
	}
	if meta.OwnerID != callerID {
		return ErrNotOwner
	}
	return nil
}
