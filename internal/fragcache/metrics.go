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
	"sync/atomic"
)

// Metrics counts cache activity for one Cache instance. Each instance
// owns its counters, so tests and multi-tenant setups stay isolated; the
// package-level otel counters aggregate across instances.
type Metrics struct {
	hits          atomic.Int64
	misses        atomic.Int64
	writes        atomic.Int64
	invalidations atomic.Int64
}

// Snapshot is a point-in-time read of a Metrics.
type Snapshot struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Writes        int64 `json:"writes"`
	Invalidations int64 `json:"invalidations"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) hit(ctx context.Context, kind Kind) {
	m.hits.Add(1)
	recordKind(ctx, hitCounter, kind)
}

func (m *Metrics) miss(ctx context.Context, kind Kind) {
	m.misses.Add(1)
	recordKind(ctx, missCounter, kind)
}

func (m *Metrics) write(ctx context.Context, kind Kind) {
	m.writes.Add(1)
	recordKind(ctx, writeCounter, kind)
}

func (m *Metrics) invalidate(ctx context.Context, kind Kind) {
	m.invalidations.Add(1)
	recordKind(ctx, invalidateCounter, kind)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		Writes:        m.writes.Load(),
		Invalidations: m.invalidations.Load(),
	}
}
