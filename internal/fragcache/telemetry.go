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
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	hitCounter        metric.Int64Counter
	missCounter       metric.Int64Counter
	writeCounter      metric.Int64Counter
	invalidateCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/wayfarerhq/tripcache/internal/fragcache")

	var err error

	hitCounter, err = meter.Int64Counter(
		"tripcache.fragment.hits",
		metric.WithDescription("Number of fragment cache hits by kind"),
	)
	if err != nil {
		log.Fatalf("failed to create fragment.hits counter: %v", err)
	}

	missCounter, err = meter.Int64Counter(
		"tripcache.fragment.misses",
		metric.WithDescription("Number of fragment cache misses by kind, transport failures included"),
	)
	if err != nil {
		log.Fatalf("failed to create fragment.misses counter: %v", err)
	}

	writeCounter, err = meter.Int64Counter(
		"tripcache.fragment.writes",
		metric.WithDescription("Number of fragment cache writes by kind"),
	)
	if err != nil {
		log.Fatalf("failed to create fragment.writes counter: %v", err)
	}

	invalidateCounter, err = meter.Int64Counter(
		"tripcache.fragment.invalidations",
		metric.WithDescription("Number of fragment cache evictions by kind"),
	)
	if err != nil {
		log.Fatalf("failed to create fragment.invalidations counter: %v", err)
	}
}

func recordKind(ctx context.Context, c metric.Int64Counter, kind Kind) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
