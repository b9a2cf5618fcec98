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

package idgen

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestULIDGenerator_MonotonicWithinMillisecond(t *testing.T) {
	g := NewULIDGenerator()
	now := time.Now()

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = g.Make(now)
	}

	assert.True(t, sort.StringsAreSorted(ids), "ids minted in one millisecond must sort in mint order")

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, len(ids))
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("d")
	assert.Equal(t, "d1", g.Make(time.Now()))
	assert.Equal(t, "d2", g.Make(time.Now()))
	assert.Equal(t, "d3", g.Make(time.Now()))
}
