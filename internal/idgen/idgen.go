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

// Package idgen mints identifiers. Durable entity IDs are ULIDs, so they
// sort by creation time; that matters for gems, whose listing order is
// "stable but unordered" and falls back to ID order.
package idgen

import (
	crand "crypto/rand"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator mints one identifier for the given timestamp.
type IDGenerator interface {
	Make(t time.Time) string
}

// ULIDGenerator mints monotonic ULIDs: IDs minted within the same
// millisecond still sort in mint order.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var _ IDGenerator = (*ULIDGenerator)(nil)

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(crand.Reader, 0),
	}
}

func (u *ULIDGenerator) Make(t time.Time) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), u.entropy).String()
}

// SequenceGenerator mints "p1", "p2", ... from a fixed prefix. Test use
// only, where assertions want predictable IDs.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

var _ IDGenerator = (*SequenceGenerator)(nil)

func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix, next: 1}
}

func (s *SequenceGenerator) Make(_ time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.prefix + strconv.Itoa(s.next)
	s.next++
	return id
}
