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

// Package tripdb holds the trip domain model and the authoritative-store
// contract the cache layer sits in front of. The store is the single
// writer of record; everything the cache holds is a mirror of rows owned
// by this package's Store implementations.
package tripdb

import "time"

// TripStatus is the publication state of a trip.
type TripStatus string

const (
	StatusDraft     TripStatus = "draft"
	StatusPublished TripStatus = "published"
	StatusArchived  TripStatus = "archived"
)

// TripMeta carries the scalar fields of a trip, without its days. This is
// the "metadata" fragment: it is cached on its own so the editor header
// and marketplace cards can render without loading the itinerary.
type TripMeta struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Title      string     `json:"title"`
	Summary    string     `json:"summary"`
	Status     TripStatus `json:"status"`
	PriceCents int64      `json:"price_cents"`
	Currency   string     `json:"currency"`
	CoverKey   *string    `json:"cover_key,omitempty"`
	DayCount   int        `json:"day_count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Trip is the aggregate root: metadata plus the ordered itinerary.
type Trip struct {
	TripMeta
	Days []Day `json:"days"`
}

// Day is an ordered child of a trip. Position is 1-based and dense: after
// any structural change the store renumbers so positions are exactly 1..N.
type Day struct {
	ID         string     `json:"id"`
	TripID     string     `json:"trip_id"`
	Position   int        `json:"position"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes"`
	Activities []Activity `json:"activities"`
}

// Activity is an ordered child of a day. Start and end are optional
// wall-clock times in "15:04" form; nil means unscheduled.
type Activity struct {
	ID          string  `json:"id"`
	DayID       string  `json:"day_id"`
	Position    int     `json:"position"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
	Gems        []Gem   `json:"gems"`
}

// GemKind classifies a gem.
type GemKind string

const (
	GemTip     GemKind = "tip"
	GemWarning GemKind = "warning"
	GemInsider GemKind = "insider"
)

// Gem is a leaf annotation on an activity. Gems are not cached on their
// own; they travel inside their parent activity fragment.
type Gem struct {
	ID          string  `json:"id"`
	ActivityID  string  `json:"activity_id"`
	Kind        GemKind `json:"kind"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	InsiderNote *string `json:"insider_note,omitempty"`
}

// TripShape is the ID graph of a trip: ordered day IDs and, per day, the
// ordered activity IDs. It is descriptive only: rebuilt from the store
// after structural writes, never consulted for existence.
type TripShape struct {
	TripID      string              `json:"trip_id"`
	DayIDs      []string            `json:"day_ids"`
	ActivityIDs map[string][]string `json:"activity_ids"`
}

// ActivityCount returns the total activity count across all days.
func (s *TripShape) ActivityCount() int {
	n := 0
	for _, ids := range s.ActivityIDs {
		n += len(ids)
	}
	return n
}
