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

package tripdb

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("tripdb: not found")

// Store is the authoritative-store contract the cache layer consumes.
//
// Cascade is an explicit part of this contract, not an assumption about
// the underlying schema: DeleteDay removes the day's activities and their
// gems, DeleteActivity removes its gems, and both report the removed
// child activity IDs so callers can evict per-fragment cache entries.
// Deletes also renumber sibling positions so they stay dense 1..N.
type Store interface {
	// FetchTripTree returns the full trip: days in position order, each
	// with its activities in position order, each with its gems.
	FetchTripTree(ctx context.Context, tripID string) (*Trip, error)
	// FetchTripMeta returns trip scalar fields only.
	FetchTripMeta(ctx context.Context, tripID string) (*TripMeta, error)
	// FetchTripShape returns the ID graph only, no content.
	FetchTripShape(ctx context.Context, tripID string) (*TripShape, error)
	// FetchDay returns one day with activities and gems.
	FetchDay(ctx context.Context, dayID string) (*Day, error)
	// FetchActivity returns one activity with gems.
	FetchActivity(ctx context.Context, activityID string) (*Activity, error)

	// UpdateTripMeta applies a patch and returns the updated metadata.
	UpdateTripMeta(ctx context.Context, tripID string, patch TripPatch) (*TripMeta, error)

	// InsertDay appends a day to the trip and assigns its durable ID and
	// position.
	InsertDay(ctx context.Context, tripID string, add DayAdd) (*Day, error)
	// UpdateDay applies a patch and returns the updated day (with
	// activities).
	UpdateDay(ctx context.Context, dayID string, patch DayPatch) (*Day, error)
	// DeleteDay removes the day, its activities and their gems, and
	// returns the IDs of the removed activities.
	DeleteDay(ctx context.Context, dayID string) (removedActivityIDs []string, err error)

	// InsertActivity appends an activity to the day.
	InsertActivity(ctx context.Context, dayID string, add ActivityAdd) (*Activity, error)
	// UpdateActivity applies a patch and returns the updated activity
	// (with gems).
	UpdateActivity(ctx context.Context, activityID string, patch ActivityPatch) (*Activity, error)
	// DeleteActivity removes the activity and its gems, and returns the
	// parent day ID so sibling fragments can be refreshed after the
	// renumber.
	DeleteActivity(ctx context.Context, activityID string) (dayID string, err error)

	// InsertGem appends a gem to the activity.
	InsertGem(ctx context.Context, activityID string, add GemAdd) (*Gem, error)
	// UpdateGem applies a patch and returns the updated gem.
	UpdateGem(ctx context.Context, gemID string, patch GemPatch) (*Gem, error)
	// DeleteGem removes the gem and returns its parent activity ID so the
	// activity fragment can be refreshed.
	DeleteGem(ctx context.Context, gemID string) (activityID string, err error)
}
