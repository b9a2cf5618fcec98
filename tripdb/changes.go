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

// Patch types use pointer fields: nil means "leave alone". A non-nil
// pointer to a nil-able field (CoverKey, StartTime, ...) carries the new
// value, which may itself be nil to clear the field, hence the double
// pointer on those.

// TripPatch updates trip scalar fields.
type TripPatch struct {
	Title      *string     `json:"title,omitempty"`
	Summary    *string     `json:"summary,omitempty"`
	Status     *TripStatus `json:"status,omitempty"`
	PriceCents *int64      `json:"price_cents,omitempty"`
	Currency   *string     `json:"currency,omitempty"`
	CoverKey   **string    `json:"cover_key,omitempty"`
}

// DayPatch updates day scalar fields.
type DayPatch struct {
	Title *string `json:"title,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

// ActivityPatch updates activity scalar fields.
type ActivityPatch struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Location    *string  `json:"location,omitempty"`
	StartTime   **string `json:"start_time,omitempty"`
	EndTime     **string `json:"end_time,omitempty"`
}

// GemPatch updates gem scalar fields.
type GemPatch struct {
	Kind        *GemKind `json:"kind,omitempty"`
	Title       *string  `json:"title,omitempty"`
	Body        *string  `json:"body,omitempty"`
	InsiderNote **string `json:"insider_note,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p *TripPatch) IsZero() bool {
	return p == nil || (p.Title == nil && p.Summary == nil && p.Status == nil &&
		p.PriceCents == nil && p.Currency == nil && p.CoverKey == nil)
}

// DayAdd creates a day at the end of the trip. Ref is the editor's
// provisional identifier; activity adds in the same bundle reference the
// new day through it.
type DayAdd struct {
	Ref   ID     `json:"ref"`
	Title string `json:"title"`
	Notes string `json:"notes"`
}

// ActivityAdd creates an activity at the end of a day. Day may be durable
// or a provisional reference to a DayAdd in the same bundle.
type ActivityAdd struct {
	Ref         ID      `json:"ref"`
	Day         ID      `json:"day"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
}

// GemAdd creates a gem on an activity. Activity may be provisional.
type GemAdd struct {
	Ref         ID      `json:"ref"`
	Activity    ID      `json:"activity"`
	Kind        GemKind `json:"kind"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	InsiderNote *string `json:"insider_note,omitempty"`
}

// DayUpdate patches an existing (or just-added) day.
type DayUpdate struct {
	ID    ID       `json:"id"`
	Patch DayPatch `json:"patch"`
}

// ActivityUpdate patches an existing (or just-added) activity.
type ActivityUpdate struct {
	ID    ID            `json:"id"`
	Patch ActivityPatch `json:"patch"`
}

// GemUpdate patches an existing (or just-added) gem.
type GemUpdate struct {
	ID    ID       `json:"id"`
	Patch GemPatch `json:"patch"`
}

// ChangeBundle is one editor save: everything that changed since the last
// save, across all fragment kinds. The orchestrator persists adds first
// (resolving provisional references top-down), then updates, then
// deletes, days before activities before gems for adds and the reverse
// cascade order for deletes.
type ChangeBundle struct {
	Meta *TripPatch `json:"meta,omitempty"`

	AddedDays   []DayAdd    `json:"added_days,omitempty"`
	UpdatedDays []DayUpdate `json:"updated_days,omitempty"`
	DeletedDays []ID        `json:"deleted_days,omitempty"`

	AddedActivities   []ActivityAdd    `json:"added_activities,omitempty"`
	UpdatedActivities []ActivityUpdate `json:"updated_activities,omitempty"`
	DeletedActivities []ID             `json:"deleted_activities,omitempty"`

	AddedGems   []GemAdd    `json:"added_gems,omitempty"`
	UpdatedGems []GemUpdate `json:"updated_gems,omitempty"`
	DeletedGems []ID        `json:"deleted_gems,omitempty"`
}

// Empty reports whether the bundle changes nothing at all.
func (b *ChangeBundle) Empty() bool {
	return b.Meta.IsZero() &&
		len(b.AddedDays) == 0 && len(b.UpdatedDays) == 0 && len(b.DeletedDays) == 0 &&
		len(b.AddedActivities) == 0 && len(b.UpdatedActivities) == 0 && len(b.DeletedActivities) == 0 &&
		len(b.AddedGems) == 0 && len(b.UpdatedGems) == 0 && len(b.DeletedGems) == 0
}

// Structural reports whether the bundle changes the trip's shape. Gem
// changes are content-only: gems live inside their activity fragment and
// never appear in the structure index.
func (b *ChangeBundle) Structural() bool {
	return len(b.AddedDays) > 0 || len(b.DeletedDays) > 0 ||
		len(b.AddedActivities) > 0 || len(b.DeletedActivities) > 0
}
