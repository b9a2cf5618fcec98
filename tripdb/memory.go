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
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/wayfarerhq/tripcache/internal/idgen"
)

// MemStore is an in-memory Store for tests and local development. It keeps
// the same invariants as the SQL store: durable IDs on insert, dense
// positions after structural changes, explicit cascade on delete.
type MemStore struct {
	mu    sync.Mutex
	ids   idgen.IDGenerator
	now   func() time.Time
	trips map[string]*Trip
}

var _ Store = (*MemStore)(nil)

type MemStoreOption func(*MemStore)

// WithIDGenerator overrides the durable-ID generator.
func WithIDGenerator(g idgen.IDGenerator) MemStoreOption {
	return func(m *MemStore) { m.ids = g }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) MemStoreOption {
	return func(m *MemStore) { m.now = now }
}

func NewMemStore(opts ...MemStoreOption) *MemStore {
	m := &MemStore{
		ids:   idgen.NewULIDGenerator(),
		now:   time.Now,
		trips: make(map[string]*Trip),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SeedTrip creates a trip with the given metadata. A zero ID gets a
// durable one assigned; day counts and positions are normalized.
func (m *MemStore) SeedTrip(meta TripMeta, days ...Day) *Trip {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if meta.ID == "" {
		meta.ID = m.ids.Make(now)
	}
	if meta.Status == "" {
		meta.Status = StatusDraft
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	t := &Trip{TripMeta: meta}
	for i := range days {
		d := days[i]
		if d.ID == "" {
			d.ID = m.ids.Make(now)
		}
		d.TripID = t.ID
		d.Position = i + 1
		for j := range d.Activities {
			a := &d.Activities[j]
			if a.ID == "" {
				a.ID = m.ids.Make(now)
			}
			a.DayID = d.ID
			a.Position = j + 1
			for k := range a.Gems {
				g := &a.Gems[k]
				if g.ID == "" {
					g.ID = m.ids.Make(now)
				}
				g.ActivityID = a.ID
			}
		}
		t.Days = append(t.Days, d)
	}
	t.DayCount = len(t.Days)
	m.trips[t.ID] = t
	return cloneTrip(t)
}

func (m *MemStore) FetchTripTree(_ context.Context, tripID string) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	return cloneTrip(t), nil
}

func (m *MemStore) FetchTripMeta(_ context.Context, tripID string) (*TripMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	meta := t.TripMeta
	meta.CoverKey = cloneStringPtr(t.CoverKey)
	return &meta, nil
}

func (m *MemStore) FetchTripShape(_ context.Context, tripID string) (*TripShape, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	shape := &TripShape{
		TripID:      tripID,
		DayIDs:      make([]string, 0, len(t.Days)),
		ActivityIDs: make(map[string][]string, len(t.Days)),
	}
	for i := range t.Days {
		d := &t.Days[i]
		shape.DayIDs = append(shape.DayIDs, d.ID)
		ids := make([]string, 0, len(d.Activities))
		for j := range d.Activities {
			ids = append(ids, d.Activities[j].ID)
		}
		shape.ActivityIDs[d.ID] = ids
	}
	return shape, nil
}

func (m *MemStore) FetchDay(_ context.Context, dayID string) (*Day, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, d := m.findDay(dayID)
	if d == nil {
		return nil, fmt.Errorf("day %s: %w", dayID, ErrNotFound)
	}
	return cloneDay(d), nil
}

func (m *MemStore) FetchActivity(_ context.Context, activityID string) (*Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, a := m.findActivity(activityID)
	if a == nil {
		return nil, fmt.Errorf("activity %s: %w", activityID, ErrNotFound)
	}
	return cloneActivity(a), nil
}

func (m *MemStore) UpdateTripMeta(_ context.Context, tripID string, patch TripPatch) (*TripMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Summary != nil {
		t.Summary = *patch.Summary
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.PriceCents != nil {
		t.PriceCents = *patch.PriceCents
	}
	if patch.Currency != nil {
		t.Currency = *patch.Currency
	}
	if patch.CoverKey != nil {
		t.CoverKey = cloneStringPtr(*patch.CoverKey)
	}
	t.UpdatedAt = m.now().UTC()
	meta := t.TripMeta
	meta.CoverKey = cloneStringPtr(t.CoverKey)
	return &meta, nil
}

func (m *MemStore) InsertDay(_ context.Context, tripID string, add DayAdd) (*Day, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	d := Day{
		ID:       m.ids.Make(m.now()),
		TripID:   tripID,
		Position: len(t.Days) + 1,
		Title:    add.Title,
		Notes:    add.Notes,
	}
	t.Days = append(t.Days, d)
	t.DayCount = len(t.Days)
	t.UpdatedAt = m.now().UTC()
	return cloneDay(&t.Days[len(t.Days)-1]), nil
}

func (m *MemStore) UpdateDay(_ context.Context, dayID string, patch DayPatch) (*Day, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, d := m.findDay(dayID)
	if d == nil {
		return nil, fmt.Errorf("day %s: %w", dayID, ErrNotFound)
	}
	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.Notes != nil {
		d.Notes = *patch.Notes
	}
	t.UpdatedAt = m.now().UTC()
	return cloneDay(d), nil
}

func (m *MemStore) DeleteDay(_ context.Context, dayID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, d := m.findDay(dayID)
	if d == nil {
		return nil, fmt.Errorf("day %s: %w", dayID, ErrNotFound)
	}
	removed := make([]string, 0, len(d.Activities))
	for i := range d.Activities {
		removed = append(removed, d.Activities[i].ID)
	}
	t.Days = slices.DeleteFunc(t.Days, func(x Day) bool { return x.ID == dayID })
	for i := range t.Days {
		t.Days[i].Position = i + 1
	}
	t.DayCount = len(t.Days)
	t.UpdatedAt = m.now().UTC()
	return removed, nil
}

func (m *MemStore) InsertActivity(_ context.Context, dayID string, add ActivityAdd) (*Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, d := m.findDay(dayID)
	if d == nil {
		return nil, fmt.Errorf("day %s: %w", dayID, ErrNotFound)
	}
	a := Activity{
		ID:          m.ids.Make(m.now()),
		DayID:       dayID,
		Position:    len(d.Activities) + 1,
		Title:       add.Title,
		Description: add.Description,
		Location:    add.Location,
		StartTime:   cloneStringPtr(add.StartTime),
		EndTime:     cloneStringPtr(add.EndTime),
	}
	d.Activities = append(d.Activities, a)
	t.UpdatedAt = m.now().UTC()
	return cloneActivity(&d.Activities[len(d.Activities)-1]), nil
}

func (m *MemStore) UpdateActivity(_ context.Context, activityID string, patch ActivityPatch) (*Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, _, a := m.findActivity(activityID)
	if a == nil {
		return nil, fmt.Errorf("activity %s: %w", activityID, ErrNotFound)
	}
	if patch.Title != nil {
		a.Title = *patch.Title
	}
	if patch.Description != nil {
		a.Description = *patch.Description
	}
	if patch.Location != nil {
		a.Location = *patch.Location
	}
	if patch.StartTime != nil {
		a.StartTime = cloneStringPtr(*patch.StartTime)
	}
	if patch.EndTime != nil {
		a.EndTime = cloneStringPtr(*patch.EndTime)
	}
	t.UpdatedAt = m.now().UTC()
	return cloneActivity(a), nil
}

func (m *MemStore) DeleteActivity(_ context.Context, activityID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, d, a := m.findActivity(activityID)
	if a == nil {
		return "", fmt.Errorf("activity %s: %w", activityID, ErrNotFound)
	}
	d.Activities = slices.DeleteFunc(d.Activities, func(x Activity) bool { return x.ID == activityID })
	for i := range d.Activities {
		d.Activities[i].Position = i + 1
	}
	t.UpdatedAt = m.now().UTC()
	return d.ID, nil
}

func (m *MemStore) InsertGem(_ context.Context, activityID string, add GemAdd) (*Gem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, _, a := m.findActivity(activityID)
	if a == nil {
		return nil, fmt.Errorf("activity %s: %w", activityID, ErrNotFound)
	}
	g := Gem{
		ID:          m.ids.Make(m.now()),
		ActivityID:  activityID,
		Kind:        add.Kind,
		Title:       add.Title,
		Body:        add.Body,
		InsiderNote: cloneStringPtr(add.InsiderNote),
	}
	a.Gems = append(a.Gems, g)
	t.UpdatedAt = m.now().UTC()
	gc := g
	gc.InsiderNote = cloneStringPtr(g.InsiderNote)
	return &gc, nil
}

func (m *MemStore) UpdateGem(_ context.Context, gemID string, patch GemPatch) (*Gem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, g := m.findGem(gemID)
	if g == nil {
		return nil, fmt.Errorf("gem %s: %w", gemID, ErrNotFound)
	}
	if patch.Kind != nil {
		g.Kind = *patch.Kind
	}
	if patch.Title != nil {
		g.Title = *patch.Title
	}
	if patch.Body != nil {
		g.Body = *patch.Body
	}
	if patch.InsiderNote != nil {
		g.InsiderNote = cloneStringPtr(*patch.InsiderNote)
	}
	t.UpdatedAt = m.now().UTC()
	gc := *g
	gc.InsiderNote = cloneStringPtr(g.InsiderNote)
	return &gc, nil
}

func (m *MemStore) DeleteGem(_ context.Context, gemID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		for i := range t.Days {
			d := &t.Days[i]
			for j := range d.Activities {
				a := &d.Activities[j]
				for _, g := range a.Gems {
					if g.ID == gemID {
						a.Gems = slices.DeleteFunc(a.Gems, func(x Gem) bool { return x.ID == gemID })
						t.UpdatedAt = m.now().UTC()
						return a.ID, nil
					}
				}
			}
		}
	}
	return "", fmt.Errorf("gem %s: %w", gemID, ErrNotFound)
}

// callers hold m.mu

func (m *MemStore) findDay(dayID string) (*Trip, *Day) {
	for _, t := range m.trips {
		for i := range t.Days {
			if t.Days[i].ID == dayID {
				return t, &t.Days[i]
			}
		}
	}
	return nil, nil
}

func (m *MemStore) findActivity(activityID string) (*Trip, *Day, *Activity) {
	for _, t := range m.trips {
		for i := range t.Days {
			d := &t.Days[i]
			for j := range d.Activities {
				if d.Activities[j].ID == activityID {
					return t, d, &d.Activities[j]
				}
			}
		}
	}
	return nil, nil, nil
}

func (m *MemStore) findGem(gemID string) (*Trip, *Gem) {
	for _, t := range m.trips {
		for i := range t.Days {
			d := &t.Days[i]
			for j := range d.Activities {
				a := &d.Activities[j]
				for k := range a.Gems {
					if a.Gems[k].ID == gemID {
						return t, &a.Gems[k]
					}
				}
			}
		}
	}
	return nil, nil
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTrip(t *Trip) *Trip {
	c := &Trip{TripMeta: t.TripMeta}
	c.CoverKey = cloneStringPtr(t.CoverKey)
	c.Days = make([]Day, len(t.Days))
	for i := range t.Days {
		c.Days[i] = *cloneDay(&t.Days[i])
	}
	return c
}

func cloneDay(d *Day) *Day {
	c := *d
	c.Activities = make([]Activity, len(d.Activities))
	for i := range d.Activities {
		c.Activities[i] = *cloneActivity(&d.Activities[i])
	}
	return &c
}

func cloneActivity(a *Activity) *Activity {
	c := *a
	c.StartTime = cloneStringPtr(a.StartTime)
	c.EndTime = cloneStringPtr(a.EndTime)
	c.Gems = make([]Gem, len(a.Gems))
	for i, g := range a.Gems {
		g.InsiderNote = cloneStringPtr(g.InsiderNote)
		c.Gems[i] = g
	}
	return &c
}
