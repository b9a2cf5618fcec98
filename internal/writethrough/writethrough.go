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

// Package writethrough applies editor change bundles to the authoritative
// store and propagates them into the caches.
//
// The store write is the durability boundary. Provisional references are
// validated up front, so a bundle that cannot resolve is rejected before
// anything is persisted. Persistence then runs in reference order (adds
// before updates before deletes, days before activities before gems,
// deletes in child-first cascade order). The store calls are individual,
// so a failure mid-bundle leaves the earlier writes committed: the error
// is returned, and whatever did land is still propagated and the trip
// marked stale, keeping the caches off the pre-write payload. Cache
// propagation is best-effort and non-transactional: failures are logged
// and self-heal on the next read miss.
//
// There is no per-trip lock. Concurrent bundles race last-write-wins at
// the store, and the unconditional stale mark guarantees the next
// whole-trip read re-derives instead of serving either racer's snapshot.
package writethrough

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/wayfarerhq/tripcache/internal/fragcache"
	"github.com/wayfarerhq/tripcache/internal/logctx"
	"github.com/wayfarerhq/tripcache/internal/shapeindex"
	"github.com/wayfarerhq/tripcache/internal/staleness"
	"github.com/wayfarerhq/tripcache/tripdb"
)

// ErrUnresolvedRef is returned when a bundle references a provisional ID
// that no add in the same bundle defines.
var ErrUnresolvedRef = errors.New("writethrough: unresolved provisional reference")

// Orchestrator coordinates store writes with cache propagation.
type Orchestrator struct {
	store  tripdb.Store
	frags  *fragcache.Cache
	shapes *shapeindex.Index
	stale  *staleness.Controller
}

func New(store tripdb.Store, frags *fragcache.Cache, shapes *shapeindex.Index, stale *staleness.Controller) *Orchestrator {
	return &Orchestrator{store: store, frags: frags, shapes: shapes, stale: stale}
}

// applied collects what the persistence phase produced, so propagation
// can refresh exactly the affected fragments.
type applied struct {
	meta       *tripdb.TripMeta
	days       []*tripdb.Day
	activities []*tripdb.Activity

	// activity fragments to re-read because a gem under them changed
	gemTouched map[string]struct{}
	// days whose surviving activities were renumbered by a delete
	dayTouched map[string]struct{}

	deletedDayIDs      []string
	deletedActivityIDs []string

	// structural records whether any applied op moved the ID graph,
	// dayCountChanged whether day_count moved with it
	structural      bool
	dayCountChanged bool

	// provisional value -> durable ID
	remap map[string]string
}

// dirty reports whether anything reached the store, including a partial
// application cut short by a failure.
func (r *applied) dirty() bool {
	return r.meta != nil || len(r.days) > 0 || len(r.activities) > 0 ||
		len(r.gemTouched) > 0 || len(r.deletedDayIDs) > 0 || len(r.deletedActivityIDs) > 0
}

// Remap resolves a bundle identifier to its durable value, consulting the
// provisional remap built up while persisting adds.
func (r *applied) resolve(id tripdb.ID) (string, error) {
	if !id.IsProvisional() {
		return id.Value, nil
	}
	durable, ok := r.remap[id.Value]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedRef, id)
	}
	return durable, nil
}

// Apply persists a change bundle, then propagates it to the component
// cache, the shape index, and the staleness marker. Returns the
// provisional-to-durable ID mapping for the bundle's adds.
func (o *Orchestrator) Apply(ctx context.Context, tripID string, b *tripdb.ChangeBundle) (map[string]string, error) {
	if b == nil || b.Empty() {
		return nil, nil
	}
	ctx = logctx.WithTrip(ctx, tripID)

	if err := validateRefs(b); err != nil {
		return nil, err
	}

	res, err := o.persist(ctx, tripID, b)
	if err != nil {
		// The store failed mid-bundle; earlier writes are committed.
		// Propagate those so the caches do not keep describing a state
		// the store has already moved past.
		if res.dirty() {
			o.propagate(ctx, tripID, res)
		}
		return nil, err
	}
	o.propagate(ctx, tripID, res)
	return res.remap, nil
}

// validateRefs checks every provisional reference in the bundle against
// the adds that define them. Rejecting a dangling reference here, before
// the first store call, keeps a malformed bundle from half-applying.
func validateRefs(b *tripdb.ChangeBundle) error {
	defined := make(map[string]struct{})
	for _, add := range b.AddedDays {
		if add.Ref.IsProvisional() {
			defined[add.Ref.Value] = struct{}{}
		}
	}
	for _, add := range b.AddedActivities {
		if add.Ref.IsProvisional() {
			defined[add.Ref.Value] = struct{}{}
		}
	}
	for _, add := range b.AddedGems {
		if add.Ref.IsProvisional() {
			defined[add.Ref.Value] = struct{}{}
		}
	}
	check := func(id tripdb.ID) error {
		if !id.IsProvisional() {
			return nil
		}
		if _, ok := defined[id.Value]; !ok {
			return fmt.Errorf("%w: %s", ErrUnresolvedRef, id)
		}
		return nil
	}
	for _, add := range b.AddedActivities {
		if err := check(add.Day); err != nil {
			return err
		}
	}
	for _, add := range b.AddedGems {
		if err := check(add.Activity); err != nil {
			return err
		}
	}
	for _, upd := range b.UpdatedDays {
		if err := check(upd.ID); err != nil {
			return err
		}
	}
	for _, upd := range b.UpdatedActivities {
		if err := check(upd.ID); err != nil {
			return err
		}
	}
	for _, upd := range b.UpdatedGems {
		if err := check(upd.ID); err != nil {
			return err
		}
	}
	for _, id := range b.DeletedDays {
		if err := check(id); err != nil {
			return err
		}
	}
	for _, id := range b.DeletedActivities {
		if err := check(id); err != nil {
			return err
		}
	}
	for _, id := range b.DeletedGems {
		if err := check(id); err != nil {
			return err
		}
	}
	return nil
}

// persist applies the bundle to the store. On error the returned applied
// still describes everything that committed before the failure.
func (o *Orchestrator) persist(ctx context.Context, tripID string, b *tripdb.ChangeBundle) (*applied, error) {
	res := &applied{
		gemTouched: make(map[string]struct{}),
		dayTouched: make(map[string]struct{}),
		remap:      make(map[string]string),
	}

	if !b.Meta.IsZero() {
		meta, err := o.store.UpdateTripMeta(ctx, tripID, *b.Meta)
		if err != nil {
			return res, fmt.Errorf("persist metadata: %w", err)
		}
		res.meta = meta
	}

	// adds, parent kind first so children can resolve their references
	for _, add := range b.AddedDays {
		day, err := o.store.InsertDay(ctx, tripID, add)
		if err != nil {
			return res, fmt.Errorf("persist day add %s: %w", add.Ref, err)
		}
		if add.Ref.IsProvisional() {
			res.remap[add.Ref.Value] = day.ID
		}
		res.days = append(res.days, day)
		res.structural = true
		res.dayCountChanged = true
	}
	for _, add := range b.AddedActivities {
		dayID, err := res.resolve(add.Day)
		if err != nil {
			return res, err
		}
		act, err := o.store.InsertActivity(ctx, dayID, add)
		if err != nil {
			return res, fmt.Errorf("persist activity add %s: %w", add.Ref, err)
		}
		if add.Ref.IsProvisional() {
			res.remap[add.Ref.Value] = act.ID
		}
		res.activities = append(res.activities, act)
		res.structural = true
	}
	for _, add := range b.AddedGems {
		actID, err := res.resolve(add.Activity)
		if err != nil {
			return res, err
		}
		if _, err := o.store.InsertGem(ctx, actID, add); err != nil {
			return res, fmt.Errorf("persist gem add %s: %w", add.Ref, err)
		}
		res.gemTouched[actID] = struct{}{}
	}

	// updates
	for _, upd := range b.UpdatedDays {
		dayID, err := res.resolve(upd.ID)
		if err != nil {
			return res, err
		}
		day, err := o.store.UpdateDay(ctx, dayID, upd.Patch)
		if err != nil {
			return res, fmt.Errorf("persist day update %s: %w", dayID, err)
		}
		res.days = append(res.days, day)
	}
	for _, upd := range b.UpdatedActivities {
		actID, err := res.resolve(upd.ID)
		if err != nil {
			return res, err
		}
		act, err := o.store.UpdateActivity(ctx, actID, upd.Patch)
		if err != nil {
			return res, fmt.Errorf("persist activity update %s: %w", actID, err)
		}
		res.activities = append(res.activities, act)
	}
	for _, upd := range b.UpdatedGems {
		gemID, err := res.resolve(upd.ID)
		if err != nil {
			return res, err
		}
		gem, err := o.store.UpdateGem(ctx, gemID, upd.Patch)
		if err != nil {
			return res, fmt.Errorf("persist gem update %s: %w", gemID, err)
		}
		res.gemTouched[gem.ActivityID] = struct{}{}
	}

	// deletes, child kind first: gems, then activities, then days. The
	// store cascades day deletes itself, but deleting an activity whose
	// parent day is also in the bundle must not trip over a gone parent.
	for _, id := range b.DeletedGems {
		gemID, err := res.resolve(id)
		if err != nil {
			return res, err
		}
		actID, err := o.store.DeleteGem(ctx, gemID)
		if err != nil {
			return res, fmt.Errorf("persist gem delete %s: %w", gemID, err)
		}
		res.gemTouched[actID] = struct{}{}
	}
	for _, id := range b.DeletedActivities {
		actID, err := res.resolve(id)
		if err != nil {
			return res, err
		}
		dayID, err := o.store.DeleteActivity(ctx, actID)
		if err != nil {
			return res, fmt.Errorf("persist activity delete %s: %w", actID, err)
		}
		res.deletedActivityIDs = append(res.deletedActivityIDs, actID)
		res.dayTouched[dayID] = struct{}{}
		res.structural = true
	}
	for _, id := range b.DeletedDays {
		dayID, err := res.resolve(id)
		if err != nil {
			return res, err
		}
		cascaded, err := o.store.DeleteDay(ctx, dayID)
		if err != nil {
			return res, fmt.Errorf("persist day delete %s: %w", dayID, err)
		}
		res.deletedDayIDs = append(res.deletedDayIDs, dayID)
		// cascaded children lose their cache entries too
		res.deletedActivityIDs = append(res.deletedActivityIDs, cascaded...)
		res.structural = true
		res.dayCountChanged = true
	}
	return res, nil
}

// propagate refreshes affected cache entries with their new values (not
// invalidate-and-leave-empty: the read path stays warm), rebuilds the
// shape only when a structural change actually applied, and marks the
// trip stale unconditionally.
func (o *Orchestrator) propagate(ctx context.Context, tripID string, res *applied) {
	var errs *multierror.Error

	for _, d := range res.days {
		o.frags.SetDay(ctx, d, false)
	}
	for _, a := range res.activities {
		o.frags.SetActivity(ctx, a, false)
	}
	// Gem-touched activities are re-read even when the bundle also added
	// or updated them: the snapshot taken at that point predates the gem
	// writes.
	for actID := range res.gemTouched {
		act, err := o.store.FetchActivity(ctx, actID)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("refresh activity %s after gem change: %w", actID, err))
			continue
		}
		o.frags.SetActivity(ctx, act, false)
	}
	for _, actID := range res.deletedActivityIDs {
		o.frags.DeleteActivity(ctx, actID)
	}
	deletedDays := make(map[string]struct{}, len(res.deletedDayIDs))
	for _, dayID := range res.deletedDayIDs {
		o.frags.DeleteDay(ctx, dayID)
		deletedDays[dayID] = struct{}{}
	}

	var shape *tripdb.TripShape
	if res.structural {
		var err error
		if shape, err = o.shapes.Rebuild(ctx, tripID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	// A delete renumbers the siblings it leaves behind, so their cached
	// fragments still hold pre-delete positions. Refresh them from the
	// store; a failed read evicts instead, forcing assembly to fall back
	// rather than produce a gapped ordering.
	if len(res.deletedDayIDs) > 0 && shape != nil {
		for _, dayID := range shape.DayIDs {
			day, err := o.store.FetchDay(ctx, dayID)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("refresh day %s after delete: %w", dayID, err))
				o.frags.DeleteDay(ctx, dayID)
				continue
			}
			o.frags.SetDay(ctx, day, false)
		}
	}
	for dayID := range res.dayTouched {
		if _, gone := deletedDays[dayID]; gone {
			continue
		}
		day, err := o.store.FetchDay(ctx, dayID)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("refresh day %s after activity delete: %w", dayID, err))
			if shape != nil {
				for _, actID := range shape.ActivityIDs[dayID] {
					o.frags.DeleteActivity(ctx, actID)
				}
			}
			continue
		}
		for i := range day.Activities {
			o.frags.SetActivity(ctx, &day.Activities[i], false)
		}
	}

	// Day adds and deletes move day_count, so a metadata snapshot taken
	// earlier in the bundle is already behind the store. Re-read it.
	if res.dayCountChanged {
		meta, err := o.store.FetchTripMeta(ctx, tripID)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("refresh metadata after day change: %w", err))
			o.frags.DeleteMeta(ctx, tripID)
		} else {
			o.frags.SetMeta(ctx, meta)
		}
	} else if res.meta != nil {
		o.frags.SetMeta(ctx, res.meta)
	}

	o.stale.MarkStale(ctx, tripID)

	if err := errs.ErrorOrNil(); err != nil {
		logctx.FromContext(ctx).Warn("cache propagation incomplete, will self-heal on read miss",
			slog.Any("error", err))
	}
}

// SetDayField is the keystroke-autosave path for one day's scalar fields:
// straight to the store and that one fragment under the active-edit TTL,
// stale mark, nothing else. No structural change happened, so no shape
// rebuild ever blocks this path.
func (o *Orchestrator) SetDayField(ctx context.Context, tripID, dayID string, patch tripdb.DayPatch) error {
	ctx = logctx.WithTrip(ctx, tripID)
	day, err := o.store.UpdateDay(ctx, dayID, patch)
	if err != nil {
		return fmt.Errorf("autosave day %s: %w", dayID, err)
	}
	o.frags.SetDay(ctx, day, true)
	o.stale.MarkStale(ctx, tripID)
	return nil
}

// SetActivityField is the keystroke-autosave path for one activity.
func (o *Orchestrator) SetActivityField(ctx context.Context, tripID, activityID string, patch tripdb.ActivityPatch) error {
	ctx = logctx.WithTrip(ctx, tripID)
	act, err := o.store.UpdateActivity(ctx, activityID, patch)
	if err != nil {
		return fmt.Errorf("autosave activity %s: %w", activityID, err)
	}
	o.frags.SetActivity(ctx, act, true)
	o.stale.MarkStale(ctx, tripID)
	return nil
}
