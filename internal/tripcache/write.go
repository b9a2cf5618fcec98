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

package tripcache

import (
	"context"

	"github.com/wayfarerhq/tripcache/internal/logctx"
	"github.com/wayfarerhq/tripcache/tripdb"
)

// SaveChanges applies an editor change bundle on behalf of callerID.
// Ownership is checked before anything is mutated. Returns the
// provisional-to-durable ID mapping so the editor can rewrite its local
// state.
func (s *Service) SaveChanges(ctx context.Context, callerID, tripID string, bundle *tripdb.ChangeBundle) (map[string]string, error) {
	ctx = logctx.WithTrip(ctx, tripID)
	if err := s.ownerCheck(ctx, callerID, tripID); err != nil {
		return nil, err
	}
	return s.orch.Apply(ctx, tripID, bundle)
}

// SaveDayField is the keystroke-autosave path for one day.
func (s *Service) SaveDayField(ctx context.Context, callerID, tripID, dayID string, patch tripdb.DayPatch) error {
	ctx = logctx.WithTrip(ctx, tripID)
	if err := s.ownerCheck(ctx, callerID, tripID); err != nil {
		return err
	}
	return s.orch.SetDayField(ctx, tripID, dayID, patch)
}

// SaveActivityField is the keystroke-autosave path for one activity.
func (s *Service) SaveActivityField(ctx context.Context, callerID, tripID, activityID string, patch tripdb.ActivityPatch) error {
	ctx = logctx.WithTrip(ctx, tripID)
	if err := s.ownerCheck(ctx, callerID, tripID); err != nil {
		return err
	}
	return s.orch.SetActivityField(ctx, tripID, activityID, patch)
}

// InvalidateTrip marks the trip stale so the next whole-trip read
// re-derives its content. Idempotent.
func (s *Service) InvalidateTrip(ctx context.Context, tripID string) {
	ctx = logctx.WithTrip(ctx, tripID)
	s.stale.MarkStale(ctx, tripID)
}
