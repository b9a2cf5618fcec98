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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wayfarerhq/tripcache/internal/idgen"
)

// PGStore is the Postgres-backed authoritative store. Schema ownership
// (migrations) lives with the main application; this package only assumes
// the trips/days/activities/gems tables exist.
//
// The cascade on delete is performed explicitly inside one transaction
// (gems, then activities, then the day) rather than relying on
// ON DELETE CASCADE, so the contract holds against any schema variant.
type PGStore struct {
	pool *pgxpool.Pool
	ids  idgen.IDGenerator
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a store on an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, ids: idgen.NewULIDGenerator()}
}

// OpenPGStore connects to the given database URL and returns a store.
func OpenPGStore(ctx context.Context, url string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect tripdb: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping tripdb: %w", err)
	}
	return NewPGStore(pool), nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Ping reports store reachability, for health checks.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const tripCols = `id, owner_id, title, summary, status, price_cents, currency, cover_key, day_count, created_at, updated_at`

func scanTripMeta(row pgx.Row) (*TripMeta, error) {
	var m TripMeta
	err := row.Scan(&m.ID, &m.OwnerID, &m.Title, &m.Summary, &m.Status,
		&m.PriceCents, &m.Currency, &m.CoverKey, &m.DayCount, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PGStore) FetchTripMeta(ctx context.Context, tripID string) (*TripMeta, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tripCols+` FROM trips WHERE id = $1`, tripID)
	m, err := scanTripMeta(row)
	if err != nil {
		return nil, fmt.Errorf("fetch trip %s: %w", tripID, err)
	}
	return m, nil
}

func (s *PGStore) FetchTripTree(ctx context.Context, tripID string) (*Trip, error) {
	meta, err := s.FetchTripMeta(ctx, tripID)
	if err != nil {
		return nil, err
	}
	trip := &Trip{TripMeta: *meta}

	days, err := s.fetchDays(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("fetch days of trip %s: %w", tripID, err)
	}
	if len(days) == 0 {
		trip.Days = []Day{}
		return trip, nil
	}

	dayIDs := make([]string, len(days))
	byDay := make(map[string]*Day, len(days))
	for i := range days {
		dayIDs[i] = days[i].ID
		byDay[days[i].ID] = &days[i]
	}

	acts, err := s.fetchActivities(ctx, dayIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch activities of trip %s: %w", tripID, err)
	}
	actIDs := make([]string, 0, len(acts))
	byAct := make(map[string]*Activity, len(acts))
	for i := range acts {
		actIDs = append(actIDs, acts[i].ID)
		byAct[acts[i].ID] = &acts[i]
	}

	if len(actIDs) > 0 {
		gems, err := s.fetchGems(ctx, actIDs)
		if err != nil {
			return nil, fmt.Errorf("fetch gems of trip %s: %w", tripID, err)
		}
		for _, g := range gems {
			if a := byAct[g.ActivityID]; a != nil {
				a.Gems = append(a.Gems, g)
			}
		}
	}
	for i := range acts {
		if d := byDay[acts[i].DayID]; d != nil {
			d.Activities = append(d.Activities, acts[i])
		}
	}
	trip.Days = days
	return trip, nil
}

func (s *PGStore) FetchTripShape(ctx context.Context, tripID string) (*TripShape, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM trips WHERE id = $1)`, tripID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("fetch shape of trip %s: %w", tripID, err)
	}
	if !exists {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}

	shape := &TripShape{TripID: tripID, DayIDs: []string{}, ActivityIDs: map[string][]string{}}
	rows, err := s.pool.Query(ctx, `SELECT id FROM days WHERE trip_id = $1 ORDER BY position`, tripID)
	if err != nil {
		return nil, fmt.Errorf("fetch shape of trip %s: %w", tripID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("fetch shape of trip %s: %w", tripID, err)
		}
		shape.DayIDs = append(shape.DayIDs, id)
		shape.ActivityIDs[id] = []string{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch shape of trip %s: %w", tripID, err)
	}
	rows.Close()

	if len(shape.DayIDs) == 0 {
		return shape, nil
	}
	arows, err := s.pool.Query(ctx,
		`SELECT id, day_id FROM activities WHERE day_id = ANY($1) ORDER BY day_id, position`, shape.DayIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch shape of trip %s: %w", tripID, err)
	}
	defer arows.Close()
	for arows.Next() {
		var id, dayID string
		if err := arows.Scan(&id, &dayID); err != nil {
			return nil, fmt.Errorf("fetch shape of trip %s: %w", tripID, err)
		}
		shape.ActivityIDs[dayID] = append(shape.ActivityIDs[dayID], id)
	}
	if err := arows.Err(); err != nil {
		return nil, fmt.Errorf("fetch shape of trip %s: %w", tripID, err)
	}
	return shape, nil
}

func (s *PGStore) FetchDay(ctx context.Context, dayID string) (*Day, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, trip_id, position, title, notes FROM days WHERE id = $1`, dayID)
	var d Day
	err := row.Scan(&d.ID, &d.TripID, &d.Position, &d.Title, &d.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("day %s: %w", dayID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch day %s: %w", dayID, err)
	}
	acts, err := s.fetchActivities(ctx, []string{dayID})
	if err != nil {
		return nil, fmt.Errorf("fetch day %s: %w", dayID, err)
	}
	if err := s.attachGems(ctx, acts); err != nil {
		return nil, fmt.Errorf("fetch day %s: %w", dayID, err)
	}
	d.Activities = acts
	return &d, nil
}

func (s *PGStore) FetchActivity(ctx context.Context, activityID string) (*Activity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, day_id, position, title, description, location, start_time, end_time
		 FROM activities WHERE id = $1`, activityID)
	var a Activity
	err := row.Scan(&a.ID, &a.DayID, &a.Position, &a.Title, &a.Description,
		&a.Location, &a.StartTime, &a.EndTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("activity %s: %w", activityID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch activity %s: %w", activityID, err)
	}
	acts := []Activity{a}
	if err := s.attachGems(ctx, acts); err != nil {
		return nil, fmt.Errorf("fetch activity %s: %w", activityID, err)
	}
	return &acts[0], nil
}

func (s *PGStore) fetchDays(ctx context.Context, tripID string) ([]Day, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trip_id, position, title, notes FROM days WHERE trip_id = $1 ORDER BY position`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var days []Day
	for rows.Next() {
		var d Day
		if err := rows.Scan(&d.ID, &d.TripID, &d.Position, &d.Title, &d.Notes); err != nil {
			return nil, err
		}
		d.Activities = []Activity{}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (s *PGStore) fetchActivities(ctx context.Context, dayIDs []string) ([]Activity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, day_id, position, title, description, location, start_time, end_time
		 FROM activities WHERE day_id = ANY($1) ORDER BY day_id, position`, dayIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var acts []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.DayID, &a.Position, &a.Title, &a.Description,
			&a.Location, &a.StartTime, &a.EndTime); err != nil {
			return nil, err
		}
		a.Gems = []Gem{}
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

func (s *PGStore) fetchGems(ctx context.Context, activityIDs []string) ([]Gem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, activity_id, kind, title, body, insider_note
		 FROM gems WHERE activity_id = ANY($1) ORDER BY id`, activityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var gems []Gem
	for rows.Next() {
		var g Gem
		if err := rows.Scan(&g.ID, &g.ActivityID, &g.Kind, &g.Title, &g.Body, &g.InsiderNote); err != nil {
			return nil, err
		}
		gems = append(gems, g)
	}
	return gems, rows.Err()
}

func (s *PGStore) attachGems(ctx context.Context, acts []Activity) error {
	if len(acts) == 0 {
		return nil
	}
	ids := make([]string, len(acts))
	byID := make(map[string]*Activity, len(acts))
	for i := range acts {
		ids[i] = acts[i].ID
		byID[acts[i].ID] = &acts[i]
	}
	gems, err := s.fetchGems(ctx, ids)
	if err != nil {
		return err
	}
	for _, g := range gems {
		if a := byID[g.ActivityID]; a != nil {
			a.Gems = append(a.Gems, g)
		}
	}
	return nil
}

func (s *PGStore) UpdateTripMeta(ctx context.Context, tripID string, patch TripPatch) (*TripMeta, error) {
	var meta *TripMeta
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+tripCols+` FROM trips WHERE id = $1 FOR UPDATE`, tripID)
		m, err := scanTripMeta(row)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			m.Title = *patch.Title
		}
		if patch.Summary != nil {
			m.Summary = *patch.Summary
		}
		if patch.Status != nil {
			m.Status = *patch.Status
		}
		if patch.PriceCents != nil {
			m.PriceCents = *patch.PriceCents
		}
		if patch.Currency != nil {
			m.Currency = *patch.Currency
		}
		if patch.CoverKey != nil {
			m.CoverKey = *patch.CoverKey
		}
		m.UpdatedAt = time.Now().UTC()
		_, err = tx.Exec(ctx,
			`UPDATE trips SET title=$2, summary=$3, status=$4, price_cents=$5, currency=$6, cover_key=$7, updated_at=$8
			 WHERE id=$1`,
			tripID, m.Title, m.Summary, m.Status, m.PriceCents, m.Currency, m.CoverKey, m.UpdatedAt)
		meta = m
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update trip %s: %w", tripID, err)
	}
	return meta, nil
}

func (s *PGStore) InsertDay(ctx context.Context, tripID string, add DayAdd) (*Day, error) {
	d := &Day{ID: s.ids.Make(time.Now()), TripID: tripID, Title: add.Title, Notes: add.Notes, Activities: []Activity{}}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE trips SET day_count = day_count + 1, updated_at = $2 WHERE id = $1 RETURNING day_count`,
			tripID, time.Now().UTC())
		if err := row.Scan(&d.Position); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO days (id, trip_id, position, title, notes) VALUES ($1, $2, $3, $4, $5)`,
			d.ID, tripID, d.Position, d.Title, d.Notes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert day into trip %s: %w", tripID, err)
	}
	return d, nil
}

func (s *PGStore) UpdateDay(ctx context.Context, dayID string, patch DayPatch) (*Day, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var title, notes string
		row := tx.QueryRow(ctx, `SELECT title, notes FROM days WHERE id = $1 FOR UPDATE`, dayID)
		if err := row.Scan(&title, &notes); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if patch.Title != nil {
			title = *patch.Title
		}
		if patch.Notes != nil {
			notes = *patch.Notes
		}
		_, err := tx.Exec(ctx, `UPDATE days SET title = $2, notes = $3 WHERE id = $1`, dayID, title, notes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update day %s: %w", dayID, err)
	}
	return s.FetchDay(ctx, dayID)
}

func (s *PGStore) DeleteDay(ctx context.Context, dayID string) ([]string, error) {
	var removed []string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var tripID string
		var pos int
		row := tx.QueryRow(ctx, `SELECT trip_id, position FROM days WHERE id = $1 FOR UPDATE`, dayID)
		if err := row.Scan(&tripID, &pos); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM activities WHERE day_id = $1`, dayID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			removed = append(removed, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// cascade: gems, then activities, then the day itself
		if len(removed) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM gems WHERE activity_id = ANY($1)`, removed); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM activities WHERE day_id = $1`, dayID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM days WHERE id = $1`, dayID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE days SET position = position - 1 WHERE trip_id = $1 AND position > $2`, tripID, pos); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE trips SET day_count = day_count - 1, updated_at = $2 WHERE id = $1`, tripID, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete day %s: %w", dayID, err)
	}
	return removed, nil
}

func (s *PGStore) InsertActivity(ctx context.Context, dayID string, add ActivityAdd) (*Activity, error) {
	a := &Activity{
		ID: s.ids.Make(time.Now()), DayID: dayID,
		Title: add.Title, Description: add.Description, Location: add.Location,
		StartTime: add.StartTime, EndTime: add.EndTime, Gems: []Gem{},
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(position), 0) FROM activities WHERE day_id = $1`, dayID)
		var maxPos int
		if err := row.Scan(&maxPos); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM days WHERE id = $1)`, dayID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		a.Position = maxPos + 1
		_, err := tx.Exec(ctx,
			`INSERT INTO activities (id, day_id, position, title, description, location, start_time, end_time)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			a.ID, dayID, a.Position, a.Title, a.Description, a.Location, a.StartTime, a.EndTime)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert activity into day %s: %w", dayID, err)
	}
	return a, nil
}

func (s *PGStore) UpdateActivity(ctx context.Context, activityID string, patch ActivityPatch) (*Activity, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var a Activity
		row := tx.QueryRow(ctx,
			`SELECT title, description, location, start_time, end_time FROM activities WHERE id = $1 FOR UPDATE`,
			activityID)
		if err := row.Scan(&a.Title, &a.Description, &a.Location, &a.StartTime, &a.EndTime); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
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
			a.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			a.EndTime = *patch.EndTime
		}
		_, err := tx.Exec(ctx,
			`UPDATE activities SET title=$2, description=$3, location=$4, start_time=$5, end_time=$6 WHERE id=$1`,
			activityID, a.Title, a.Description, a.Location, a.StartTime, a.EndTime)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update activity %s: %w", activityID, err)
	}
	return s.FetchActivity(ctx, activityID)
}

func (s *PGStore) DeleteActivity(ctx context.Context, activityID string) (string, error) {
	var dayID string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var pos int
		row := tx.QueryRow(ctx, `SELECT day_id, position FROM activities WHERE id = $1 FOR UPDATE`, activityID)
		if err := row.Scan(&dayID, &pos); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM gems WHERE activity_id = $1`, activityID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM activities WHERE id = $1`, activityID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE activities SET position = position - 1 WHERE day_id = $1 AND position > $2`, dayID, pos)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("delete activity %s: %w", activityID, err)
	}
	return dayID, nil
}

func (s *PGStore) InsertGem(ctx context.Context, activityID string, add GemAdd) (*Gem, error) {
	g := &Gem{
		ID: s.ids.Make(time.Now()), ActivityID: activityID,
		Kind: add.Kind, Title: add.Title, Body: add.Body, InsiderNote: add.InsiderNote,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO gems (id, activity_id, kind, title, body, insider_note) VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, activityID, g.Kind, g.Title, g.Body, g.InsiderNote)
	if err != nil {
		return nil, fmt.Errorf("insert gem into activity %s: %w", activityID, err)
	}
	return g, nil
}

func (s *PGStore) UpdateGem(ctx context.Context, gemID string, patch GemPatch) (*Gem, error) {
	var g *Gem
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var cur Gem
		row := tx.QueryRow(ctx,
			`SELECT id, activity_id, kind, title, body, insider_note FROM gems WHERE id = $1 FOR UPDATE`, gemID)
		if err := row.Scan(&cur.ID, &cur.ActivityID, &cur.Kind, &cur.Title, &cur.Body, &cur.InsiderNote); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if patch.Kind != nil {
			cur.Kind = *patch.Kind
		}
		if patch.Title != nil {
			cur.Title = *patch.Title
		}
		if patch.Body != nil {
			cur.Body = *patch.Body
		}
		if patch.InsiderNote != nil {
			cur.InsiderNote = *patch.InsiderNote
		}
		_, err := tx.Exec(ctx,
			`UPDATE gems SET kind=$2, title=$3, body=$4, insider_note=$5 WHERE id=$1`,
			gemID, cur.Kind, cur.Title, cur.Body, cur.InsiderNote)
		g = &cur
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update gem %s: %w", gemID, err)
	}
	return g, nil
}

func (s *PGStore) DeleteGem(ctx context.Context, gemID string) (string, error) {
	row := s.pool.QueryRow(ctx, `DELETE FROM gems WHERE id = $1 RETURNING activity_id`, gemID)
	var activityID string
	if err := row.Scan(&activityID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("gem %s: %w", gemID, ErrNotFound)
		}
		return "", fmt.Errorf("delete gem %s: %w", gemID, err)
	}
	return activityID, nil
}

func (s *PGStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
