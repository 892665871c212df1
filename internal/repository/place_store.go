package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jengzang/activity-records-go/internal/models"
)

const placeColumns = `id, name, center_lat, center_lon, radius_m, notify_on_enter, notify_on_exit, is_active`

const visitColumns = `id, place_id, entry_ms, exit_ms, duration_ms, entry_lat, entry_lon, exit_lat, exit_lon`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlace(row rowScanner) (*models.Place, error) {
	var p models.Place
	if err := row.Scan(&p.ID, &p.Name, &p.CenterLat, &p.CenterLon, &p.RadiusMeters,
		&p.NotifyOnEnter, &p.NotifyOnExit, &p.IsActive); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanVisit(row rowScanner) (*models.PlaceVisit, error) {
	var (
		v                models.PlaceVisit
		entryMs          int64
		exitMs, duration sql.NullInt64
		exitLat, exitLon sql.NullFloat64
	)
	if err := row.Scan(&v.ID, &v.PlaceID, &entryMs, &exitMs, &duration,
		&v.EntryLat, &v.EntryLon, &exitLat, &exitLon); err != nil {
		return nil, err
	}
	v.EntryTime = fromMillis(entryMs)
	v.ExitTime = timePtr(exitMs)
	v.DurationMillis = int64Ptr(duration)
	v.ExitLat = float64Ptr(exitLat)
	v.ExitLon = float64Ptr(exitLon)
	return &v, nil
}

// GetPlace retrieves a place by ID, nil if absent
func (s *SQLStore) GetPlace(ctx context.Context, id int64) (*models.Place, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+placeColumns+` FROM places WHERE id = ?`), id)
	p, err := scanPlace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get place %d: %w", id, err)
	}
	return p, nil
}

// ListActivePlaces returns every active place ordered by ID
func (s *SQLStore) ListActivePlaces(ctx context.Context) ([]models.Place, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT `+placeColumns+` FROM places WHERE is_active = ? ORDER BY id`), true)
	if err != nil {
		return nil, fmt.Errorf("failed to query places: %w", err)
	}
	defer rows.Close()

	var places []models.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		places = append(places, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate places: %w", err)
	}
	return places, nil
}

// InsertPlace inserts a place and sets its ID
func (s *SQLStore) InsertPlace(ctx context.Context, p *models.Place) (int64, error) {
	id, err := s.insertReturningID(ctx, `INSERT INTO places
		(name, center_lat, center_lon, radius_m, notify_on_enter, notify_on_exit, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		p.Name, p.CenterLat, p.CenterLon, p.RadiusMeters, p.NotifyOnEnter, p.NotifyOnExit, p.IsActive)
	if err != nil {
		return 0, fmt.Errorf("failed to insert place: %w", err)
	}

	p.ID = id
	s.logger.Debug("SQLStore.InsertPlace: inserted", "id", id, "name", p.Name)
	return id, nil
}

// GetOpenVisit returns the open visit for a place, nil if none
func (s *SQLStore) GetOpenVisit(ctx context.Context, placeID int64) (*models.PlaceVisit, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+visitColumns+`
		FROM place_visits WHERE place_id = ? AND exit_ms IS NULL`), placeID)
	v, err := scanVisit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open visit for place %d: %w", placeID, err)
	}
	return v, nil
}

// InsertVisit inserts a visit and sets its ID
func (s *SQLStore) InsertVisit(ctx context.Context, v *models.PlaceVisit) (int64, error) {
	id, err := s.insertReturningID(ctx, `INSERT INTO place_visits
		(place_id, entry_ms, exit_ms, duration_ms, entry_lat, entry_lon, exit_lat, exit_lon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		v.PlaceID, toMillis(v.EntryTime), nullMillis(v.ExitTime), nullInt64(v.DurationMillis),
		v.EntryLat, v.EntryLon, nullFloat64(v.ExitLat), nullFloat64(v.ExitLon))
	if err != nil {
		return 0, fmt.Errorf("failed to insert visit for place %d: %w", v.PlaceID, err)
	}

	v.ID = id
	return id, nil
}

// UpdateVisit rewrites the exit side of a visit
func (s *SQLStore) UpdateVisit(ctx context.Context, v *models.PlaceVisit) error {
	n, err := s.execAffected(ctx, `UPDATE place_visits SET
		exit_ms = ?, duration_ms = ?, exit_lat = ?, exit_lon = ?
		WHERE id = ?`,
		nullMillis(v.ExitTime), nullInt64(v.DurationMillis), nullFloat64(v.ExitLat), nullFloat64(v.ExitLon), v.ID)
	if err != nil {
		return fmt.Errorf("failed to update visit %d: %w", v.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("visit %d not found", v.ID)
	}
	return nil
}

// InsertTransitionEvent appends an enter/exit event
func (s *SQLStore) InsertTransitionEvent(ctx context.Context, e *models.PlaceTransitionEvent) (int64, error) {
	id, err := s.insertReturningID(ctx, `INSERT INTO place_events
		(place_id, event_type, timestamp_ms, latitude, longitude)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		e.PlaceID, string(e.EventType), toMillis(e.Timestamp), e.Latitude, e.Longitude)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s event for place %d: %w", e.EventType, e.PlaceID, err)
	}

	e.ID = id
	return id, nil
}
