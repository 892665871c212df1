package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jengzang/activity-records-go/internal/models"
)

// InsertStill inserts a still record and sets its ID
func (s *SQLStore) InsertStill(ctx context.Context, r *models.StillRecord) (int64, error) {
	var was interface{}
	if r.WasSupposedToBeActivity != nil {
		was = string(*r.WasSupposedToBeActivity)
	}

	id, err := s.insertReturningID(ctx, `INSERT INTO still_records
		(latitude, longitude, timestamp_ms, duration_ms, was_supposed_to_be)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		r.Latitude, r.Longitude, toMillis(r.Timestamp), nullInt64(r.DurationMillis), was)
	if err != nil {
		return 0, fmt.Errorf("failed to insert still record: %w", err)
	}

	r.ID = id
	s.logger.Debug("SQLStore.InsertStill: inserted", "id", id)
	return id, nil
}

// InsertMovement inserts a movement record and sets its ID
func (s *SQLStore) InsertMovement(ctx context.Context, r *models.MovementRecord) (int64, error) {
	id, err := s.insertReturningID(ctx, `INSERT INTO movement_records
		(kind, start_lat, start_lon, end_lat, end_lon, start_ms, end_ms, distance_m, actually_moved, track_point_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		string(r.Kind), r.StartLat, r.StartLon, r.EndLat, r.EndLon,
		toMillis(r.StartTime), toMillis(r.EndTime), r.DistanceMeters, r.ActuallyMoved, r.TrackPointCount)
	if err != nil {
		return 0, fmt.Errorf("failed to insert movement record: %w", err)
	}

	r.ID = id
	s.logger.Debug("SQLStore.InsertMovement: inserted", "id", id, "kind", r.Kind)
	return id, nil
}

// UpdateMovement rewrites a movement record by ID
func (s *SQLStore) UpdateMovement(ctx context.Context, r *models.MovementRecord) error {
	n, err := s.execAffected(ctx, `UPDATE movement_records SET
		kind = ?, start_lat = ?, start_lon = ?, end_lat = ?, end_lon = ?, start_ms = ?, end_ms = ?,
		distance_m = ?, actually_moved = ?, track_point_count = ?
		WHERE id = ?`,
		string(r.Kind), r.StartLat, r.StartLon, r.EndLat, r.EndLon,
		toMillis(r.StartTime), toMillis(r.EndTime), r.DistanceMeters, r.ActuallyMoved, r.TrackPointCount,
		r.ID)
	if err != nil {
		return fmt.Errorf("failed to update movement record %d: %w", r.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("movement record %d not found", r.ID)
	}
	return nil
}

// InsertTrackPoints inserts a batch of track points in one transaction
func (s *SQLStore) InsertTrackPoints(ctx context.Context, points []models.TrackPoint) error {
	if len(points) == 0 {
		return nil
	}

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.db.Rebind(`INSERT INTO track_points
			(movement_id, pending_key, latitude, longitude, timestamp_ms, speed, accuracy_m)
			VALUES (?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare track point insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			if _, err := stmt.ExecContext(ctx,
				nullInt64(p.MovementID), nullString(p.PendingKey),
				p.Latitude, p.Longitude, toMillis(p.Timestamp), nullFloat64(p.Speed), p.AccuracyMeters,
			); err != nil {
				return fmt.Errorf("failed to insert track point: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("SQLStore.InsertTrackPoints: inserted", "count", len(points))
	return nil
}

// AssignTrackPoints stamps pending points with their movement id
func (s *SQLStore) AssignTrackPoints(ctx context.Context, pendingKey string, movementID int64) (int64, error) {
	n, err := s.execAffected(ctx,
		`UPDATE track_points SET movement_id = ?, pending_key = NULL WHERE pending_key = ? AND movement_id IS NULL`,
		movementID, pendingKey)
	if err != nil {
		return 0, fmt.Errorf("failed to assign track points to movement %d: %w", movementID, err)
	}
	return n, nil
}

// DeletePendingTrackPoints removes the pending points of a session
func (s *SQLStore) DeletePendingTrackPoints(ctx context.Context, pendingKey string) (int64, error) {
	n, err := s.execAffected(ctx,
		`DELETE FROM track_points WHERE pending_key = ? AND movement_id IS NULL`, pendingKey)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending track points: %w", err)
	}
	return n, nil
}

// CountTrackPoints returns the number of points stamped with a movement id
func (s *SQLStore) CountTrackPoints(ctx context.Context, movementID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT COUNT(*) FROM track_points WHERE movement_id = ?`), movementID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count track points: %w", err)
	}
	return n, nil
}
