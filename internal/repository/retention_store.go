package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DeleteStillBefore deletes still records that started before cutoff
func (s *SQLStore) DeleteStillBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.execAffected(ctx, `DELETE FROM still_records WHERE timestamp_ms < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete still records: %w", err)
	}
	return n, nil
}

// DeleteMovementBefore deletes movement records that ended before cutoff, with their track points
func (s *SQLStore) DeleteMovementBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		ms := toMillis(cutoff)
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM track_points WHERE movement_id IN
			(SELECT id FROM movement_records WHERE end_ms < ?)`), ms); err != nil {
			return fmt.Errorf("failed to delete track points: %w", err)
		}

		res, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM movement_records WHERE end_ms < ?`), ms)
		if err != nil {
			return fmt.Errorf("failed to delete movement records: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeleteEventsBefore deletes place transition events older than cutoff
func (s *SQLStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.execAffected(ctx, `DELETE FROM place_events WHERE timestamp_ms < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete place events: %w", err)
	}
	return n, nil
}

// DeleteVisitsBefore deletes closed visits that ended before cutoff
func (s *SQLStore) DeleteVisitsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.execAffected(ctx, `DELETE FROM place_visits WHERE exit_ms IS NOT NULL AND exit_ms < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete place visits: %w", err)
	}
	return n, nil
}

// DeletePendingTrackPointsBefore deletes unassigned points recorded before cutoff
func (s *SQLStore) DeletePendingTrackPointsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.execAffected(ctx, `DELETE FROM track_points WHERE movement_id IS NULL AND timestamp_ms < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending track points: %w", err)
	}
	return n, nil
}
