package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
)

// QueryOverlappingSleepSession returns the earliest stored session intersecting [start, end)
func (s *SQLStore) QueryOverlappingSleepSession(ctx context.Context, start, end time.Time) (*models.SleepSession, error) {
	query := `SELECT ` + sleepColumns + `
		FROM sleep_sessions
		WHERE start_ms < ? AND ? < end_ms
		ORDER BY start_ms
		LIMIT 1`

	session, err := scanSleep(s.db.QueryRowContext(ctx, s.db.Rebind(query), toMillis(end), toMillis(start)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping sleep session: %w", err)
	}
	return session, nil
}

// InsertSleepSession inserts a sleep session and sets its ID
func (s *SQLStore) InsertSleepSession(ctx context.Context, session *models.SleepSession) (int64, error) {
	id, err := s.insertReturningID(ctx, `INSERT INTO sleep_sessions
		(start_ms, end_ms, duration_ms, latitude, longitude, source)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		toMillis(session.StartTime), toMillis(session.EndTime), session.DurationMillis,
		nullFloat64(session.Latitude), nullFloat64(session.Longitude), session.Source)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sleep session: %w", err)
	}

	session.ID = id
	s.logger.Debug("SQLStore.InsertSleepSession: inserted", "id", id)
	return id, nil
}
