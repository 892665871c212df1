package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jengzang/activity-records-go/internal/models"
)

const stillColumns = `id, latitude, longitude, timestamp_ms, duration_ms, was_supposed_to_be`

const movementColumns = `id, kind, start_lat, start_lon, end_lat, end_lon, start_ms, end_ms, distance_m, actually_moved, track_point_count`

const sleepColumns = `id, start_ms, end_ms, duration_ms, latitude, longitude, source`

const trackPointColumns = `id, movement_id, pending_key, latitude, longitude, timestamp_ms, speed, accuracy_m`

// recordQuery describes how a RecordFilter maps onto one table
type recordQuery struct {
	table       string
	columns     string
	timeColumn  string
	durationSQL string // expression compared against MinDuration
}

// where builds the WHERE clause and args for a filter
func (q recordQuery) where(filter models.RecordFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.StartTime > 0 {
		conditions = append(conditions, q.timeColumn+" >= ?")
		args = append(args, filter.StartTime)
	}
	if filter.EndTime > 0 {
		conditions = append(conditions, q.timeColumn+" < ?")
		args = append(args, filter.EndTime)
	}
	if filter.MinDuration > 0 {
		conditions = append(conditions, q.durationSQL+" >= ?")
		args = append(args, filter.MinDuration)
	}
	if filter.Kind != "" && q.table == "movement_records" {
		conditions = append(conditions, "kind = ?")
		args = append(args, strings.ToUpper(filter.Kind))
	}
	if filter.PlaceID > 0 && q.table == "place_visits" {
		conditions = append(conditions, "place_id = ?")
		args = append(args, filter.PlaceID)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// list counts the matches and queries one page, newest first
func (s *SQLStore) list(ctx context.Context, q recordQuery, filter models.RecordFilter, scan func(rowScanner) error) (int64, error) {
	filter.Normalize()
	where, args := q.where(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx, s.db.Rebind("SELECT COUNT(*) FROM "+q.table+where), args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q.table, err)
	}

	query := "SELECT " + q.columns + " FROM " + q.table + where +
		" ORDER BY " + q.timeColumn + " DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.PageSize, filter.Offset())

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", q.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return 0, fmt.Errorf("failed to scan %s: %w", q.table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate %s: %w", q.table, err)
	}
	return total, nil
}

func scanStill(row rowScanner) (*models.StillRecord, error) {
	var (
		r           models.StillRecord
		timestampMs int64
		duration    sql.NullInt64
		was         sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Latitude, &r.Longitude, &timestampMs, &duration, &was); err != nil {
		return nil, err
	}
	r.Timestamp = fromMillis(timestampMs)
	r.DurationMillis = int64Ptr(duration)
	if was.Valid {
		kind := models.ActivityKind(was.String)
		r.WasSupposedToBeActivity = &kind
	}
	return &r, nil
}

func scanMovement(row rowScanner) (*models.MovementRecord, error) {
	var (
		m              models.MovementRecord
		kind           string
		startMs, endMs int64
	)
	if err := row.Scan(&m.ID, &kind, &m.StartLat, &m.StartLon, &m.EndLat, &m.EndLon,
		&startMs, &endMs, &m.DistanceMeters, &m.ActuallyMoved, &m.TrackPointCount); err != nil {
		return nil, err
	}
	m.Kind = models.ActivityKind(kind)
	m.StartTime = fromMillis(startMs)
	m.EndTime = fromMillis(endMs)
	return &m, nil
}

func scanSleep(row rowScanner) (*models.SleepSession, error) {
	var (
		session             models.SleepSession
		startMs, endMs      int64
		latitude, longitude sql.NullFloat64
	)
	if err := row.Scan(&session.ID, &startMs, &endMs, &session.DurationMillis, &latitude, &longitude, &session.Source); err != nil {
		return nil, err
	}
	session.StartTime = fromMillis(startMs)
	session.EndTime = fromMillis(endMs)
	session.Latitude = float64Ptr(latitude)
	session.Longitude = float64Ptr(longitude)
	return &session, nil
}

func scanTrackPoint(row rowScanner) (*models.TrackPoint, error) {
	var (
		p           models.TrackPoint
		movementID  sql.NullInt64
		pendingKey  sql.NullString
		timestampMs int64
		speed       sql.NullFloat64
	)
	if err := row.Scan(&p.ID, &movementID, &pendingKey, &p.Latitude, &p.Longitude, &timestampMs, &speed, &p.AccuracyMeters); err != nil {
		return nil, err
	}
	p.MovementID = int64Ptr(movementID)
	p.PendingKey = pendingKey.String
	p.Timestamp = fromMillis(timestampMs)
	p.Speed = float64Ptr(speed)
	return &p, nil
}

// ListStillRecords retrieves still records with filtering and pagination
func (s *SQLStore) ListStillRecords(ctx context.Context, filter models.RecordFilter) ([]models.StillRecord, int64, error) {
	records := []models.StillRecord{}
	total, err := s.list(ctx, recordQuery{
		table:       "still_records",
		columns:     stillColumns,
		timeColumn:  "timestamp_ms",
		durationSQL: "COALESCE(duration_ms, 0)",
	}, filter, func(row rowScanner) error {
		r, err := scanStill(row)
		if err != nil {
			return err
		}
		records = append(records, *r)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListMovementRecords retrieves movement records with filtering and pagination
func (s *SQLStore) ListMovementRecords(ctx context.Context, filter models.RecordFilter) ([]models.MovementRecord, int64, error) {
	records := []models.MovementRecord{}
	total, err := s.list(ctx, recordQuery{
		table:       "movement_records",
		columns:     movementColumns,
		timeColumn:  "start_ms",
		durationSQL: "(end_ms - start_ms)",
	}, filter, func(row rowScanner) error {
		m, err := scanMovement(row)
		if err != nil {
			return err
		}
		records = append(records, *m)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// GetMovementRecord retrieves a movement record by ID, nil if absent
func (s *SQLStore) GetMovementRecord(ctx context.Context, id int64) (*models.MovementRecord, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+movementColumns+` FROM movement_records WHERE id = ?`), id)
	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get movement record %d: %w", id, err)
	}
	return m, nil
}

// ListTrackPoints retrieves the points of a movement in time order
func (s *SQLStore) ListTrackPoints(ctx context.Context, movementID int64) ([]models.TrackPoint, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT `+trackPointColumns+`
		FROM track_points WHERE movement_id = ? ORDER BY timestamp_ms, id`), movementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query track points: %w", err)
	}
	defer rows.Close()

	points := []models.TrackPoint{}
	for rows.Next() {
		p, err := scanTrackPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track point: %w", err)
		}
		points = append(points, *p)
	}
	return points, rows.Err()
}

// ListSleepSessions retrieves sleep sessions with filtering and pagination
func (s *SQLStore) ListSleepSessions(ctx context.Context, filter models.RecordFilter) ([]models.SleepSession, int64, error) {
	sessions := []models.SleepSession{}
	total, err := s.list(ctx, recordQuery{
		table:       "sleep_sessions",
		columns:     sleepColumns,
		timeColumn:  "start_ms",
		durationSQL: "duration_ms",
	}, filter, func(row rowScanner) error {
		session, err := scanSleep(row)
		if err != nil {
			return err
		}
		sessions = append(sessions, *session)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// ListVisits retrieves place visits with filtering and pagination. Open visits count as zero duration.
func (s *SQLStore) ListVisits(ctx context.Context, filter models.RecordFilter) ([]models.PlaceVisit, int64, error) {
	visits := []models.PlaceVisit{}
	total, err := s.list(ctx, recordQuery{
		table:       "place_visits",
		columns:     visitColumns,
		timeColumn:  "entry_ms",
		durationSQL: "COALESCE(duration_ms, 0)",
	}, filter, func(row rowScanner) error {
		v, err := scanVisit(row)
		if err != nil {
			return err
		}
		visits = append(visits, *v)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return visits, total, nil
}
