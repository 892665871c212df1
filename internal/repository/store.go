package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jengzang/activity-records-go/internal/database"
	"github.com/jengzang/activity-records-go/internal/models"
)

// MovementStore persists activity session output
type MovementStore interface {
	InsertStill(ctx context.Context, r *models.StillRecord) (int64, error)
	InsertMovement(ctx context.Context, r *models.MovementRecord) (int64, error)
	UpdateMovement(ctx context.Context, r *models.MovementRecord) error
	InsertTrackPoints(ctx context.Context, points []models.TrackPoint) error
	// AssignTrackPoints stamps every pending point of a session with its movement id
	AssignTrackPoints(ctx context.Context, pendingKey string, movementID int64) (int64, error)
	// DeletePendingTrackPoints drops the pending points of a session that never moved
	DeletePendingTrackPoints(ctx context.Context, pendingKey string) (int64, error)
}

// SleepStore persists sleep sessions
type SleepStore interface {
	// QueryOverlappingSleepSession returns any session intersecting [start, end), or nil
	QueryOverlappingSleepSession(ctx context.Context, start, end time.Time) (*models.SleepSession, error)
	InsertSleepSession(ctx context.Context, s *models.SleepSession) (int64, error)
}

// PlaceStore persists places, visits and the transition log
type PlaceStore interface {
	GetPlace(ctx context.Context, id int64) (*models.Place, error)
	ListActivePlaces(ctx context.Context) ([]models.Place, error)
	InsertPlace(ctx context.Context, p *models.Place) (int64, error)
	// GetOpenVisit returns the visit with no exit time for a place, or nil
	GetOpenVisit(ctx context.Context, placeID int64) (*models.PlaceVisit, error)
	InsertVisit(ctx context.Context, v *models.PlaceVisit) (int64, error)
	UpdateVisit(ctx context.Context, v *models.PlaceVisit) error
	InsertTransitionEvent(ctx context.Context, e *models.PlaceTransitionEvent) (int64, error)
}

// RetentionStore deletes aged records
type RetentionStore interface {
	DeleteStillBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteMovementBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteVisitsBefore only removes closed visits
	DeleteVisitsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeletePendingTrackPointsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// QueryStore reads persisted records for the query API.
// List methods return one page newest first plus the total match count.
type QueryStore interface {
	ListStillRecords(ctx context.Context, filter models.RecordFilter) ([]models.StillRecord, int64, error)
	ListMovementRecords(ctx context.Context, filter models.RecordFilter) ([]models.MovementRecord, int64, error)
	// GetMovementRecord returns a movement record by ID, or nil
	GetMovementRecord(ctx context.Context, id int64) (*models.MovementRecord, error)
	ListTrackPoints(ctx context.Context, movementID int64) ([]models.TrackPoint, error)
	ListSleepSessions(ctx context.Context, filter models.RecordFilter) ([]models.SleepSession, int64, error)
	ListVisits(ctx context.Context, filter models.RecordFilter) ([]models.PlaceVisit, int64, error)
}

// Store is the full persistence port
type Store interface {
	MovementStore
	SleepStore
	PlaceStore
	RetentionStore
	QueryStore
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*InMemoryStore)(nil)
)

// SQLStore implements Store over database/sql for SQLite and PostgreSQL
type SQLStore struct {
	db     *database.DB
	logger *slog.Logger
}

// NewSQLStore creates a new SQL-backed store. The schema must already be migrated.
func NewSQLStore(db *database.DB, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, logger: logger}
}

// insertReturningID runs an INSERT ... RETURNING id statement
func (s *SQLStore) insertReturningID(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// execAffected runs a statement and returns the affected row count
func (s *SQLStore) execAffected(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Time columns are unix milliseconds on both dialects

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat64(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func float64Ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
