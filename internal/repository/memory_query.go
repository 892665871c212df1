package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
)

// page filters, orders newest first and slices one page of items
func page[T any](items []T, filter models.RecordFilter, start func(T) time.Time, id func(T) int64, keep func(T) bool) ([]T, int64) {
	filter.Normalize()

	matched := []T{}
	for _, it := range items {
		if keep(it) {
			matched = append(matched, it)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := start(matched[i]), start(matched[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return id(matched[i]) > id(matched[j])
	})

	total := int64(len(matched))
	from := filter.Offset()
	if from >= len(matched) {
		return []T{}, total
	}
	to := min(from+filter.PageSize, len(matched))
	return matched[from:to], total
}

func derefMillis(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// ListStillRecords returns one page of still records
func (s *InMemoryStore) ListStillRecords(_ context.Context, filter models.RecordFilter) ([]models.StillRecord, int64, error) {
	items, total := page(s.StillRecords(), filter,
		func(r models.StillRecord) time.Time { return r.Timestamp },
		func(r models.StillRecord) int64 { return r.ID },
		func(r models.StillRecord) bool { return filter.Matches(r.Timestamp, derefMillis(r.DurationMillis)) },
	)
	return items, total, nil
}

// ListMovementRecords returns one page of movement records
func (s *InMemoryStore) ListMovementRecords(_ context.Context, filter models.RecordFilter) ([]models.MovementRecord, int64, error) {
	kind := models.ActivityKind(strings.ToUpper(filter.Kind))
	items, total := page(s.MovementRecords(), filter,
		func(r models.MovementRecord) time.Time { return r.StartTime },
		func(r models.MovementRecord) int64 { return r.ID },
		func(r models.MovementRecord) bool {
			if kind != "" && r.Kind != kind {
				return false
			}
			return filter.Matches(r.StartTime, r.Duration().Milliseconds())
		},
	)
	return items, total, nil
}

// GetMovementRecord returns a movement record by ID, nil if absent
func (s *InMemoryStore) GetMovementRecord(_ context.Context, id int64) (*models.MovementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.movements[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// ListTrackPoints returns the points of a movement in time order
func (s *InMemoryStore) ListTrackPoints(_ context.Context, movementID int64) ([]models.TrackPoint, error) {
	points := []models.TrackPoint{}
	for _, p := range s.TrackPoints() {
		if p.MovementID != nil && *p.MovementID == movementID {
			points = append(points, p)
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

// ListSleepSessions returns one page of sleep sessions
func (s *InMemoryStore) ListSleepSessions(_ context.Context, filter models.RecordFilter) ([]models.SleepSession, int64, error) {
	items, total := page(s.SleepSessions(), filter,
		func(r models.SleepSession) time.Time { return r.StartTime },
		func(r models.SleepSession) int64 { return r.ID },
		func(r models.SleepSession) bool { return filter.Matches(r.StartTime, r.DurationMillis) },
	)
	return items, total, nil
}

// ListVisits returns one page of place visits
func (s *InMemoryStore) ListVisits(_ context.Context, filter models.RecordFilter) ([]models.PlaceVisit, int64, error) {
	items, total := page(s.Visits(), filter,
		func(v models.PlaceVisit) time.Time { return v.EntryTime },
		func(v models.PlaceVisit) int64 { return v.ID },
		func(v models.PlaceVisit) bool {
			if filter.PlaceID > 0 && v.PlaceID != filter.PlaceID {
				return false
			}
			return filter.Matches(v.EntryTime, derefMillis(v.DurationMillis))
		},
	)
	return items, total, nil
}
