package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/repository"
	"github.com/jengzang/activity-records-go/internal/stats"
)

// MovementDetail is a movement record with its track
type MovementDetail struct {
	models.MovementRecord
	TrackPoints []models.TrackPoint `json:"track_points"`
}

// RecordService handles read queries over persisted records
type RecordService struct {
	store repository.QueryStore
}

// NewRecordService creates a new record service
func NewRecordService(store repository.QueryStore) *RecordService {
	return &RecordService{store: store}
}

// GetStillRecords retrieves still records with filtering and pagination
func (s *RecordService) GetStillRecords(ctx context.Context, filter models.RecordFilter) ([]models.StillRecord, int64, error) {
	return s.store.ListStillRecords(ctx, filter)
}

// GetMovementRecords retrieves movement records with filtering and pagination
func (s *RecordService) GetMovementRecords(ctx context.Context, filter models.RecordFilter) ([]models.MovementRecord, int64, error) {
	return s.store.ListMovementRecords(ctx, filter)
}

// GetMovementDetail retrieves a movement record and its track points, nil if absent
func (s *RecordService) GetMovementDetail(ctx context.Context, id int64) (*MovementDetail, error) {
	m, err := s.store.GetMovementRecord(ctx, id)
	if err != nil || m == nil {
		return nil, err
	}
	points, err := s.store.ListTrackPoints(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list track points: %w", err)
	}
	return &MovementDetail{MovementRecord: *m, TrackPoints: points}, nil
}

// GetSleepSessions retrieves sleep sessions with filtering and pagination
func (s *RecordService) GetSleepSessions(ctx context.Context, filter models.RecordFilter) ([]models.SleepSession, int64, error) {
	return s.store.ListSleepSessions(ctx, filter)
}

// GetVisits retrieves place visits with filtering and pagination
func (s *RecordService) GetVisits(ctx context.Context, filter models.RecordFilter) ([]models.PlaceVisit, int64, error) {
	return s.store.ListVisits(ctx, filter)
}

// KindSummary aggregates movement sessions of one activity kind
type KindSummary struct {
	Kind            models.ActivityKind `json:"kind"`
	DistanceMeters  stats.Summary       `json:"distance_meters"`
	DurationMinutes stats.Summary       `json:"duration_minutes"`
}

// RecordSummary aggregates every record type over a time window
type RecordSummary struct {
	StillCount          int           `json:"still_count"`
	StillHours          float64       `json:"still_hours"`
	Movement            []KindSummary `json:"movement"`
	SleepHours          stats.Summary `json:"sleep_hours"`
	VisitMinutes        stats.Summary `json:"visit_minutes"`
	OpenVisits          int           `json:"open_visits"`
	ActivityEntropyBits float64       `json:"activity_entropy_bits"`
}

// collect pages through a query until every matching row is read
func collect[T any](ctx context.Context, filter models.RecordFilter, query func(context.Context, models.RecordFilter) ([]T, int64, error)) ([]T, error) {
	filter.Page = 1
	filter.PageSize = models.MaxPageSize
	var all []T
	for {
		items, total, err := query(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) == 0 || int64(len(all)) >= total {
			return all, nil
		}
		filter.Page++
	}
}

// GetSummary aggregates records starting inside the filter's time window.
// Kind, place and paging fields of the filter are ignored.
func (s *RecordService) GetSummary(ctx context.Context, filter models.RecordFilter) (*RecordSummary, error) {
	window := models.RecordFilter{StartTime: filter.StartTime, EndTime: filter.EndTime}

	still, err := collect(ctx, window, s.store.ListStillRecords)
	if err != nil {
		return nil, fmt.Errorf("collect still records: %w", err)
	}
	movement, err := collect(ctx, window, s.store.ListMovementRecords)
	if err != nil {
		return nil, fmt.Errorf("collect movement records: %w", err)
	}
	sleep, err := collect(ctx, window, s.store.ListSleepSessions)
	if err != nil {
		return nil, fmt.Errorf("collect sleep sessions: %w", err)
	}
	visits, err := collect(ctx, window, s.store.ListVisits)
	if err != nil {
		return nil, fmt.Errorf("collect visits: %w", err)
	}

	summary := &RecordSummary{StillCount: len(still), Movement: []KindSummary{}}

	// Time spent per kind, still included, feeds the entropy
	timeByKind := make(map[models.ActivityKind]float64)
	for _, r := range still {
		if r.DurationMillis != nil {
			hours := float64(*r.DurationMillis) / float64(3600000)
			summary.StillHours += hours
			timeByKind[models.ActivityStill] += hours
		}
	}

	distances := make(map[models.ActivityKind][]float64)
	durations := make(map[models.ActivityKind][]float64)
	for _, m := range movement {
		distances[m.Kind] = append(distances[m.Kind], m.DistanceMeters)
		durations[m.Kind] = append(durations[m.Kind], m.Duration().Minutes())
		timeByKind[m.Kind] += m.Duration().Hours()
	}
	for kind := range distances {
		summary.Movement = append(summary.Movement, KindSummary{
			Kind:            kind,
			DistanceMeters:  stats.Summarize(distances[kind]),
			DurationMinutes: stats.Summarize(durations[kind]),
		})
	}
	sort.Slice(summary.Movement, func(i, j int) bool {
		return summary.Movement[i].Kind < summary.Movement[j].Kind
	})

	sleepHours := make([]float64, 0, len(sleep))
	for _, sl := range sleep {
		sleepHours = append(sleepHours, float64(sl.DurationMillis)/float64(3600000))
	}
	summary.SleepHours = stats.Summarize(sleepHours)

	visitMinutes := make([]float64, 0, len(visits))
	for _, v := range visits {
		if v.IsOpen() || v.DurationMillis == nil {
			summary.OpenVisits++
			continue
		}
		visitMinutes = append(visitMinutes, float64(*v.DurationMillis)/float64(60000))
	}
	summary.VisitMinutes = stats.Summarize(visitMinutes)

	weights := make([]float64, 0, len(timeByKind))
	for _, hours := range timeByKind {
		weights = append(weights, hours)
	}
	summary.ActivityEntropyBits = stats.ShannonEntropy(weights)

	return summary, nil
}
