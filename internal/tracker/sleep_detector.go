package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/repository"
)

// SleepDecision is the outcome of evaluating one still interval
type SleepDecision string

// SleepDecision values
const (
	SleepAccepted            SleepDecision = "accepted"
	SleepRejectedNonPositive SleepDecision = "non_positive"
	SleepRejectedTooShort    SleepDecision = "too_short"
	SleepRejectedTooLong     SleepDecision = "too_long"
	SleepRejectedNoNight     SleepDecision = "no_night_overlap"
	SleepRejectedDuplicate   SleepDecision = "duplicate"
)

// SleepConfig holds sleep heuristics
type SleepConfig struct {
	MinDuration    time.Duration
	MaxDuration    time.Duration
	NightStartHour int // inclusive
	NightEndHour   int // exclusive, wraps past midnight when smaller than NightStartHour
	Location       *time.Location
	Source         string
}

// DefaultSleepConfig returns 2h-12h sleeps overlapping 21:00-06:00 local time
func DefaultSleepConfig() SleepConfig {
	return SleepConfig{
		MinDuration:    2 * time.Hour,
		MaxDuration:    12 * time.Hour,
		NightStartHour: 21,
		NightEndHour:   6,
		Location:       time.Local,
		Source:         models.SleepSourceActivity,
	}
}

func (c SleepConfig) withDefaults() SleepConfig {
	d := DefaultSleepConfig()
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.NightStartHour == 0 && c.NightEndHour == 0 {
		c.NightStartHour, c.NightEndHour = d.NightStartHour, d.NightEndHour
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	if c.Source == "" {
		c.Source = d.Source
	}
	return c
}

// SleepDetector turns completed still intervals into sleep sessions
type SleepDetector struct {
	store   repository.SleepStore
	cfg     SleepConfig
	logger  *slog.Logger
	metrics *Metrics

	// Held across the overlap query and the insert
	mu sync.Mutex
}

// NewSleepDetector creates a sleep detector
func NewSleepDetector(store repository.SleepStore, cfg SleepConfig, logger *slog.Logger, metrics *Metrics) *SleepDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &SleepDetector{
		store:   store,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// IsNonPositive reports whether end does not come after start
func IsNonPositive(start, end time.Time) bool {
	return !end.After(start)
}

// IsTooShort reports whether the interval is shorter than minDuration
func IsTooShort(start, end time.Time, minDuration time.Duration) bool {
	return end.Sub(start) < minDuration
}

// IsTooLong reports whether the interval is longer than maxDuration
func IsTooLong(start, end time.Time, maxDuration time.Duration) bool {
	return end.Sub(start) > maxDuration
}

// IsNightHour reports whether hour falls in [startHour, endHour), wrapping past midnight
func IsNightHour(hour, startHour, endHour int) bool {
	if startHour <= endHour {
		return hour >= startHour && hour < endHour
	}
	return hour >= startHour || hour < endHour
}

// OverlapsNight reports whether [start, end) touches the night window in loc.
// Overlap holds if either endpoint hour is a night hour or the interval crosses a
// calendar day. Otherwise each whole hour inside the interval is probed.
func OverlapsNight(start, end time.Time, loc *time.Location, startHour, endHour int) bool {
	if loc == nil {
		loc = time.Local
	}
	s, e := start.In(loc), end.In(loc)

	if IsNightHour(s.Hour(), startHour, endHour) || IsNightHour(e.Hour(), startHour, endHour) {
		return true
	}

	sy, sm, sd := s.Date()
	ey, em, ed := e.Date()
	if sy != ey || sm != em || sd != ed {
		return true
	}

	for probe := time.Date(sy, sm, sd, s.Hour()+1, 0, 0, 0, loc); probe.Before(e); probe = probe.Add(time.Hour) {
		if IsNightHour(probe.Hour(), startHour, endHour) {
			return true
		}
	}
	return false
}

// Check runs the rejection predicates in order without touching the store.
// It returns SleepAccepted when the interval is a sleep candidate.
func (d *SleepDetector) Check(start, end time.Time) SleepDecision {
	switch {
	case IsNonPositive(start, end):
		return SleepRejectedNonPositive
	case IsTooShort(start, end, d.cfg.MinDuration):
		return SleepRejectedTooShort
	case IsTooLong(start, end, d.cfg.MaxDuration):
		return SleepRejectedTooLong
	case !OverlapsNight(start, end, d.cfg.Location, d.cfg.NightStartHour, d.cfg.NightEndHour):
		return SleepRejectedNoNight
	}
	return SleepAccepted
}

// Evaluate classifies a completed still interval and stores it when it is a new sleep session.
// Rejections, duplicates included, are not errors.
func (d *SleepDetector) Evaluate(ctx context.Context, start, end time.Time, lat, lon *float64) (SleepDecision, *models.SleepSession, error) {
	if decision := d.Check(start, end); decision != SleepAccepted {
		d.metrics.IncSleepEvaluation(decision)
		d.logger.Debug("SleepDetector.Evaluate: rejected", "decision", decision, "start", start, "end", end)
		return decision, nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.store.QueryOverlappingSleepSession(ctx, start, end)
	if err != nil {
		d.metrics.IncPersistenceError("query_sleep_overlap")
		return "", nil, persistenceError("query overlapping sleep session", err)
	}
	if existing != nil {
		d.metrics.IncSleepEvaluation(SleepRejectedDuplicate)
		d.logger.Debug("SleepDetector.Evaluate: overlaps stored session", "existing_id", existing.ID, "start", start, "end", end)
		return SleepRejectedDuplicate, nil, nil
	}

	session := &models.SleepSession{
		StartTime:      start,
		EndTime:        end,
		DurationMillis: end.Sub(start).Milliseconds(),
		Latitude:       lat,
		Longitude:      lon,
		Source:         d.cfg.Source,
	}
	if _, err := d.store.InsertSleepSession(ctx, session); err != nil {
		d.metrics.IncPersistenceError("insert_sleep_session")
		return "", nil, persistenceError("insert sleep session", err)
	}

	d.metrics.IncSleepEvaluation(SleepAccepted)
	d.logger.Info("SleepDetector.Evaluate: sleep session recorded", "id", session.ID, "start", start, "end", end,
		"duration", end.Sub(start))
	return SleepAccepted, session, nil
}
