package models

import "time"

// StillRecord is a persisted still period
type StillRecord struct {
	ID             int64     `json:"id" db:"id"`
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp_ms"`
	DurationMillis *int64    `json:"duration_millis,omitempty" db:"duration_ms"`

	// Set only when a movement session collapsed into a still classification
	WasSupposedToBeActivity *ActivityKind `json:"was_supposed_to_be_activity,omitempty" db:"was_supposed_to_be"`
}

// MovementRecord is a persisted movement session that actually left the threshold radius
type MovementRecord struct {
	ID        int64        `json:"id" db:"id"`
	Kind      ActivityKind `json:"kind" db:"kind"`
	StartLat  float64      `json:"start_lat" db:"start_lat"`
	StartLon  float64      `json:"start_lon" db:"start_lon"`
	EndLat    float64      `json:"end_lat" db:"end_lat"`
	EndLon    float64      `json:"end_lon" db:"end_lon"`
	StartTime time.Time    `json:"start_time" db:"start_ms"`
	EndTime   time.Time    `json:"end_time" db:"end_ms"`

	// Straight-line start to end distance, not path length
	DistanceMeters  float64 `json:"distance_meters" db:"distance_m"`
	ActuallyMoved   bool    `json:"actually_moved" db:"actually_moved"`
	TrackPointCount int     `json:"track_point_count" db:"track_point_count"`
}

// Duration returns the session length
func (m MovementRecord) Duration() time.Duration {
	return m.EndTime.Sub(m.StartTime)
}

// SleepSession is a still interval classified as sleep
type SleepSession struct {
	ID             int64     `json:"id" db:"id"`
	StartTime      time.Time `json:"start_time" db:"start_ms"`
	EndTime        time.Time `json:"end_time" db:"end_ms"`
	DurationMillis int64     `json:"duration_millis" db:"duration_ms"`
	Latitude       *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude      *float64  `json:"longitude,omitempty" db:"longitude"`
	Source         string    `json:"source" db:"source"`
}

// Overlaps reports whether the half-open intervals [StartTime, EndTime) and [start, end) intersect
func (s SleepSession) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// SleepSource constants
const (
	SleepSourceActivity = "activity_recognition"
)
