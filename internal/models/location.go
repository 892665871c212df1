package models

import "time"

// LocationFix is a raw geolocation fix delivered by the location source
type LocationFix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Timestamp      time.Time `json:"timestamp"`
	Speed          *float64  `json:"speed,omitempty"` // m/s, nil when the platform did not report one
	AccuracyMeters float64   `json:"accuracy_meters"`
}

// TrackPoint is a buffered fix belonging to a movement session
type TrackPoint struct {
	ID             int64     `json:"id" db:"id"`
	MovementID     *int64    `json:"movement_id,omitempty" db:"movement_id"` // nil until the movement record exists
	PendingKey     string    `json:"pending_key,omitempty" db:"pending_key"` // session handle for points flushed before the id is known
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp_ms"`
	Speed          *float64  `json:"speed,omitempty" db:"speed"`
	AccuracyMeters float64   `json:"accuracy_meters" db:"accuracy_m"`
}

// TrackPointFromFix converts a fix into an unassigned track point
func TrackPointFromFix(fix LocationFix) TrackPoint {
	return TrackPoint{
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		Timestamp:      fix.Timestamp,
		Speed:          fix.Speed,
		AccuracyMeters: fix.AccuracyMeters,
	}
}
