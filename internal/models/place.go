package models

import (
	"errors"
	"strings"
	"time"
)

// Place is a tracked geofence
type Place struct {
	ID            int64   `json:"id" db:"id"`
	Name          string  `json:"name" db:"name"`
	CenterLat     float64 `json:"center_lat" db:"center_lat"`
	CenterLon     float64 `json:"center_lon" db:"center_lon"`
	RadiusMeters  float64 `json:"radius_meters" db:"radius_m"`
	NotifyOnEnter bool    `json:"notify_on_enter" db:"notify_on_enter"`
	NotifyOnExit  bool    `json:"notify_on_exit" db:"notify_on_exit"`
	IsActive      bool    `json:"is_active" db:"is_active"`
}

// Place validation errors
var (
	ErrEmptyPlaceName     = errors.New("place name cannot be empty")
	ErrInvalidCoordinates = errors.New("coordinates out of range")
	ErrInvalidRadius      = errors.New("radius must be positive")
)

// Validate checks the fields a host must supply when creating a place
func (p *Place) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyPlaceName
	}
	if !ValidCoordinates(p.CenterLat, p.CenterLon) {
		return ErrInvalidCoordinates
	}
	if p.RadiusMeters <= 0 {
		return ErrInvalidRadius
	}
	return nil
}

// ValidCoordinates reports whether lat/lon are within WGS84 degree ranges
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// PlaceVisit is one open-to-closed presence interval inside a place
type PlaceVisit struct {
	ID             int64      `json:"id" db:"id"`
	PlaceID        int64      `json:"place_id" db:"place_id"`
	EntryTime      time.Time  `json:"entry_time" db:"entry_ms"`
	ExitTime       *time.Time `json:"exit_time,omitempty" db:"exit_ms"`
	DurationMillis *int64     `json:"duration_millis,omitempty" db:"duration_ms"`
	EntryLat       float64    `json:"entry_lat" db:"entry_lat"`
	EntryLon       float64    `json:"entry_lon" db:"entry_lon"`
	ExitLat        *float64   `json:"exit_lat,omitempty" db:"exit_lat"`
	ExitLon        *float64   `json:"exit_lon,omitempty" db:"exit_lon"`
}

// IsOpen reports whether the visit has not been closed yet
func (v PlaceVisit) IsOpen() bool {
	return v.ExitTime == nil
}

// PlaceEventType is the persisted transition type
type PlaceEventType string

// PlaceEventType constants
const (
	PlaceEventEnter PlaceEventType = "ENTER"
	PlaceEventExit  PlaceEventType = "EXIT"
)

// PlaceTransitionEvent is an append-only log entry of a place enter/exit
type PlaceTransitionEvent struct {
	ID        int64          `json:"id" db:"id"`
	PlaceID   int64          `json:"place_id" db:"place_id"`
	EventType PlaceEventType `json:"event_type" db:"event_type"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp_ms"`
	Latitude  float64        `json:"latitude" db:"latitude"`
	Longitude float64        `json:"longitude" db:"longitude"`
}

// PlaceTransitionKind is the geofence callback type
type PlaceTransitionKind string

// PlaceTransitionKind constants
const (
	PlaceTransitionEnter PlaceTransitionKind = "ENTER"
	PlaceTransitionExit  PlaceTransitionKind = "EXIT"
	PlaceTransitionDwell PlaceTransitionKind = "DWELL"
)

// ParsePlaceTransitionKind parses a geofence transition name (case-insensitive)
func ParsePlaceTransitionKind(s string) (PlaceTransitionKind, bool) {
	switch PlaceTransitionKind(strings.ToUpper(strings.TrimSpace(s))) {
	case PlaceTransitionEnter:
		return PlaceTransitionEnter, true
	case PlaceTransitionExit:
		return PlaceTransitionExit, true
	case PlaceTransitionDwell:
		return PlaceTransitionDwell, true
	}
	return "", false
}

// PlaceTransition is one geofence callback delivered by the platform
type PlaceTransition struct {
	PlaceID   int64               `json:"place_id"`
	Kind      PlaceTransitionKind `json:"kind"`
	Latitude  *float64            `json:"latitude,omitempty"` // triggering location, if the platform supplied one
	Longitude *float64            `json:"longitude,omitempty"`
	Timestamp time.Time           `json:"timestamp"` // zero means "now"
}
