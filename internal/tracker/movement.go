package tracker

import (
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/spatial"
)

// DefaultMovementRadiusMeters is the radius a movement session has to leave to count as travel
const DefaultMovementRadiusMeters = 100.0

// MovementSession is an in-flight movement session.
//
// A session is a value: Advance returns the next session and never mutates
// its input. Centroid is the first known location of the session and is the
// reference point for the threshold; it does not drift with later fixes.
type MovementSession struct {
	Kind      models.ActivityKind
	StartTime time.Time

	Centroid     *spatial.Point
	LastLocation *spatial.Point

	MaxDistanceMeters float64
	ExceededThreshold bool // sticky until the session closes

	// Diagnostics only; classification never reads them
	PathMeters float64
	FixCount   int
}

// NewMovementSession opens a session seeded with the last known location, if any
func NewMovementSession(kind models.ActivityKind, start time.Time, lastKnown *spatial.Point) MovementSession {
	s := MovementSession{Kind: kind, StartTime: start}
	if lastKnown != nil {
		c := *lastKnown
		s.Centroid = &c
	}
	return s
}

// Advance folds one fix into the session.
// The first fix of a session with no centroid becomes the centroid.
func Advance(s MovementSession, fix models.LocationFix, radiusMeters float64) MovementSession {
	p := spatial.Point{Lat: fix.Latitude, Lon: fix.Longitude}

	if s.LastLocation != nil {
		s.PathMeters += spatial.Distance(*s.LastLocation, p)
	}
	if s.Centroid == nil {
		c := p
		s.Centroid = &c
	}

	d := spatial.Distance(*s.Centroid, p)
	if d > s.MaxDistanceMeters {
		s.MaxDistanceMeters = d
	}
	if d > radiusMeters {
		s.ExceededThreshold = true
	}

	last := p
	s.LastLocation = &last
	s.FixCount++
	return s
}

// Classification is the output of closing a movement session.
// At most one of Still and Movement is set; neither is set when no location was ever known.
type Classification struct {
	Still    *models.StillRecord
	Movement *models.MovementRecord
}

// Empty reports whether nothing should be emitted
func (c Classification) Empty() bool {
	return c.Still == nil && c.Movement == nil
}

// Classify closes a session at end.
//
// A session that never left the radius collapses into a StillRecord at the
// centroid carrying the intended kind. Otherwise it becomes a MovementRecord whose
// distance is the straight line from the centroid to the last location.
func Classify(s MovementSession, end time.Time) Classification {
	if s.Centroid == nil {
		return Classification{}
	}

	if !s.ExceededThreshold {
		d := end.Sub(s.StartTime).Milliseconds()
		kind := s.Kind
		return Classification{Still: &models.StillRecord{
			Latitude:                s.Centroid.Lat,
			Longitude:               s.Centroid.Lon,
			Timestamp:               s.StartTime,
			DurationMillis:          &d,
			WasSupposedToBeActivity: &kind,
		}}
	}

	endLoc := *s.Centroid
	if s.LastLocation != nil {
		endLoc = *s.LastLocation
	}
	return Classification{Movement: &models.MovementRecord{
		Kind:           s.Kind,
		StartLat:       s.Centroid.Lat,
		StartLon:       s.Centroid.Lon,
		EndLat:         endLoc.Lat,
		EndLon:         endLoc.Lon,
		StartTime:      s.StartTime,
		EndTime:        end,
		DistanceMeters: spatial.Distance(*s.Centroid, endLoc),
		ActuallyMoved:  true,
	}}
}
