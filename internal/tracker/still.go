package tracker

import (
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/spatial"
)

// StillSession is an in-flight still period
type StillSession struct {
	StartTime time.Time
	Location  *spatial.Point
}

// WithLocation sets the start location if it is still unknown
func (s StillSession) WithLocation(p spatial.Point) StillSession {
	if s.Location == nil {
		s.Location = &p
	}
	return s
}

// Close produces the still record for [StartTime, end). fallback is used when the
// session never learned its location; nil is returned when neither is known.
func (s StillSession) Close(end time.Time, fallback *spatial.Point) *models.StillRecord {
	loc := s.Location
	if loc == nil {
		loc = fallback
	}
	if loc == nil {
		return nil
	}

	d := end.Sub(s.StartTime).Milliseconds()
	return &models.StillRecord{
		Latitude:       loc.Lat,
		Longitude:      loc.Lon,
		Timestamp:      s.StartTime,
		DurationMillis: &d,
	}
}
