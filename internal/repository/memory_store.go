package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
)

// InMemoryStore implements Store in process memory. Used by db_driver=memory and tests.
type InMemoryStore struct {
	mu sync.RWMutex

	nextID      int64
	stills      []models.StillRecord
	movements   map[int64]models.MovementRecord
	trackPoints []models.TrackPoint
	sleeps      []models.SleepSession
	places      map[int64]models.Place
	visits      map[int64]models.PlaceVisit
	events      []models.PlaceTransitionEvent
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		movements: make(map[int64]models.MovementRecord),
		places:    make(map[int64]models.Place),
		visits:    make(map[int64]models.PlaceVisit),
	}
}

func (s *InMemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// InsertStill stores a still record and sets its ID
func (s *InMemoryStore) InsertStill(_ context.Context, r *models.StillRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id()
	s.stills = append(s.stills, *r)
	return r.ID, nil
}

// InsertMovement stores a movement record and sets its ID
func (s *InMemoryStore) InsertMovement(_ context.Context, r *models.MovementRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id()
	s.movements[r.ID] = *r
	return r.ID, nil
}

// UpdateMovement replaces a movement record by ID
func (s *InMemoryStore) UpdateMovement(_ context.Context, r *models.MovementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.movements[r.ID]; !ok {
		return fmt.Errorf("movement record %d not found", r.ID)
	}
	s.movements[r.ID] = *r
	return nil
}

// InsertTrackPoints stores a batch of track points
func (s *InMemoryStore) InsertTrackPoints(_ context.Context, points []models.TrackPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		p.ID = s.id()
		s.trackPoints = append(s.trackPoints, p)
	}
	return nil
}

// AssignTrackPoints stamps pending points with their movement id
func (s *InMemoryStore) AssignTrackPoints(_ context.Context, pendingKey string, movementID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.trackPoints {
		p := &s.trackPoints[i]
		if p.MovementID == nil && p.PendingKey == pendingKey {
			id := movementID
			p.MovementID = &id
			p.PendingKey = ""
			n++
		}
	}
	return n, nil
}

// DeletePendingTrackPoints removes the pending points of a session
func (s *InMemoryStore) DeletePendingTrackPoints(_ context.Context, pendingKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterTrackPoints(func(p models.TrackPoint) bool {
		return p.MovementID == nil && p.PendingKey == pendingKey
	}), nil
}

// CountTrackPoints returns the number of points stamped with a movement id
func (s *InMemoryStore) CountTrackPoints(_ context.Context, movementID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.trackPoints {
		if p.MovementID != nil && *p.MovementID == movementID {
			n++
		}
	}
	return n, nil
}

// filterTrackPoints drops points matching drop and returns how many were dropped
func (s *InMemoryStore) filterTrackPoints(drop func(models.TrackPoint) bool) int64 {
	kept := s.trackPoints[:0]
	var n int64
	for _, p := range s.trackPoints {
		if drop(p) {
			n++
			continue
		}
		kept = append(kept, p)
	}
	s.trackPoints = kept
	return n
}

// QueryOverlappingSleepSession returns the earliest session intersecting [start, end)
func (s *InMemoryStore) QueryOverlappingSleepSession(_ context.Context, start, end time.Time) (*models.SleepSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.SleepSession
	for i := range s.sleeps {
		if s.sleeps[i].Overlaps(start, end) && (found == nil || s.sleeps[i].StartTime.Before(found.StartTime)) {
			session := s.sleeps[i]
			found = &session
		}
	}
	return found, nil
}

// InsertSleepSession stores a sleep session and sets its ID
func (s *InMemoryStore) InsertSleepSession(_ context.Context, session *models.SleepSession) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.ID = s.id()
	s.sleeps = append(s.sleeps, *session)
	return session.ID, nil
}

// GetPlace returns a place by ID, nil if absent
func (s *InMemoryStore) GetPlace(_ context.Context, id int64) (*models.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.places[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListActivePlaces returns every active place ordered by ID
func (s *InMemoryStore) ListActivePlaces(_ context.Context) ([]models.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var places []models.Place
	for _, p := range s.places {
		if p.IsActive {
			places = append(places, p)
		}
	}
	sort.Slice(places, func(i, j int) bool { return places[i].ID < places[j].ID })
	return places, nil
}

// InsertPlace stores a place and sets its ID
func (s *InMemoryStore) InsertPlace(_ context.Context, p *models.Place) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	s.places[p.ID] = *p
	return p.ID, nil
}

// GetOpenVisit returns the open visit for a place, nil if none
func (s *InMemoryStore) GetOpenVisit(_ context.Context, placeID int64) (*models.PlaceVisit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.visits {
		if v.PlaceID == placeID && v.IsOpen() {
			return &v, nil
		}
	}
	return nil, nil
}

// InsertVisit stores a visit and sets its ID. A second open visit for the same place is rejected.
func (s *InMemoryStore) InsertVisit(_ context.Context, v *models.PlaceVisit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.IsOpen() {
		for _, existing := range s.visits {
			if existing.PlaceID == v.PlaceID && existing.IsOpen() {
				return 0, fmt.Errorf("place %d already has open visit %d", v.PlaceID, existing.ID)
			}
		}
	}
	v.ID = s.id()
	s.visits[v.ID] = *v
	return v.ID, nil
}

// UpdateVisit replaces a visit by ID
func (s *InMemoryStore) UpdateVisit(_ context.Context, v *models.PlaceVisit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visits[v.ID]; !ok {
		return fmt.Errorf("visit %d not found", v.ID)
	}
	s.visits[v.ID] = *v
	return nil
}

// InsertTransitionEvent appends an enter/exit event
func (s *InMemoryStore) InsertTransitionEvent(_ context.Context, e *models.PlaceTransitionEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	s.events = append(s.events, *e)
	return e.ID, nil
}

// DeleteStillBefore deletes still records that started before cutoff
func (s *InMemoryStore) DeleteStillBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.stills[:0]
	var n int64
	for _, r := range s.stills {
		if r.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.stills = kept
	return n, nil
}

// DeleteMovementBefore deletes movement records that ended before cutoff, with their track points
func (s *InMemoryStore) DeleteMovementBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.movements {
		if r.EndTime.Before(cutoff) {
			delete(s.movements, id)
			n++
		}
	}
	s.filterTrackPoints(func(p models.TrackPoint) bool {
		if p.MovementID == nil {
			return false
		}
		_, ok := s.movements[*p.MovementID]
		return !ok
	})
	return n, nil
}

// DeleteEventsBefore deletes place transition events older than cutoff
func (s *InMemoryStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

// DeleteVisitsBefore deletes closed visits that ended before cutoff
func (s *InMemoryStore) DeleteVisitsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, v := range s.visits {
		if v.ExitTime != nil && v.ExitTime.Before(cutoff) {
			delete(s.visits, id)
			n++
		}
	}
	return n, nil
}

// DeletePendingTrackPointsBefore deletes unassigned points recorded before cutoff
func (s *InMemoryStore) DeletePendingTrackPointsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterTrackPoints(func(p models.TrackPoint) bool {
		return p.MovementID == nil && p.Timestamp.Before(cutoff)
	}), nil
}

// Snapshot accessors for tests and the read API

// StillRecords returns a copy of all still records
func (s *InMemoryStore) StillRecords() []models.StillRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.StillRecord(nil), s.stills...)
}

// MovementRecords returns all movement records ordered by ID
func (s *InMemoryStore) MovementRecords() []models.MovementRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MovementRecord, 0, len(s.movements))
	for _, r := range s.movements {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TrackPoints returns a copy of all track points
func (s *InMemoryStore) TrackPoints() []models.TrackPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TrackPoint(nil), s.trackPoints...)
}

// SleepSessions returns a copy of all sleep sessions
func (s *InMemoryStore) SleepSessions() []models.SleepSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SleepSession(nil), s.sleeps...)
}

// Visits returns all visits ordered by ID
func (s *InMemoryStore) Visits() []models.PlaceVisit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PlaceVisit, 0, len(s.visits))
	for _, v := range s.visits {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TransitionEvents returns a copy of the transition log
func (s *InMemoryStore) TransitionEvents() []models.PlaceTransitionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PlaceTransitionEvent(nil), s.events...)
}
