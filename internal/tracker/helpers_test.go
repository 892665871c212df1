package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/repository"
)

var errStoreDown = errors.New("store unavailable")

// flakyStore wraps the in-memory store, failing selected operations a set number of times
type flakyStore struct {
	*repository.InMemoryStore

	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		InMemoryStore: repository.NewInMemoryStore(),
		failures:      make(map[string]int),
		calls:         make(map[string]int),
	}
}

// failNext makes the next n calls of op fail
func (s *flakyStore) failNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

func (s *flakyStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *flakyStore) hit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if s.failures[op] > 0 {
		s.failures[op]--
		return errStoreDown
	}
	return nil
}

func (s *flakyStore) InsertStill(ctx context.Context, r *models.StillRecord) (int64, error) {
	if err := s.hit("InsertStill"); err != nil {
		return 0, err
	}
	return s.InMemoryStore.InsertStill(ctx, r)
}

func (s *flakyStore) InsertMovement(ctx context.Context, r *models.MovementRecord) (int64, error) {
	if err := s.hit("InsertMovement"); err != nil {
		return 0, err
	}
	return s.InMemoryStore.InsertMovement(ctx, r)
}

func (s *flakyStore) UpdateMovement(ctx context.Context, r *models.MovementRecord) error {
	if err := s.hit("UpdateMovement"); err != nil {
		return err
	}
	return s.InMemoryStore.UpdateMovement(ctx, r)
}

func (s *flakyStore) InsertTrackPoints(ctx context.Context, points []models.TrackPoint) error {
	if err := s.hit("InsertTrackPoints"); err != nil {
		return err
	}
	return s.InMemoryStore.InsertTrackPoints(ctx, points)
}

func (s *flakyStore) AssignTrackPoints(ctx context.Context, pendingKey string, movementID int64) (int64, error) {
	if err := s.hit("AssignTrackPoints"); err != nil {
		return 0, err
	}
	return s.InMemoryStore.AssignTrackPoints(ctx, pendingKey, movementID)
}

func (s *flakyStore) QueryOverlappingSleepSession(ctx context.Context, start, end time.Time) (*models.SleepSession, error) {
	if err := s.hit("QueryOverlappingSleepSession"); err != nil {
		return nil, err
	}
	return s.InMemoryStore.QueryOverlappingSleepSession(ctx, start, end)
}

func (s *flakyStore) GetPlace(ctx context.Context, id int64) (*models.Place, error) {
	if err := s.hit("GetPlace"); err != nil {
		return nil, err
	}
	return s.InMemoryStore.GetPlace(ctx, id)
}

func (s *flakyStore) InsertVisit(ctx context.Context, v *models.PlaceVisit) (int64, error) {
	if err := s.hit("InsertVisit"); err != nil {
		return 0, err
	}
	return s.InMemoryStore.InsertVisit(ctx, v)
}

func (s *flakyStore) UpdateVisit(ctx context.Context, v *models.PlaceVisit) error {
	if err := s.hit("UpdateVisit"); err != nil {
		return err
	}
	return s.InMemoryStore.UpdateVisit(ctx, v)
}

// fakeClock is a settable clock
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// t0 is a weekday evening in UTC
var t0 = time.Date(2024, 5, 14, 18, 0, 0, 0, time.UTC)

func utcSleepConfig() SleepConfig {
	cfg := DefaultSleepConfig()
	cfg.Location = time.UTC
	return cfg
}

type trackerFixture struct {
	store   *flakyStore
	clock   *fakeClock
	sleep   *SleepDetector
	tracker *ActivityTracker
}

func newTrackerFixture(t *testing.T, bufferSize int) *trackerFixture {
	t.Helper()
	store := newFlakyStore()
	clock := newFakeClock(t0)
	sleep := NewSleepDetector(store, utcSleepConfig(), discardLogger(), nil)
	tr := NewActivityTracker(store, sleep, TrackerConfig{TrackBufferSize: bufferSize, Now: clock.Now}, discardLogger(), nil)
	return &trackerFixture{store: store, clock: clock, sleep: sleep, tracker: tr}
}

func (f *trackerFixture) transition(t *testing.T, kind models.ActivityKind, enter bool, at time.Time) error {
	t.Helper()
	return f.tracker.OnTransition(context.Background(), models.ActivityTransitionEvent{Kind: kind, IsEnter: enter, Timestamp: at})
}

func (f *trackerFixture) mustTransition(t *testing.T, kind models.ActivityKind, enter bool, at time.Time) {
	t.Helper()
	if err := f.transition(t, kind, enter, at); err != nil {
		t.Fatalf("OnTransition(%s, enter=%v) error = %v", kind, enter, err)
	}
}

func (f *trackerFixture) mustFix(t *testing.T, lat, lon float64, at time.Time) {
	t.Helper()
	if err := f.tracker.OnLocationFix(context.Background(), models.LocationFix{Latitude: lat, Longitude: lon, Timestamp: at}); err != nil {
		t.Fatalf("OnLocationFix(%v, %v) error = %v", lat, lon, err)
	}
}
