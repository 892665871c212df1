package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
)

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type engineFixture struct {
	*trackerFixture
	engine *Engine
	cancel context.CancelFunc
	result chan error
}

func startEngine(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	f := newTrackerFixture(t, 0)
	g := NewGeofenceTracker(f.store, GeofenceConfig{Now: f.clock.Now}, discardLogger(), nil)
	e := NewEngine(f.tracker, g, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- e.Run(ctx) }()

	ef := &engineFixture{trackerFixture: f, engine: e, cancel: cancel, result: result}
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return ef
}

func (f *engineFixture) stop(t *testing.T) error {
	t.Helper()
	f.cancel()
	select {
	case <-f.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	return <-f.result
}

func (f *engineFixture) submit(t *testing.T, ev models.ActivityTransitionEvent) {
	t.Helper()
	if err := f.engine.SubmitTransition(context.Background(), ev); err != nil {
		t.Fatalf("SubmitTransition() error = %v", err)
	}
}

func (f *engineFixture) submitFix(t *testing.T, lat, lon float64, ts time.Time) {
	t.Helper()
	if err := f.engine.SubmitFix(context.Background(), models.LocationFix{Latitude: lat, Longitude: lon, Timestamp: ts}); err != nil {
		t.Fatalf("SubmitFix() error = %v", err)
	}
}

func TestEngineProcessesEventsInOrder(t *testing.T) {
	f := startEngine(t, EngineConfig{})

	f.submitFix(t, 37.0, -122.0, t0)
	f.submit(t, models.ActivityTransitionEvent{Kind: models.ActivityWalking, IsEnter: true, Timestamp: t0})
	f.submitFix(t, 37.0006, -122.0, t0.Add(5*time.Minute))
	f.submit(t, models.ActivityTransitionEvent{Kind: models.ActivityWalking, IsEnter: false, Timestamp: t0.Add(10 * time.Minute)})

	eventually(t, func() bool { return len(f.store.StillRecords()) == 1 })

	r := f.store.StillRecords()[0]
	if r.Latitude != 37.0 || *r.DurationMillis != 600_000 {
		t.Errorf("still record = %+v", r)
	}
	if err := f.stop(t); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestEngineShutdownClosesOpenSession(t *testing.T) {
	f := startEngine(t, EngineConfig{})

	f.submit(t, models.ActivityTransitionEvent{Kind: models.ActivityRunning, IsEnter: true, Timestamp: t0})
	f.submitFix(t, 37.0, -122.0, t0)
	f.submitFix(t, 37.01, -122.0, t0.Add(5*time.Minute))
	f.clock.Set(t0.Add(15 * time.Minute))

	if err := f.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	m := f.store.MovementRecords()
	if len(m) != 1 {
		t.Fatalf("got %d movement records, want 1", len(m))
	}
	if !m[0].EndTime.Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("EndTime = %v, want shutdown time", m[0].EndTime)
	}
}

func TestEngineRejectsEventsAfterStop(t *testing.T) {
	f := startEngine(t, EngineConfig{})
	if err := f.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	err := f.engine.SubmitTransition(context.Background(), models.ActivityTransitionEvent{Kind: models.ActivityWalking, IsEnter: true})
	if !errors.Is(err, ErrEngineStopped) {
		t.Errorf("SubmitTransition() error = %v, want ErrEngineStopped", err)
	}
	err = f.engine.SubmitFix(context.Background(), models.LocationFix{Latitude: 1, Longitude: 1})
	if !errors.Is(err, ErrEngineStopped) {
		t.Errorf("SubmitFix() error = %v, want ErrEngineStopped", err)
	}
}

func TestEngineRetriesFailedPersistence(t *testing.T) {
	f := startEngine(t, EngineConfig{
		RetryAttempts: 5,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	})
	f.store.failNext("InsertStill", 2)

	f.submitFix(t, 37.0, -122.0, t0)
	f.submit(t, models.ActivityTransitionEvent{Kind: models.ActivityStill, IsEnter: true, Timestamp: t0})
	f.submit(t, models.ActivityTransitionEvent{Kind: models.ActivityStill, IsEnter: false, Timestamp: t0.Add(time.Hour)})

	eventually(t, func() bool { return len(f.store.StillRecords()) == 1 })
	if got := f.store.callCount("InsertStill"); got != 3 {
		t.Errorf("InsertStill called %d times, want 3", got)
	}
	if err := f.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.tracker.Pending() != 0 {
		t.Errorf("Pending() = %d after stop, want 0", f.tracker.Pending())
	}
}

func TestEnginePeriodicRetry(t *testing.T) {
	f := startEngine(t, EngineConfig{
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
	})
	// The close and the immediate retry both fail; the ticker picks it up
	f.store.failNext("InsertStill", 2)

	f.submitFix(t, 37.0, -122.0, t0)
	f.submit(t, models.ActivityTransitionEvent{Kind: models.ActivityStill, IsEnter: true, Timestamp: t0})
	f.submit(t, models.ActivityTransitionEvent{Kind: models.ActivityStill, IsEnter: false, Timestamp: t0.Add(time.Hour)})

	eventually(t, func() bool { return len(f.store.StillRecords()) == 1 })
}

func TestEngineHandlesPlaceTransitions(t *testing.T) {
	f := startEngine(t, EngineConfig{})
	ctx := context.Background()

	home := models.Place{Name: "home", CenterLat: 37, CenterLon: -122, RadiusMeters: 100, IsActive: true}
	if _, err := f.store.InsertPlace(ctx, &home); err != nil {
		t.Fatal(err)
	}

	visit, err := f.engine.HandlePlaceTransition(ctx, models.PlaceTransition{PlaceID: home.ID, Kind: models.PlaceTransitionEnter, Timestamp: t0})
	if err != nil || visit == nil {
		t.Fatalf("HandlePlaceTransition() = %+v, %v", visit, err)
	}
	if f.engine.Geofence() == nil || f.engine.Tracker() != f.tracker {
		t.Error("engine accessors do not return its components")
	}
}
