package tracker

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
	"github.com/jengzang/activity-records-go/internal/spatial"
)

func TestWalkWithinRadiusRecordsStill(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustFix(t, 37.0, -122.0, t0)
	f.mustTransition(t, models.ActivityWalking, true, t0)
	f.mustFix(t, 37.0006, -122.0, t0.Add(5*time.Minute))
	f.mustTransition(t, models.ActivityWalking, false, t0.Add(10*time.Minute))

	stills := f.store.StillRecords()
	if len(stills) != 1 {
		t.Fatalf("got %d still records, want 1", len(stills))
	}
	r := stills[0]
	if r.Latitude != 37.0 || r.Longitude != -122.0 {
		t.Errorf("still at (%v, %v), want (37, -122)", r.Latitude, r.Longitude)
	}
	if r.WasSupposedToBeActivity == nil || *r.WasSupposedToBeActivity != models.ActivityWalking {
		t.Errorf("WasSupposedToBeActivity = %v, want WALKING", r.WasSupposedToBeActivity)
	}
	if r.DurationMillis == nil || *r.DurationMillis != 600_000 {
		t.Errorf("DurationMillis = %v, want 600000", r.DurationMillis)
	}
	if !r.Timestamp.Equal(t0) {
		t.Errorf("Timestamp = %v, want session start", r.Timestamp)
	}
	if got := len(f.store.MovementRecords()); got != 0 {
		t.Errorf("got %d movement records, want 0", got)
	}
	if got := len(f.store.TrackPoints()); got != 0 {
		t.Errorf("got %d track points, want 0", got)
	}
}

func TestWalkBeyondRadiusRecordsMovement(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustTransition(t, models.ActivityWalking, true, t0)
	f.mustFix(t, 37.0, -122.0, t0)
	f.mustFix(t, 37.002, -122.0, t0.Add(5*time.Minute))
	f.mustTransition(t, models.ActivityWalking, false, t0.Add(10*time.Minute))

	movements := f.store.MovementRecords()
	if len(movements) != 1 {
		t.Fatalf("got %d movement records, want 1", len(movements))
	}
	m := movements[0]
	if math.Abs(m.DistanceMeters-222.4) > 0.5 {
		t.Errorf("DistanceMeters = %v, want ~222.4", m.DistanceMeters)
	}
	if m.Kind != models.ActivityWalking || !m.ActuallyMoved {
		t.Errorf("unexpected record %+v", m)
	}
	if m.StartLat != 37.0 || m.EndLat != 37.002 {
		t.Errorf("start/end lat = %v/%v", m.StartLat, m.EndLat)
	}
	if m.Duration() != 10*time.Minute {
		t.Errorf("Duration() = %v, want 10m", m.Duration())
	}
	if m.TrackPointCount != 2 {
		t.Errorf("TrackPointCount = %d, want 2", m.TrackPointCount)
	}
	for _, p := range f.store.TrackPoints() {
		if p.MovementID == nil || *p.MovementID != m.ID {
			t.Errorf("track point %d not attached to movement %d", p.ID, m.ID)
		}
	}
	if got := len(f.store.StillRecords()); got != 0 {
		t.Errorf("got %d still records, want 0", got)
	}
}

func TestTrackBufferFlushesPendingPoints(t *testing.T) {
	f := newTrackerFixture(t, 3)
	origin := spatial.Point{Lat: 37, Lon: -122}

	f.mustTransition(t, models.ActivityRunning, true, t0)
	for i := range 7 {
		lat, lon := spatial.DestinationPoint(origin.Lat, origin.Lon, 90, float64(i)*50)
		f.mustFix(t, lat, lon, t0.Add(time.Duration(i)*time.Minute))
	}

	pending := f.store.TrackPoints()
	if len(pending) != 6 {
		t.Fatalf("got %d flushed points before close, want 6", len(pending))
	}
	key := pending[0].PendingKey
	for _, p := range pending {
		if p.MovementID != nil || p.PendingKey == "" || p.PendingKey != key {
			t.Fatalf("flushed point not pending under one key: %+v", p)
		}
	}

	f.mustTransition(t, models.ActivityRunning, false, t0.Add(10*time.Minute))

	m := f.store.MovementRecords()
	if len(m) != 1 {
		t.Fatalf("got %d movement records, want 1", len(m))
	}
	if m[0].TrackPointCount != 7 {
		t.Errorf("TrackPointCount = %d, want 7", m[0].TrackPointCount)
	}
	n, err := f.store.CountTrackPoints(context.Background(), m[0].ID)
	if err != nil || n != 7 {
		t.Errorf("CountTrackPoints() = %d, %v, want 7", n, err)
	}
	for _, p := range f.store.TrackPoints() {
		if p.MovementID == nil || p.PendingKey != "" {
			t.Errorf("point still pending after close: %+v", p)
		}
	}
}

func TestCollapsedSessionDropsPendingPoints(t *testing.T) {
	f := newTrackerFixture(t, 2)
	origin := spatial.Point{Lat: 37, Lon: -122}

	f.mustTransition(t, models.ActivityOnFoot, true, t0)
	for i := range 4 {
		lat, lon := spatial.DestinationPoint(origin.Lat, origin.Lon, float64(i)*90, 40)
		if i == 0 {
			lat, lon = origin.Lat, origin.Lon
		}
		f.mustFix(t, lat, lon, t0.Add(time.Duration(i)*time.Minute))
	}
	if got := len(f.store.TrackPoints()); got != 4 {
		t.Fatalf("got %d flushed points, want 4", got)
	}

	f.mustTransition(t, models.ActivityOnFoot, false, t0.Add(5*time.Minute))

	if got := len(f.store.TrackPoints()); got != 0 {
		t.Errorf("got %d orphaned track points, want 0", got)
	}
	if got := len(f.store.StillRecords()); got != 1 {
		t.Errorf("got %d still records, want 1", got)
	}
}

func TestStillSessionRecordsSleep(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustFix(t, 37.0, -122.0, t0)
	f.mustTransition(t, models.ActivityStill, true, at(14, 22, 0))
	f.mustTransition(t, models.ActivityStill, false, at(15, 6, 30))

	stills := f.store.StillRecords()
	if len(stills) != 1 {
		t.Fatalf("got %d still records, want 1", len(stills))
	}
	if stills[0].WasSupposedToBeActivity != nil {
		t.Errorf("plain still carries %v", *stills[0].WasSupposedToBeActivity)
	}

	sleeps := f.store.SleepSessions()
	if len(sleeps) != 1 {
		t.Fatalf("got %d sleep sessions, want 1", len(sleeps))
	}
	s := sleeps[0]
	if !s.StartTime.Equal(at(14, 22, 0)) || !s.EndTime.Equal(at(15, 6, 30)) {
		t.Errorf("sleep = [%v, %v)", s.StartTime, s.EndTime)
	}
	if s.Latitude == nil || *s.Latitude != 37.0 {
		t.Errorf("sleep latitude = %v, want 37", s.Latitude)
	}
	if s.Source != models.SleepSourceActivity {
		t.Errorf("Source = %q", s.Source)
	}
}

func TestStillWithoutLocationStillEvaluatesSleep(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustTransition(t, models.ActivityStill, true, at(14, 23, 0))
	f.mustTransition(t, models.ActivityStill, false, at(15, 7, 0))

	if got := len(f.store.StillRecords()); got != 0 {
		t.Errorf("got %d still records without a location, want 0", got)
	}
	sleeps := f.store.SleepSessions()
	if len(sleeps) != 1 {
		t.Fatalf("got %d sleep sessions, want 1", len(sleeps))
	}
	if sleeps[0].Latitude != nil || sleeps[0].Longitude != nil {
		t.Errorf("sleep has coordinates %v, %v", sleeps[0].Latitude, sleeps[0].Longitude)
	}
}

func TestStillFirstFixBecomesLocation(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustTransition(t, models.ActivityStill, true, t0)
	f.mustFix(t, 10, 20, t0.Add(time.Minute))
	f.mustFix(t, 11, 21, t0.Add(2*time.Minute))
	f.mustTransition(t, models.ActivityStill, false, t0.Add(30*time.Minute))

	stills := f.store.StillRecords()
	if len(stills) != 1 || stills[0].Latitude != 10 || stills[0].Longitude != 20 {
		t.Errorf("still records = %+v, want one at (10, 20)", stills)
	}
}

func TestEnterDifferentKindClosesOpenSession(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustTransition(t, models.ActivityWalking, true, t0)
	f.mustFix(t, 37.0, -122.0, t0)
	f.mustFix(t, 37.01, -122.0, t0.Add(8*time.Minute))
	f.mustTransition(t, models.ActivityInVehicle, true, t0.Add(10*time.Minute))

	m := f.store.MovementRecords()
	if len(m) != 1 || m[0].Kind != models.ActivityWalking {
		t.Fatalf("movement records = %+v, want one WALKING", m)
	}
	if !m[0].EndTime.Equal(t0.Add(10 * time.Minute)) {
		t.Errorf("EndTime = %v, want the new enter time", m[0].EndTime)
	}
	if got := f.tracker.Current().Kind; got != models.ActivityInVehicle {
		t.Errorf("Current().Kind = %s, want IN_VEHICLE", got)
	}

	// The vehicle session starts from the last known location
	f.mustFix(t, 37.03, -122.0, t0.Add(20*time.Minute))
	f.mustTransition(t, models.ActivityInVehicle, false, t0.Add(25*time.Minute))
	m = f.store.MovementRecords()
	if len(m) != 2 || m[1].StartLat != 37.01 {
		t.Errorf("second record = %+v, want start at 37.01", m)
	}
}

func TestEnterStillClosesMovement(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustTransition(t, models.ActivityOnBicycle, true, t0)
	f.mustFix(t, 37.0, -122.0, t0)
	f.mustFix(t, 37.0, -122.01, t0.Add(5*time.Minute))
	f.mustTransition(t, models.ActivityStill, true, t0.Add(6*time.Minute))
	f.mustTransition(t, models.ActivityStill, false, t0.Add(16*time.Minute))

	if got := len(f.store.MovementRecords()); got != 1 {
		t.Errorf("got %d movement records, want 1", got)
	}
	stills := f.store.StillRecords()
	if len(stills) != 1 || stills[0].Longitude != -122.01 {
		t.Errorf("still records = %+v, want one at the last fix", stills)
	}
}

func TestDuplicateEnterIsIdempotent(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustTransition(t, models.ActivityWalking, true, t0)
	f.mustFix(t, 37.0, -122.0, t0)
	f.mustFix(t, 37.01, -122.0, t0.Add(3*time.Minute))
	f.mustTransition(t, models.ActivityWalking, true, t0.Add(5*time.Minute))
	f.mustTransition(t, models.ActivityWalking, false, t0.Add(10*time.Minute))

	m := f.store.MovementRecords()
	if len(m) != 1 {
		t.Fatalf("got %d movement records, want 1", len(m))
	}
	if !m[0].StartTime.Equal(t0) {
		t.Errorf("StartTime = %v, want first enter", m[0].StartTime)
	}
}

func TestExitClosesOpenSessionWhateverItsKind(t *testing.T) {
	f := newTrackerFixture(t, 0)

	// Nothing open yet
	f.mustTransition(t, models.ActivityRunning, false, t0)
	if len(f.store.StillRecords()) != 0 || len(f.store.MovementRecords()) != 0 {
		t.Fatal("exit with no open session emitted a record")
	}

	f.mustFix(t, 37.0, -122.0, t0)
	f.mustTransition(t, models.ActivityStill, true, t0)
	f.mustTransition(t, models.ActivityWalking, false, t0.Add(30*time.Minute))
	stills := f.store.StillRecords()
	if len(stills) != 1 || *stills[0].DurationMillis != (30*time.Minute).Milliseconds() {
		t.Fatalf("still records = %+v, want one of 30m", stills)
	}

	f.mustTransition(t, models.ActivityWalking, true, t0.Add(time.Hour))
	f.mustFix(t, 37.01, -122.0, t0.Add(time.Hour+5*time.Minute))
	f.mustTransition(t, models.ActivityOnFoot, false, t0.Add(time.Hour+10*time.Minute))
	m := f.store.MovementRecords()
	if len(m) != 1 || m[0].Kind != models.ActivityWalking || !m[0].ActuallyMoved {
		t.Fatalf("movement records = %+v, want one WALKING record", m)
	}

	// The session is closed, a second exit is a no-op
	f.mustTransition(t, models.ActivityWalking, false, t0.Add(2*time.Hour))
	if len(f.store.StillRecords()) != 1 || len(f.store.MovementRecords()) != 1 {
		t.Error("second exit emitted another record")
	}
}

func TestUnknownActivityTreatedAsStill(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustFix(t, 37.0, -122.0, t0)
	f.mustTransition(t, models.ActivityUnknown, true, t0)
	if got := f.tracker.Current().Kind; got != models.ActivityStill {
		t.Errorf("Current().Kind = %s, want STILL", got)
	}
	f.mustTransition(t, models.ActivityUnknown, false, t0.Add(time.Hour))

	if got := len(f.store.StillRecords()); got != 1 {
		t.Errorf("got %d still records, want 1", got)
	}
}

func TestInvalidFixIsDropped(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustFix(t, 95, -122, t0)
	f.mustTransition(t, models.ActivityStill, true, t0)
	f.mustTransition(t, models.ActivityStill, false, t0.Add(time.Hour))

	if got := len(f.store.StillRecords()); got != 0 {
		t.Errorf("invalid fix used as location: %+v", f.store.StillRecords())
	}
}

func TestZeroTimestampUsesClock(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustFix(t, 37.0, -122.0, time.Time{})
	f.mustTransition(t, models.ActivityStill, true, time.Time{})
	f.clock.Set(t0.Add(20 * time.Minute))
	f.mustTransition(t, models.ActivityStill, false, time.Time{})

	stills := f.store.StillRecords()
	if len(stills) != 1 {
		t.Fatalf("got %d still records, want 1", len(stills))
	}
	if !stills[0].Timestamp.Equal(t0) || *stills[0].DurationMillis != (20*time.Minute).Milliseconds() {
		t.Errorf("still = %+v", stills[0])
	}
}

func TestPersistenceFailureRetriesWithoutReclassifying(t *testing.T) {
	f := newTrackerFixture(t, 0)
	ctx := context.Background()

	f.mustTransition(t, models.ActivityWalking, true, t0)
	f.mustFix(t, 37.0, -122.0, t0)
	f.mustFix(t, 37.01, -122.0, t0.Add(5*time.Minute))

	f.store.failNext("UpdateMovement", 1)
	err := f.transition(t, models.ActivityWalking, false, t0.Add(10*time.Minute))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("exit error = %v, want ErrPersistence", err)
	}
	if f.tracker.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", f.tracker.Pending())
	}

	// New fixes after the close must not leak into the queued record
	f.mustFix(t, 38.0, -121.0, t0.Add(11*time.Minute))

	if err := f.tracker.RetryPending(ctx); err != nil {
		t.Fatalf("RetryPending() error = %v", err)
	}
	if f.tracker.Pending() != 0 {
		t.Errorf("Pending() = %d after retry", f.tracker.Pending())
	}
	if got := f.store.callCount("InsertMovement"); got != 1 {
		t.Errorf("InsertMovement called %d times, want 1", got)
	}
	if got := f.store.callCount("InsertTrackPoints"); got != 1 {
		t.Errorf("InsertTrackPoints called %d times, want 1", got)
	}

	m := f.store.MovementRecords()
	if len(m) != 1 {
		t.Fatalf("got %d movement records, want 1", len(m))
	}
	if m[0].EndLat != 37.01 || m[0].TrackPointCount != 2 {
		t.Errorf("record changed on retry: %+v", m[0])
	}
}

func TestPendingEmissionsPersistInOrder(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustFix(t, 37.0, -122.0, t0)
	f.store.failNext("InsertStill", 2)

	// First close fails and queues
	f.mustTransition(t, models.ActivityStill, true, t0)
	if err := f.transition(t, models.ActivityStill, false, t0.Add(time.Hour)); !errors.Is(err, ErrPersistence) {
		t.Fatalf("first close error = %v", err)
	}

	// Second close retries the first, which fails again
	f.mustTransition(t, models.ActivityStill, true, t0.Add(2*time.Hour))
	if err := f.transition(t, models.ActivityStill, false, t0.Add(3*time.Hour)); !errors.Is(err, ErrPersistence) {
		t.Fatalf("second close error = %v", err)
	}
	if f.tracker.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", f.tracker.Pending())
	}

	if err := f.tracker.RetryPending(context.Background()); err != nil {
		t.Fatalf("RetryPending() error = %v", err)
	}
	stills := f.store.StillRecords()
	if len(stills) != 2 {
		t.Fatalf("got %d still records, want 2", len(stills))
	}
	if !stills[0].Timestamp.Equal(t0) || !stills[1].Timestamp.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("records out of order: %v, %v", stills[0].Timestamp, stills[1].Timestamp)
	}
}

func TestFlushFailureKeepsPointsBuffered(t *testing.T) {
	f := newTrackerFixture(t, 2)

	f.mustTransition(t, models.ActivityWalking, true, t0)
	f.mustFix(t, 37.0, -122.0, t0)

	f.store.failNext("InsertTrackPoints", 1)
	err := f.tracker.OnLocationFix(context.Background(), models.LocationFix{Latitude: 37.01, Longitude: -122, Timestamp: t0.Add(time.Minute)})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("OnLocationFix() error = %v, want ErrPersistence", err)
	}

	f.mustFix(t, 37.02, -122.0, t0.Add(2*time.Minute))
	f.mustTransition(t, models.ActivityWalking, false, t0.Add(3*time.Minute))

	m := f.store.MovementRecords()
	if len(m) != 1 || m[0].TrackPointCount != 3 {
		t.Fatalf("movement records = %+v, want one with 3 points", m)
	}
	if got := len(f.store.TrackPoints()); got != 3 {
		t.Errorf("stored %d track points, want 3", got)
	}
}

func TestSubscribeReceivesStateChanges(t *testing.T) {
	f := newTrackerFixture(t, 0)

	if got := f.tracker.Current(); got.Kind != models.ActivityStill || got.PollingInterval != time.Minute {
		t.Errorf("initial state = %+v", got)
	}

	updates, cancel := f.tracker.Subscribe(4)
	f.mustTransition(t, models.ActivityRunning, true, t0)

	select {
	case state := <-updates:
		if state.Kind != models.ActivityRunning || !state.IsEntering {
			t.Errorf("state = %+v", state)
		}
		if state.PollingInterval != 5*time.Second {
			t.Errorf("PollingInterval = %v, want 5s", state.PollingInterval)
		}
		if !state.UpdatedAt.Equal(t0) {
			t.Errorf("UpdatedAt = %v", state.UpdatedAt)
		}
	default:
		t.Fatal("no state published")
	}

	cancel()
	cancel()
	if _, ok := <-updates; ok {
		t.Error("channel still open after cancel")
	}
	// Publishing after cancel must not panic
	f.mustTransition(t, models.ActivityRunning, false, t0.Add(time.Minute))
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	f := newTrackerFixture(t, 0)
	_, cancel := f.tracker.Subscribe(1)
	defer cancel()

	for i := range 5 {
		f.mustTransition(t, models.ActivityWalking, i%2 == 0, t0.Add(time.Duration(i)*time.Minute))
	}
	if got := f.tracker.Current(); got.Kind != models.ActivityWalking || !got.IsEntering {
		t.Errorf("Current() = %+v", got)
	}
}

func TestShutdownClosesOpenSession(t *testing.T) {
	f := newTrackerFixture(t, 0)

	f.mustTransition(t, models.ActivityWalking, true, t0)
	f.mustFix(t, 37.0, -122.0, t0)
	f.mustFix(t, 37.01, -122.0, t0.Add(5*time.Minute))
	f.clock.Set(t0.Add(30 * time.Minute))

	if err := f.tracker.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	m := f.store.MovementRecords()
	if len(m) != 1 || !m[0].EndTime.Equal(t0.Add(30*time.Minute)) {
		t.Errorf("movement records = %+v, want one ending at shutdown", m)
	}

	// Nothing left to close
	if err := f.tracker.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if got := len(f.store.MovementRecords()); got != 1 {
		t.Errorf("got %d movement records after second shutdown", got)
	}
}
