package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jengzang/activity-records-go/internal/models"
)

func TestListStillRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := range 5 {
			d := int64(i+1) * time.Minute.Milliseconds()
			if _, err := s.InsertStill(ctx, &models.StillRecord{Latitude: 1, Longitude: 2, Timestamp: base.Add(time.Duration(i) * time.Hour), DurationMillis: &d}); err != nil {
				t.Fatal(err)
			}
		}

		got, total, err := s.ListStillRecords(ctx, models.RecordFilter{PageSize: 2})
		if err != nil {
			t.Fatalf("ListStillRecords() error = %v", err)
		}
		if total != 5 || len(got) != 2 {
			t.Fatalf("ListStillRecords() len = %d total = %d, want 2 of 5", len(got), total)
		}
		if !got[0].Timestamp.Equal(base.Add(4*time.Hour)) || !got[1].Timestamp.After(base) {
			t.Errorf("page not newest first: %v, %v", got[0].Timestamp, got[1].Timestamp)
		}

		got, total, err = s.ListStillRecords(ctx, models.RecordFilter{
			StartTime:   base.Add(time.Hour).UnixMilli(),
			EndTime:     base.Add(4 * time.Hour).UnixMilli(),
			MinDuration: 3 * time.Minute.Milliseconds(),
		})
		if err != nil {
			t.Fatal(err)
		}
		// hours 1..3 are in range, durations 2..4 min, so hours 2 and 3 pass
		if total != 2 || len(got) != 2 {
			t.Errorf("filtered total = %d len = %d, want 2", total, len(got))
		}

		got, total, err = s.ListStillRecords(ctx, models.RecordFilter{Page: 4, PageSize: 2})
		if err != nil {
			t.Fatal(err)
		}
		if total != 5 || len(got) != 0 {
			t.Errorf("past last page = %d items, total %d", len(got), total)
		}
	})
}

func TestListMovementRecordsAndTrackPoints(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		walk := &models.MovementRecord{Kind: models.ActivityWalking, StartTime: base, EndTime: base.Add(20 * time.Minute), ActuallyMoved: true, TrackPointCount: 2}
		drive := &models.MovementRecord{Kind: models.ActivityInVehicle, StartTime: base.Add(time.Hour), EndTime: base.Add(90 * time.Minute), ActuallyMoved: true, DistanceMeters: 12000}
		for _, m := range []*models.MovementRecord{walk, drive} {
			if _, err := s.InsertMovement(ctx, m); err != nil {
				t.Fatal(err)
			}
		}

		got, total, err := s.ListMovementRecords(ctx, models.RecordFilter{Kind: "in_vehicle"})
		if err != nil {
			t.Fatalf("ListMovementRecords() error = %v", err)
		}
		if total != 1 || got[0].ID != drive.ID || got[0].DistanceMeters != 12000 || !got[0].ActuallyMoved {
			t.Errorf("ListMovementRecords(kind) = %+v, total %d", got, total)
		}

		_, total, err = s.ListMovementRecords(ctx, models.RecordFilter{MinDuration: (25 * time.Minute).Milliseconds()})
		if err != nil {
			t.Fatal(err)
		}
		if total != 1 {
			t.Errorf("ListMovementRecords(minDuration) total = %d, want 1", total)
		}

		m, err := s.GetMovementRecord(ctx, walk.ID)
		if err != nil || m == nil || m.Kind != models.ActivityWalking || !m.EndTime.Equal(walk.EndTime) {
			t.Fatalf("GetMovementRecord() = %+v, %v", m, err)
		}
		if m, err := s.GetMovementRecord(ctx, 9999); err != nil || m != nil {
			t.Errorf("GetMovementRecord(missing) = %+v, %v, want nil", m, err)
		}

		speed := 1.4
		points := []models.TrackPoint{
			{PendingKey: "k", Latitude: 37.001, Longitude: -122, Timestamp: base.Add(2 * time.Minute), Speed: &speed},
			{PendingKey: "k", Latitude: 37, Longitude: -122, Timestamp: base.Add(time.Minute)},
			{PendingKey: "other", Latitude: 1, Longitude: 1, Timestamp: base},
		}
		if err := s.InsertTrackPoints(ctx, points); err != nil {
			t.Fatal(err)
		}
		if _, err := s.AssignTrackPoints(ctx, "k", walk.ID); err != nil {
			t.Fatal(err)
		}

		tps, err := s.ListTrackPoints(ctx, walk.ID)
		if err != nil {
			t.Fatalf("ListTrackPoints() error = %v", err)
		}
		if len(tps) != 2 || tps[0].Latitude != 37 || tps[1].Speed == nil || *tps[1].Speed != speed {
			t.Errorf("ListTrackPoints() = %+v", tps)
		}
		if tps[0].MovementID == nil || *tps[0].MovementID != walk.ID || tps[0].PendingKey != "" {
			t.Errorf("track point not assigned: %+v", tps[0])
		}
	})
}

func TestListSleepSessionsAndVisits(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lat, lon := 37.0, -122.0
		sleep := &models.SleepSession{StartTime: base, EndTime: base.Add(8 * time.Hour), DurationMillis: (8 * time.Hour).Milliseconds(),
			Latitude: &lat, Longitude: &lon, Source: models.SleepSourceActivity}
		if _, err := s.InsertSleepSession(ctx, sleep); err != nil {
			t.Fatal(err)
		}

		sessions, total, err := s.ListSleepSessions(ctx, models.RecordFilter{})
		if err != nil {
			t.Fatalf("ListSleepSessions() error = %v", err)
		}
		if total != 1 || sessions[0].Latitude == nil || *sessions[0].Latitude != lat || sessions[0].Source != models.SleepSourceActivity {
			t.Errorf("ListSleepSessions() = %+v", sessions)
		}

		home := &models.Place{Name: "Home", CenterLat: lat, CenterLon: lon, RadiusMeters: 50, IsActive: true}
		work := &models.Place{Name: "Work", CenterLat: 37.1, CenterLon: lon, RadiusMeters: 50, IsActive: true}
		for _, p := range []*models.Place{home, work} {
			if _, err := s.InsertPlace(ctx, p); err != nil {
				t.Fatal(err)
			}
		}
		exit := base.Add(time.Hour)
		duration := time.Hour.Milliseconds()
		visits := []*models.PlaceVisit{
			{PlaceID: home.ID, EntryTime: base, ExitTime: &exit, DurationMillis: &duration, EntryLat: lat, EntryLon: lon},
			{PlaceID: work.ID, EntryTime: base.Add(2 * time.Hour), EntryLat: 37.1, EntryLon: lon},
		}
		for _, v := range visits {
			if _, err := s.InsertVisit(ctx, v); err != nil {
				t.Fatal(err)
			}
		}

		got, total, err := s.ListVisits(ctx, models.RecordFilter{PlaceID: work.ID})
		if err != nil {
			t.Fatalf("ListVisits() error = %v", err)
		}
		if total != 1 || got[0].PlaceID != work.ID || !got[0].IsOpen() {
			t.Errorf("ListVisits(place) = %+v", got)
		}

		got, total, err = s.ListVisits(ctx, models.RecordFilter{MinDuration: 1})
		if err != nil {
			t.Fatal(err)
		}
		if total != 1 || got[0].PlaceID != home.ID {
			t.Errorf("ListVisits(minDuration) = %+v, want only the closed visit", got)
		}
	})
}
