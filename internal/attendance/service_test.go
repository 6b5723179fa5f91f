package attendance

import (
	"context"
	"testing"
	"time"

	"presence/internal/fault"
)

type fakeStore struct {
	byKey map[string]Record
	// hideFromFind makes the pre-check miss existing rows, simulating a
	// concurrent writer that lands between the check and the insert.
	hideFromFind bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: map[string]Record{}}
}

func key(staffID, classID string, period int, day string) string {
	return staffID + "|" + classID + "|" + string(rune('0'+period)) + "|" + day
}

func (f *fakeStore) FindInWindow(ctx context.Context, staffID, classID string, period int, dayStart, dayEnd time.Time) (*Record, error) {
	if f.hideFromFind {
		return nil, nil
	}
	for _, rec := range f.byKey {
		if rec.StaffID == staffID && rec.ClassID == classID && rec.LessonPeriod == period &&
			!rec.ScanTimestamp.Before(dayStart) && rec.ScanTimestamp.Before(dayEnd) {
			r := rec
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Insert(ctx context.Context, rec Record, scanDay string) (Record, error) {
	k := key(rec.StaffID, rec.ClassID, rec.LessonPeriod, scanDay)
	if _, exists := f.byKey[k]; exists {
		return Record{}, ErrDuplicate
	}
	rec.ID = k
	rec.CreatedAt = rec.ScanTimestamp
	f.byKey[k] = rec
	return rec, nil
}

func (f *fakeStore) List(ctx context.Context, filter Filter, limit, offset int) ([]Record, error) {
	var out []Record
	for _, rec := range f.byKey {
		out = append(out, rec)
	}
	return out, nil
}

func TestRecord_SecondScanSameKeyRejected(t *testing.T) {
	svc := NewService(newFakeStore(), time.UTC)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 5, 0, 0, time.UTC)

	if _, err := svc.Record(ctx, "staff-a", "class-c", 2, now); err != nil {
		t.Fatalf("first scan should succeed: %v", err)
	}

	_, err := svc.Record(ctx, "staff-a", "class-c", 2, now.Add(10*time.Minute))

	if !fault.Is(err, fault.Conflict) {
		t.Fatalf("second scan must be a conflict, got %v", err)
	}
}

func TestRecord_DifferentPeriodSameDayAccepted(t *testing.T) {
	svc := NewService(newFakeStore(), time.UTC)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 5, 0, 0, time.UTC)

	if _, err := svc.Record(ctx, "staff-a", "class-c", 2, now); err != nil {
		t.Fatalf("first scan should succeed: %v", err)
	}
	if _, err := svc.Record(ctx, "staff-a", "class-c", 3, now.Add(time.Hour)); err != nil {
		t.Errorf("scan for a different period must be accepted: %v", err)
	}
}

func TestRecord_NextDaySameKeyAccepted(t *testing.T) {
	svc := NewService(newFakeStore(), time.UTC)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 5, 0, 0, time.UTC)

	if _, err := svc.Record(ctx, "staff-a", "class-c", 2, now); err != nil {
		t.Fatalf("first scan should succeed: %v", err)
	}
	if _, err := svc.Record(ctx, "staff-a", "class-c", 2, now.AddDate(0, 0, 1)); err != nil {
		t.Errorf("same key on the next calendar day must be accepted: %v", err)
	}
}

func TestRecord_DayBoundaryIsLocalMidnight(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	svc := NewService(newFakeStore(), jakarta)
	ctx := context.Background()

	// 23:50 and next-day 00:10 local time straddle local midnight, so
	// both scans belong to different idempotency keys.
	before := time.Date(2026, 3, 2, 23, 50, 0, 0, jakarta)
	after := time.Date(2026, 3, 3, 0, 10, 0, 0, jakarta)

	if _, err := svc.Record(ctx, "staff-a", "class-c", 1, before); err != nil {
		t.Fatalf("scan before midnight should succeed: %v", err)
	}
	if _, err := svc.Record(ctx, "staff-a", "class-c", 1, after); err != nil {
		t.Errorf("scan after local midnight must start a new day: %v", err)
	}
}

func TestRecord_LostStoreRaceIsConflict(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, time.UTC)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 5, 0, 0, time.UTC)

	// Another writer commits between the existence check and the insert;
	// the unique index rejects the second write.
	_, _, day := svc.DayWindow(now)
	_, _ = store.Insert(ctx, Record{StaffID: "staff-a", ClassID: "class-c", LessonPeriod: 2, ScanTimestamp: now}, day)
	store.hideFromFind = true

	_, err := svc.Record(ctx, "staff-a", "class-c", 2, now)

	if !fault.Is(err, fault.Conflict) {
		t.Fatalf("duplicate insert must surface as conflict, got %v", err)
	}
}

func TestRecord_ValidatesPeriodRange(t *testing.T) {
	svc := NewService(newFakeStore(), time.UTC)

	for _, period := range []int{0, -1, 9} {
		_, err := svc.Record(context.Background(), "staff-a", "class-c", period, time.Now())
		if !fault.Is(err, fault.Validation) {
			t.Errorf("period %d must be rejected as validation error, got %v", period, err)
		}
	}
}
