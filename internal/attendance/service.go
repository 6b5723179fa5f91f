package attendance

import (
	"context"
	"errors"
	"time"

	"presence/internal/fault"
	"presence/internal/schedule"
)

// Record is one accepted attendance scan. Records are append-only: no
// update or delete path exists.
type Record struct {
	ID            string    `json:"id"`
	StaffID       string    `json:"staff_id"`
	ClassID       string    `json:"class_id"`
	LessonPeriod  int       `json:"lesson_period"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter describes equality filters for listing records. ScanDay is a
// "YYYY-MM-DD" calendar day in the service's zone.
type Filter struct {
	StaffID string
	ClassID string
	ScanDay string
}

// Store is the persistence surface the recorder needs.
type Store interface {
	FindInWindow(ctx context.Context, staffID, classID string, lessonPeriod int, dayStart, dayEnd time.Time) (*Record, error)
	Insert(ctx context.Context, rec Record, scanDay string) (Record, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]Record, error)
}

// Service records attendance scans idempotently. The caller is
// responsible for the geofence precondition; the recorder never
// re-evaluates location. Day boundaries are local midnight in loc.
type Service struct {
	store Store
	loc   *time.Location
}

// NewService creates a recorder. A nil location falls back to UTC.
func NewService(store Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, loc: loc}
}

// DayWindow returns the half-open local calendar day containing t, plus
// the "YYYY-MM-DD" key the unique index uses.
func (s *Service) DayWindow(t time.Time) (start, end time.Time, day string) {
	lt := t.In(s.loc)
	start = time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1), start.Format("2006-01-02")
}

// Record accepts a scan at most once per (staff, class, period, day).
// The pre-check is a fast path; a concurrent writer that slips past it
// is rejected by the store's unique index and reported identically.
func (s *Service) Record(ctx context.Context, staffID, classID string, lessonPeriod int, now time.Time) (Record, error) {
	if staffID == "" || classID == "" {
		return Record{}, fault.New(fault.Validation, "staff and class required")
	}
	if lessonPeriod < 1 || lessonPeriod > schedule.MaxLessonPeriod {
		return Record{}, fault.New(fault.Validation, "lesson period must be 1..%d", schedule.MaxLessonPeriod)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	dayStart, dayEnd, day := s.DayWindow(now)
	existing, err := s.store.FindInWindow(ctx, staffID, classID, lessonPeriod, dayStart, dayEnd)
	if err != nil {
		return Record{}, fault.Wrap(err, fault.Transient, "attendance lookup failed")
	}
	if existing != nil {
		return Record{}, fault.New(fault.Conflict, "attendance already recorded for period %d today", lessonPeriod)
	}

	rec := Record{
		StaffID:       staffID,
		ClassID:       classID,
		LessonPeriod:  lessonPeriod,
		ScanTimestamp: now,
	}
	committed, err := s.store.Insert(ctx, rec, day)
	if errors.Is(err, ErrDuplicate) {
		return Record{}, fault.New(fault.Conflict, "attendance already recorded for period %d today", lessonPeriod)
	}
	if err != nil {
		return Record{}, fault.Wrap(err, fault.Transient, "attendance write failed")
	}
	return committed, nil
}

// List returns recorded scans matching the filter.
func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]Record, error) {
	out, err := s.store.List(ctx, f, limit, offset)
	if err != nil {
		return nil, fault.Wrap(err, fault.Transient, "attendance lookup failed")
	}
	return out, nil
}
