package schedule

import (
	"context"
	"errors"

	"presence/internal/fault"
)

// Store is the persistence surface the mutator needs.
type Store interface {
	Insert(ctx context.Context, s Schedule) (Schedule, error)
	Update(ctx context.Context, s Schedule) error
	Get(ctx context.Context, id string) (Schedule, error)
	Delete(ctx context.Context, id string) error
	ListDay(ctx context.Context, day Weekday, staffID, classID string) ([]Schedule, error)
	List(ctx context.Context, f Filter) ([]Schedule, error)
}

// Service validates and commits schedule changes. The conflict scan here
// is advisory; the store's exclusion constraint is what makes concurrent
// submissions safe, and a constraint rejection is re-read so the caller
// sees the same conflict shape either way.
type Service struct {
	store Store
}

// NewService creates a mutator backed by a store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Submit commits a new schedule after the conflict scan.
func (s *Service) Submit(ctx context.Context, candidate Schedule) (Schedule, error) {
	return s.commit(ctx, candidate, "")
}

// Update rechecks and rewrites an existing schedule in place. The row
// being updated is excluded from the conflict scan.
func (s *Service) Update(ctx context.Context, id string, candidate Schedule) (Schedule, error) {
	if id == "" {
		return Schedule{}, fault.New(fault.Validation, "schedule id required")
	}
	candidate.ID = id
	return s.commit(ctx, candidate, id)
}

func (s *Service) commit(ctx context.Context, candidate Schedule, excludeID string) (Schedule, error) {
	if err := candidate.Validate(); err != nil {
		return Schedule{}, err
	}

	existing, err := s.store.ListDay(ctx, candidate.Weekday, candidate.StaffID, candidate.ClassID)
	if err != nil {
		return Schedule{}, fault.Wrap(err, fault.Transient, "schedule lookup failed")
	}
	if c := FindConflict(candidate, existing, excludeID); c != nil {
		return Schedule{}, &ConflictError{Conflict: *c}
	}

	if excludeID == "" {
		committed, err := s.store.Insert(ctx, candidate)
		if err != nil {
			return Schedule{}, s.mapCommitErr(ctx, candidate, excludeID, err)
		}
		return committed, nil
	}

	if err := s.store.Update(ctx, candidate); err != nil {
		return Schedule{}, s.mapCommitErr(ctx, candidate, excludeID, err)
	}
	return candidate, nil
}

// mapCommitErr handles the write that lost a race: the exclusion
// constraint fired after the advisory scan passed, so re-read and report
// the row that won.
func (s *Service) mapCommitErr(ctx context.Context, candidate Schedule, excludeID string, err error) error {
	switch {
	case errors.Is(err, ErrOverlapConstraint):
		existing, lerr := s.store.ListDay(ctx, candidate.Weekday, candidate.StaffID, candidate.ClassID)
		if lerr == nil {
			if c := FindConflict(candidate, existing, excludeID); c != nil {
				return &ConflictError{Conflict: *c}
			}
		}
		return fault.New(fault.Conflict, "schedule overlaps an existing lesson")
	case errors.Is(err, ErrNotFound):
		return fault.New(fault.Validation, "schedule not found")
	default:
		return fault.Wrap(err, fault.Transient, "schedule write failed")
	}
}

// Delete removes one schedule.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fault.New(fault.Validation, "schedule not found")
	default:
		return fault.Wrap(err, fault.Transient, "schedule delete failed")
	}
}

// List returns schedules matching the filter, ordered by weekday then
// start time.
func (s *Service) List(ctx context.Context, f Filter) ([]Schedule, error) {
	if f.Weekday != "" && !f.Weekday.Valid() {
		return nil, fault.New(fault.Validation, "unknown weekday %q", f.Weekday)
	}
	out, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fault.Wrap(err, fault.Transient, "schedule lookup failed")
	}
	return out, nil
}
