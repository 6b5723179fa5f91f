package schedule

import "presence/internal/fault"

// Party names which side of a schedule caused a conflict.
type Party string

const (
	PartyStaff Party = "staff"
	PartyClass Party = "class"
)

// Conflict identifies the first existing schedule that collides with a
// candidate.
type Conflict struct {
	Party      Party  `json:"party"`
	ScheduleID string `json:"schedule_id"`
	Message    string `json:"message"`
}

// Overlaps reports whether two half-open [start, end) intervals intersect.
// Times compare lexicographically, valid because they are fixed-width
// "HH:MM". Touching endpoints do not overlap.
func Overlaps(start1, end1, start2, end2 string) bool {
	return start1 < end2 && start2 < end1
}

// FindConflict scans existing same-weekday schedules for the first one
// whose interval overlaps the candidate's. Rows sharing the candidate's
// staff are checked before rows sharing its class; only the first hit is
// reported. excludeID skips the row being updated in place.
func FindConflict(candidate Schedule, existing []Schedule, excludeID string) *Conflict {
	for _, row := range existing {
		if row.ID == excludeID || row.StaffID != candidate.StaffID {
			continue
		}
		if Overlaps(candidate.StartTime, candidate.EndTime, row.StartTime, row.EndTime) {
			return &Conflict{
				Party:      PartyStaff,
				ScheduleID: row.ID,
				Message:    "staff member already teaches " + row.StartTime + "-" + row.EndTime + " that day",
			}
		}
	}
	for _, row := range existing {
		if row.ID == excludeID || row.ClassID != candidate.ClassID {
			continue
		}
		if Overlaps(candidate.StartTime, candidate.EndTime, row.StartTime, row.EndTime) {
			return &Conflict{
				Party:      PartyClass,
				ScheduleID: row.ID,
				Message:    "class already has a lesson " + row.StartTime + "-" + row.EndTime + " that day",
			}
		}
	}
	return nil
}

// ConflictError is returned when a candidate collides with an existing
// schedule. It unwraps to a conflict fault so status mapping sees the
// right kind while handlers can still pull out the offending row.
type ConflictError struct {
	Conflict Conflict
}

func (e *ConflictError) Error() string { return e.Conflict.Message }

func (e *ConflictError) Unwrap() error {
	return &fault.Error{Kind: fault.Conflict, Reason: e.Conflict.Message}
}
