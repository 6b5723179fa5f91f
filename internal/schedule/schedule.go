package schedule

import (
	"regexp"
	"time"

	"presence/internal/fault"
)

// Weekday is one of the seven symbolic schedule days.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

var weekdays = map[Weekday]bool{
	Monday: true, Tuesday: true, Wednesday: true, Thursday: true,
	Friday: true, Saturday: true, Sunday: true,
}

// Valid reports whether w is one of the seven known days.
func (w Weekday) Valid() bool { return weekdays[w] }

// timeRe matches fixed-width 24-hour wall-clock strings. The fixed width
// is what makes lexicographic interval comparison valid.
var timeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidTime reports whether s is a well-formed "HH:MM" value.
func ValidTime(s string) bool { return timeRe.MatchString(s) }

// MaxLessonPeriod is the highest period index in a day's timetable.
const MaxLessonPeriod = 8

// Schedule is one teaching slot: a staff member teaching a class group
// on a weekday between two wall-clock times.
type Schedule struct {
	ID           string    `json:"id"`
	StaffID      string    `json:"staff_id"`
	ClassID      string    `json:"class_id"`
	Weekday      Weekday   `json:"weekday"`
	LessonPeriod int       `json:"lesson_period"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks field shape; it does not consult other schedules.
func (s Schedule) Validate() error {
	if s.StaffID == "" {
		return fault.New(fault.Validation, "staff id required")
	}
	if s.ClassID == "" {
		return fault.New(fault.Validation, "class id required")
	}
	if !s.Weekday.Valid() {
		return fault.New(fault.Validation, "unknown weekday %q", s.Weekday)
	}
	if s.LessonPeriod < 1 || s.LessonPeriod > MaxLessonPeriod {
		return fault.New(fault.Validation, "lesson period must be 1..%d", MaxLessonPeriod)
	}
	if !ValidTime(s.StartTime) || !ValidTime(s.EndTime) {
		return fault.New(fault.Validation, "times must be HH:MM")
	}
	if s.StartTime >= s.EndTime {
		return fault.New(fault.Validation, "invalid interval: start %s must precede end %s", s.StartTime, s.EndTime)
	}
	return nil
}

// Filter describes equality filters for listing schedules.
type Filter struct {
	StaffID string
	ClassID string
	Weekday Weekday
}
