package schedule

import "testing"

func TestOverlaps_TruthTable(t *testing.T) {
	cases := []struct {
		name           string
		s1, e1, s2, e2 string
		want           bool
	}{
		{"identical intervals", "07:00", "08:00", "07:00", "08:00", true},
		{"partial overlap", "07:00", "08:00", "07:30", "08:30", true},
		{"containment", "07:00", "09:00", "07:30", "08:00", true},
		{"back to back", "07:00", "08:00", "08:00", "09:00", false},
		{"back to back reversed", "08:00", "09:00", "07:00", "08:00", false},
		{"disjoint", "07:00", "08:00", "10:00", "11:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.s1, tc.e1, tc.s2, tc.e2); got != tc.want {
				t.Errorf("Overlaps(%s-%s, %s-%s) = %v, want %v", tc.s1, tc.e1, tc.s2, tc.e2, got, tc.want)
			}
			if got := Overlaps(tc.s2, tc.e2, tc.s1, tc.e1); got != tc.want {
				t.Errorf("Overlaps is not symmetric for %s-%s vs %s-%s", tc.s1, tc.e1, tc.s2, tc.e2)
			}
		})
	}
}

func TestFindConflict_StaffBeforeClass(t *testing.T) {
	existing := []Schedule{
		{ID: "by-class", StaffID: "staff-y", ClassID: "class-c", Weekday: Monday, StartTime: "07:00", EndTime: "08:00"},
		{ID: "by-staff", StaffID: "staff-x", ClassID: "class-d", Weekday: Monday, StartTime: "07:00", EndTime: "08:00"},
	}
	candidate := Schedule{StaffID: "staff-x", ClassID: "class-c", Weekday: Monday, StartTime: "07:30", EndTime: "08:30"}

	c := FindConflict(candidate, existing, "")

	if c == nil {
		t.Fatal("expected a conflict, got none")
	}
	if c.Party != PartyStaff {
		t.Errorf("staff conflicts must be reported before class conflicts, got %s", c.Party)
	}
	if c.ScheduleID != "by-staff" {
		t.Errorf("expected conflicting schedule by-staff, got %s", c.ScheduleID)
	}
}

func TestFindConflict_ClassConflict(t *testing.T) {
	existing := []Schedule{
		{ID: "sched-1", StaffID: "staff-x", ClassID: "class-c", Weekday: Monday, StartTime: "07:00", EndTime: "08:00"},
	}
	candidate := Schedule{StaffID: "staff-y", ClassID: "class-c", Weekday: Monday, StartTime: "07:30", EndTime: "08:30"}

	c := FindConflict(candidate, existing, "")

	if c == nil {
		t.Fatal("expected a class conflict, got none")
	}
	if c.Party != PartyClass {
		t.Errorf("expected class conflict, got %s", c.Party)
	}
}

func TestFindConflict_ExcludedIdentitySkipsSelf(t *testing.T) {
	existing := []Schedule{
		{ID: "sched-1", StaffID: "staff-x", ClassID: "class-c", Weekday: Monday, StartTime: "07:00", EndTime: "08:00"},
	}
	candidate := Schedule{ID: "sched-1", StaffID: "staff-x", ClassID: "class-c", Weekday: Monday, StartTime: "07:00", EndTime: "08:30"}

	if c := FindConflict(candidate, existing, "sched-1"); c != nil {
		t.Errorf("update-in-place must not conflict with its own row, got %+v", c)
	}
}

func TestFindConflict_TouchingIntervalsDoNotConflict(t *testing.T) {
	existing := []Schedule{
		{ID: "sched-1", StaffID: "staff-x", ClassID: "class-c", Weekday: Monday, StartTime: "07:00", EndTime: "08:00"},
	}
	candidate := Schedule{StaffID: "staff-x", ClassID: "class-c", Weekday: Monday, StartTime: "08:00", EndTime: "09:00"}

	if c := FindConflict(candidate, existing, ""); c != nil {
		t.Errorf("back-to-back intervals must not conflict, got %+v", c)
	}
}

func TestValidate_RejectsInvertedInterval(t *testing.T) {
	s := Schedule{StaffID: "staff-x", ClassID: "class-c", Weekday: Monday, LessonPeriod: 1, StartTime: "09:00", EndTime: "08:00"}
	if err := s.Validate(); err == nil {
		t.Fatal("expected invalid interval error, got nil")
	}
}

func TestValidate_RejectsMalformedTime(t *testing.T) {
	for _, bad := range []string{"9:00", "24:00", "07:60", "0700", "07:0"} {
		s := Schedule{StaffID: "staff-x", ClassID: "class-c", Weekday: Monday, LessonPeriod: 1, StartTime: bad, EndTime: "23:59"}
		if err := s.Validate(); err == nil {
			t.Errorf("expected rejection of time %q", bad)
		}
	}
}
