package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansAccepted counts attendance scans recorded successfully.
	ScansAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_scans_accepted_total",
		Help: "Attendance scans recorded.",
	})
	// ScansDuplicate counts scans rejected by the idempotency rule.
	ScansDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_scans_duplicate_total",
		Help: "Attendance scans rejected as already recorded.",
	})
	// ScansOutOfRange counts scans blocked by the geofence.
	ScansOutOfRange = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_scans_out_of_range_total",
		Help: "Attendance scans outside the geofence radius.",
	})
	// ScheduleConflicts counts schedule submissions rejected for overlap.
	ScheduleConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_schedule_conflicts_total",
		Help: "Schedule submissions rejected for overlapping intervals.",
	}, []string{"party"})
	// LoginsRejected counts logins rejected by the device guard.
	LoginsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_logins_rejected_total",
		Help: "Logins rejected for device mismatch.",
	})
	// SessionsDisplaced counts sessions pushed out by a newer login.
	SessionsDisplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_sessions_displaced_total",
		Help: "Active sessions displaced by a login elsewhere.",
	})
)
