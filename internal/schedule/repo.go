package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a schedule id has no row.
var ErrNotFound = errors.New("schedule not found")

// ErrOverlapConstraint is returned when the store's exclusion constraint
// rejects a write that slipped past the advisory conflict scan.
var ErrOverlapConstraint = errors.New("schedule overlap rejected by store")

// Repository persists schedules in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const scheduleColumns = `id, staff_id, class_id, weekday, lesson_period, start_time, end_time, created_at`

func scanSchedule(row interface{ Scan(...any) error }) (Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.StaffID, &s.ClassID, &s.Weekday, &s.LessonPeriod, &s.StartTime, &s.EndTime, &s.CreatedAt)
	return s, err
}

// Insert writes a new schedule row.
func (r *Repository) Insert(ctx context.Context, s Schedule) (Schedule, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (id, staff_id, class_id, weekday, lesson_period, start_time, end_time, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.ID, s.StaffID, s.ClassID, s.Weekday, s.LessonPeriod, s.StartTime, s.EndTime, s.CreatedAt)
	if err != nil {
		return Schedule{}, mapConstraint(err)
	}
	return s, nil
}

// Update rewrites an existing schedule row in place.
func (r *Repository) Update(ctx context.Context, s Schedule) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE schedules
		SET staff_id = $2, class_id = $3, weekday = $4, lesson_period = $5, start_time = $6, end_time = $7
		WHERE id = $1
	`, s.ID, s.StaffID, s.ClassID, s.Weekday, s.LessonPeriod, s.StartTime, s.EndTime)
	if err != nil {
		return mapConstraint(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a schedule by id.
func (r *Repository) Get(ctx context.Context, id string) (Schedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	return s, err
}

// Delete removes a single schedule.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDay returns every schedule on a weekday touching either the given
// staff member or the given class. A row teaching that class with that
// staff member appears once.
func (r *Repository) ListDay(ctx context.Context, day Weekday, staffID, classID string) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE weekday = $1 AND (staff_id = $2 OR class_id = $3)
	`, day, staffID, classID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// List returns schedules matching the equality filters. Ordering is done
// client-side, so no compound index is required.
func (r *Repository) List(ctx context.Context, f Filter) ([]Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	args := []any{}
	clauses := []string{}
	if f.StaffID != "" {
		args = append(args, f.StaffID)
		clauses = append(clauses, "staff_id = $"+itoa(len(args)))
	}
	if f.ClassID != "" {
		args = append(args, f.ClassID)
		clauses = append(clauses, "class_id = $"+itoa(len(args)))
	}
	if f.Weekday != "" {
		args = append(args, f.Weekday)
		clauses = append(clauses, "weekday = $"+itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := collect(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return dayOrder(out[i].Weekday) < dayOrder(out[j].Weekday)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func collect(rows *sql.Rows) ([]Schedule, error) {
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func dayOrder(w Weekday) int {
	switch w {
	case Monday:
		return 0
	case Tuesday:
		return 1
	case Wednesday:
		return 2
	case Thursday:
		return 3
	case Friday:
		return 4
	case Saturday:
		return 5
	default:
		return 6
	}
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}

// mapConstraint translates exclusion-constraint violations, keeping
// everything else as-is.
func mapConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return ErrOverlapConstraint
	}
	return err
}
