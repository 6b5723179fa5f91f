package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when the unique index on
// (staff_id, class_id, lesson_period, scan_day) rejects an insert. This
// is what turns a lost check-then-act race into a deterministic outcome.
var ErrDuplicate = errors.New("attendance already recorded for that period and day")

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindInWindow returns the record for the idempotency key inside
// [dayStart, dayEnd), or nil when none exists.
func (r *Repository) FindInWindow(ctx context.Context, staffID, classID string, lessonPeriod int, dayStart, dayEnd time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, staff_id, class_id, lesson_period, scan_timestamp, created_at
		FROM attendance_records
		WHERE staff_id = $1 AND class_id = $2 AND lesson_period = $3
		  AND scan_timestamp >= $4 AND scan_timestamp < $5
		LIMIT 1
	`, staffID, classID, lessonPeriod, dayStart, dayEnd)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StaffID, &rec.ClassID, &rec.LessonPeriod, &rec.ScanTimestamp, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new record. scanDay is the calendar day the unique
// index is keyed on, derived from the scan timestamp in the local zone.
func (r *Repository) Insert(ctx context.Context, rec Record, scanDay string) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, staff_id, class_id, lesson_period, scan_timestamp, scan_day)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, rec.ID, rec.StaffID, rec.ClassID, rec.LessonPeriod, rec.ScanTimestamp, scanDay)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicate
		}
		return Record{}, err
	}
	return rec, nil
}

// List returns records with basic equality filters, newest first.
func (r *Repository) List(ctx context.Context, f Filter, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, staff_id, class_id, lesson_period, scan_timestamp, created_at FROM attendance_records`
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
	if f.ScanDay != "" {
		args = append(args, f.ScanDay)
		clauses = append(clauses, "scan_day = $"+itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY scan_timestamp DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StaffID, &rec.ClassID, &rec.LessonPeriod, &rec.ScanTimestamp, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
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
