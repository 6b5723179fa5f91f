package classgroup

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a class id has no row.
var ErrNotFound = errors.New("class group not found")

// ClassGroup is a teachable unit referenced by schedules and scans.
type ClassGroup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Grade     int       `json:"grade"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists class groups in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new class group.
func (r *Repository) Insert(ctx context.Context, g ClassGroup) (ClassGroup, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO class_groups (id, name, grade, created_at)
		VALUES ($1,$2,$3,$4)
	`, g.ID, g.Name, g.Grade, g.CreatedAt)
	if err != nil {
		return ClassGroup{}, err
	}
	return g, nil
}

// Get returns a class group by id.
func (r *Repository) Get(ctx context.Context, id string) (ClassGroup, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, grade, created_at FROM class_groups WHERE id = $1`, id)
	var g ClassGroup
	if err := row.Scan(&g.ID, &g.Name, &g.Grade, &g.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ClassGroup{}, ErrNotFound
		}
		return ClassGroup{}, err
	}
	return g, nil
}

// DeleteCascade removes a class group and every schedule that references
// it in one transaction, so readers never observe orphaned schedules.
func (r *Repository) DeleteCascade(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE class_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM class_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
