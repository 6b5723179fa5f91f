package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an account id has no row.
var ErrNotFound = errors.New("account not found")

// Repository persists accounts and their refresh tokens in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert registers a new account.
func (r *Repository) Insert(ctx context.Context, a Account) (Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Role == "" {
		a.Role = RoleStaff
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, role, display_name, created_at)
		VALUES ($1,$2,$3,$4)
	`, a.ID, a.Role, a.DisplayName, a.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// Get returns an account by id.
func (r *Repository) Get(ctx context.Context, id string) (Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, role, display_name, device_fingerprint, session_token, created_at
		FROM accounts WHERE id = $1
	`, id)
	var a Account
	if err := row.Scan(&a.ID, &a.Role, &a.DisplayName, &a.DeviceFingerprint, &a.SessionToken, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// BindDevice sets the fingerprint only if the stored value still matches
// prev (nil meaning unbound). The guard's read-decide-write cycle hangs
// off this conditional update. Returns false when another writer got
// there first.
func (r *Repository) BindDevice(ctx context.Context, id, fingerprint string, prev *string) (bool, error) {
	var res sql.Result
	var err error
	if prev == nil {
		res, err = r.db.ExecContext(ctx, `
			UPDATE accounts SET device_fingerprint = $2
			WHERE id = $1 AND device_fingerprint IS NULL
		`, id, fingerprint)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE accounts SET device_fingerprint = $2
			WHERE id = $1 AND device_fingerprint = $3
		`, id, fingerprint, *prev)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Unbind clears the fingerprint so the next login rebinds.
func (r *Repository) Unbind(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET device_fingerprint = NULL WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSessionToken rewrites the account's active session token. Every
// login must pass through here; the divergence watcher depends on it.
func (r *Repository) SetSessionToken(ctx context.Context, id, token string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET session_token = $2 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRefreshToken stores a refresh token tied to the session that
// issued it, for rotation and remote revocation.
func (r *Repository) SaveRefreshToken(ctx context.Context, accountID, sessionToken, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (account_id, session_token, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, accountID, sessionToken, token, expiresAt)
	return err
}

// RefreshTokenState holds what rotation needs to know about a token.
type RefreshTokenState struct {
	AccountID    string
	SessionToken string
	ExpiresAt    time.Time
	Revoked      bool
}

// GetRefreshToken looks up a refresh token.
func (r *Repository) GetRefreshToken(ctx context.Context, token string) (RefreshTokenState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT account_id, session_token, expires_at, revoked
		FROM refresh_tokens WHERE token = $1
	`, token)
	var st RefreshTokenState
	if err := row.Scan(&st.AccountID, &st.SessionToken, &st.ExpiresAt, &st.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshTokenState{}, ErrNotFound
		}
		return RefreshTokenState{}, err
	}
	return st, nil
}

// RevokeRefreshToken marks a single token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// RevokeDisplacedSessions revokes every refresh token of the account
// that does not belong to the surviving session. The worker calls this
// when a login displaces an earlier session.
func (r *Repository) RevokeDisplacedSessions(ctx context.Context, accountID, keepSessionToken string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE account_id = $1 AND session_token <> $2 AND NOT revoked
	`, accountID, keepSessionToken)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
