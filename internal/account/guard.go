package account

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"presence/internal/fault"
)

// Store is the persistence surface the guard needs.
type Store interface {
	Get(ctx context.Context, id string) (Account, error)
	BindDevice(ctx context.Context, id, fingerprint string, prev *string) (bool, error)
	Unbind(ctx context.Context, id string) error
	SetSessionToken(ctx context.Context, id, token string) error
}

// Authenticator is the external credential checker. The guard layers
// device binding on top of it and tears its sessions down on rejection.
type Authenticator interface {
	Authenticate(ctx context.Context, accountID, credential string) error
	SignOut(ctx context.Context, accountID string) error
}

// SessionRegistry tracks the single active session token per account.
// Replace returns the token it displaced, if any.
type SessionRegistry interface {
	Replace(ctx context.Context, accountID, token string) (displaced string, err error)
}

// Notifier is told when a login displaces an earlier session, so the
// displaced session's credentials can be revoked out of band.
type Notifier interface {
	SessionDisplaced(ctx context.Context, accountID, oldToken, newToken string)
}

// Guard enforces one device and one active session per account.
// The fingerprint is a client-generated capability passed in explicitly,
// never read from ambient state; it deters casual device sharing and is
// not device attestation.
type Guard struct {
	store    Store
	auth     Authenticator
	sessions SessionRegistry
	notify   Notifier
}

// NewGuard wires the binding guard.
func NewGuard(store Store, auth Authenticator, sessions SessionRegistry, notify Notifier) *Guard {
	return &Guard{store: store, auth: auth, sessions: sessions, notify: notify}
}

// LoginResult is what a successful login hands back to the caller.
type LoginResult struct {
	Account      Account
	SessionToken string
	// FirstBinding is true when this login pinned a previously unbound
	// account to the presented device.
	FirstBinding bool
}

// Login authenticates externally, then applies the binding state machine:
// an unbound account binds to the presented fingerprint, a matching
// fingerprint passes, and a mismatch is rejected with the freshly created
// external session torn down. On success a new session token is written
// unconditionally, displacing any other active session.
func (g *Guard) Login(ctx context.Context, accountID, credential, fingerprint string) (LoginResult, error) {
	if accountID == "" {
		return LoginResult{}, fault.New(fault.Validation, "account id required")
	}
	if fingerprint == "" {
		return LoginResult{}, fault.New(fault.Validation, "device fingerprint required")
	}

	if err := g.auth.Authenticate(ctx, accountID, credential); err != nil {
		return LoginResult{}, fault.Wrap(err, fault.Authorization, "authentication failed")
	}

	acct, err := g.store.Get(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		g.teardown(ctx, accountID)
		return LoginResult{}, fault.New(fault.Authorization, "account not registered")
	}
	if err != nil {
		return LoginResult{}, fault.Wrap(err, fault.Transient, "account lookup failed")
	}

	firstBinding, err := g.ensureBinding(ctx, acct, fingerprint)
	if err != nil {
		return LoginResult{}, err
	}

	// The session token write is unconditional: without it the
	// divergence watcher on other devices would never fire.
	token := uuid.NewString()
	if err := g.store.SetSessionToken(ctx, accountID, token); err != nil {
		return LoginResult{}, fault.Wrap(err, fault.Transient, "session write failed")
	}
	displaced, err := g.sessions.Replace(ctx, accountID, token)
	if err != nil {
		return LoginResult{}, fault.Wrap(err, fault.Transient, "session registry update failed")
	}
	if displaced != "" && displaced != token && g.notify != nil {
		g.notify.SessionDisplaced(ctx, accountID, displaced, token)
	}

	acct.SessionToken = &token
	fp := fingerprint
	acct.DeviceFingerprint = &fp
	return LoginResult{Account: acct, SessionToken: token, FirstBinding: firstBinding}, nil
}

// ensureBinding runs the read-decide-write cycle with one retry. The
// conditional update in BindDevice is guarded by the previously read
// fingerprint, so two concurrent first logins cannot both bind.
func (g *Guard) ensureBinding(ctx context.Context, acct Account, fingerprint string) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if acct.Bound() {
			if *acct.DeviceFingerprint == fingerprint {
				return false, nil
			}
			g.teardown(ctx, acct.ID)
			return false, fault.New(fault.Authorization, "device not registered for this account")
		}

		ok, err := g.store.BindDevice(ctx, acct.ID, fingerprint, nil)
		if err != nil {
			return false, fault.Wrap(err, fault.Transient, "device binding failed")
		}
		if ok {
			return true, nil
		}

		// Lost the bind race: re-read and re-decide once.
		acct, err = g.store.Get(ctx, acct.ID)
		if err != nil {
			return false, fault.Wrap(err, fault.Transient, "account lookup failed")
		}
	}
	g.teardown(ctx, acct.ID)
	return false, fault.New(fault.Transient, "binding race lost, retry login")
}

// Unbind clears the device fingerprint. Callers must ensure the actor is
// an administrator; the next login rebinds to whatever device logs in.
func (g *Guard) Unbind(ctx context.Context, accountID string) error {
	err := g.store.Unbind(ctx, accountID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fault.New(fault.Validation, "account not found")
	default:
		return fault.Wrap(err, fault.Transient, "unbind failed")
	}
}

// teardown signs the account out of the external authenticator so no
// authenticated-but-unauthorized state survives a rejection.
func (g *Guard) teardown(ctx context.Context, accountID string) {
	_ = g.auth.SignOut(ctx, accountID)
}
