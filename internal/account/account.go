package account

import "time"

// Role separates administrators from teaching staff.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// Account is a login identity. DeviceFingerprint is nil until the first
// successful login binds the account to a device; SessionToken holds the
// single active session and is rewritten on every login.
type Account struct {
	ID                string    `json:"id"`
	Role              Role      `json:"role"`
	DisplayName       string    `json:"display_name"`
	DeviceFingerprint *string   `json:"device_fingerprint,omitempty"`
	SessionToken      *string   `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// Bound reports whether the account is pinned to a device.
func (a Account) Bound() bool { return a.DeviceFingerprint != nil && *a.DeviceFingerprint != "" }
