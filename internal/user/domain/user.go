package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the core user entity. Accounts are provisioned by office staff;
// ActivationCodeHash holds the one-time enrollment credential until the
// user completes device activation.
type User struct {
	ID                      string
	Email                   string
	Name                    string
	Role                    Role
	Zone                    string
	Status                  UserStatus
	ActivationCodeHash      string
	ActivationCodeExpiresAt *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

type Role string

const (
	RoleCaregiver   Role = "caregiver"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
	RoleOffice      Role = "office"
)

// Permissions returns the permission set granted by the role. Authorization
// decisions downstream consume these; the session service only reports them.
func (r Role) Permissions() []string {
	switch r {
	case RoleCaregiver:
		return []string{"visits.read", "visits.checkin", "clients.read", "messages.send"}
	case RoleCoordinator:
		return []string{"visits.read", "visits.assign", "clients.read", "clients.write", "messages.send", "schedules.manage"}
	case RoleAdmin:
		return []string{"visits.read", "visits.assign", "clients.read", "clients.write", "messages.send", "schedules.manage", "users.manage", "devices.revoke"}
	case RoleOffice:
		return []string{"clients.read", "users.manage"}
	default:
		return nil
	}
}

// CanEnrollDevice reports whether the role is allowed to enroll a mobile
// device. Office and admin staff work from the back office and never hold
// device sessions.
func (r Role) CanEnrollDevice() bool {
	return r == RoleCaregiver || r == RoleCoordinator
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// NormalizeEmail lowercases and trims an email for lookup and attempt
// bookkeeping. All email comparisons go through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeActivationCode strips everything but digits. Codes are handed out
// as "1234-5678" but users type them with or without separators; hashing and
// comparison always see the bare digits.
func NormalizeActivationCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	switch u.Role {
	case RoleCaregiver, RoleCoordinator, RoleAdmin, RoleOffice:
	default:
		return errors.New("invalid role")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// CanActivate reports whether the account currently holds a usable
// activation code and is allowed to enroll a device.
func (u *User) CanActivate(now time.Time) bool {
	if u.Status != UserStatusActive {
		return false
	}
	if !u.Role.CanEnrollDevice() {
		return false
	}
	if u.ActivationCodeHash == "" {
		return false
	}
	if u.ActivationCodeExpiresAt != nil && !now.Before(*u.ActivationCodeExpiresAt) {
		return false
	}
	return true
}
