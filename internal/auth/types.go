package auth

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
// Usernames must be 1-64 characters, alphanumeric with dots, hyphens, underscores.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleViewer can look at equipment status, dashboards and reports. Read-only.
	RoleViewer Role = "viewer"

	// RoleTechnician performs maintenance: views equipment and assignments and
	// records maintenance work.
	RoleTechnician Role = "technician"

	// RoleSupervisor oversees maintenance: sees everything, assigns
	// technicians and approves maintenance.
	RoleSupervisor Role = "supervisor"

	// RoleAdmin has full system control including user management and
	// system configuration.
	RoleAdmin Role = "admin"
)

// ValidRoles is the closed set of roles a user account can hold.
var ValidRoles = []Role{RoleViewer, RoleTechnician, RoleSupervisor, RoleAdmin}

// IsValidRole returns true if the role is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// ParseRole converts a case-insensitive role name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidRole(r) {
		return "", ErrInvalidRole
	}
	return r, nil
}

// User represents a human account.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Role         Role       `json:"role"`
	PasswordHash []byte     `json:"-"` // never serialised
	Salt         []byte     `json:"-"` // never serialised
	Iterations   int        `json:"-"` // never serialised
	IsActive     bool       `json:"is_active"`
	Email        string     `json:"email,omitempty"`
	FullName     string     `json:"full_name,omitempty"`
	LoginCount   int        `json:"login_count"`
	CreatedBy    string     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// credential returns the stored password material of the user.
func (u *User) credential() PasswordHash {
	return PasswordHash{Hash: u.PasswordHash, Salt: u.Salt, Iterations: u.Iterations}
}

// NewUser is the input to CredentialStore.CreateUser.
type NewUser struct {
	Username  string
	Password  string
	Role      Role
	Email     string
	FullName  string
	CreatedBy string
}

// UserUpdate holds the mutable profile fields of a user.
// Nil fields are left unchanged.
type UserUpdate struct {
	Role     *Role   `json:"role,omitempty"`
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}

// Session is an authenticated identity bound to an opaque token.
type Session struct {
	// Token is the raw bearer value. It is only populated on the Session
	// returned by CreateSession; stores never see it.
	Token          string    `json:"token,omitempty"`
	TokenHash      string    `json:"-"`
	Username       string    `json:"username"`
	Role           Role      `json:"role"` // snapshot at issuance
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// expiredAt reports whether the session is past its expiry at the given instant.
func (s *Session) expiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Sentinel errors for auth operations.
var (
	ErrDuplicateUser      = errors.New("username already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrPasswordTooShort   = errors.New("password is too short")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("user account is inactive")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session has expired")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrTokenCollision     = errors.New("session token collision")
	ErrRandomSource       = errors.New("random source failure")
	ErrServiceUnavailable = errors.New("auth service unavailable")
)
