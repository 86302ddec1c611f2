package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nerrad567/equipwatch-core/internal/audit"
)

// DefaultMinPasswordLength is the shortest password CreateUser accepts.
const DefaultMinPasswordLength = 8

// Seed account defaults.
const (
	SeedAdminUsername = "admin"
	seedPasswordBytes = 18
	systemActor       = "system"
)

// CredentialStoreOptions holds the collaborators of a CredentialStore.
type CredentialStoreOptions struct {
	Users    UserRepository
	Hasher   *Hasher
	Sessions *SessionManager
	Clock    Clock
	Audit    AuditRecorder
	Logger   *slog.Logger

	// MinPasswordLength defaults to DefaultMinPasswordLength.
	MinPasswordLength int

	// RevokeOnDeactivate makes Deactivate revoke the user's sessions.
	RevokeOnDeactivate bool
}

// CredentialStore owns user accounts and turns correct credentials into
// sessions.
//
// Errors returned to callers distinguish ErrInactiveUser from
// ErrInvalidCredentials; trust boundaries must collapse both.
//
// Thread Safety: All methods are safe for concurrent use. Password hashing
// always happens before the repository is touched.
type CredentialStore struct {
	users    UserRepository
	hasher   *Hasher
	sessions *SessionManager
	clock    Clock
	audit    auditor
	logger   *slog.Logger

	minPasswordLength  int
	revokeOnDeactivate bool

	dummyOnce sync.Once
	dummy     PasswordHash
}

// NewCredentialStore creates a CredentialStore. Sessions is required.
func NewCredentialStore(opts CredentialStoreOptions) *CredentialStore {
	if opts.Users == nil {
		opts.Users = NewMemoryUserRepository()
	}
	if opts.Hasher == nil {
		opts.Hasher = NewHasher(DefaultIterations)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = DefaultMinPasswordLength
	}
	logger := opts.Logger.With("component", "credentials")
	return &CredentialStore{
		users:              opts.Users,
		hasher:             opts.Hasher,
		sessions:           opts.Sessions,
		clock:              opts.Clock,
		audit:              auditor{rec: opts.Audit, logger: logger},
		logger:             logger,
		minPasswordLength:  opts.MinPasswordLength,
		revokeOnDeactivate: opts.RevokeOnDeactivate,
	}
}

// unavailable wraps a storage fault.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
}

// CreateUser validates input, hashes the password and stores a new active
// user.
func (c *CredentialStore) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	actor := nu.CreatedBy
	fail := func(err error, reason string) (*User, error) {
		c.audit.record(ctx, actor, audit.ActionUserCreated, audit.OutcomeFailure,
			fmt.Sprintf("create %q rejected: %s", nu.Username, reason))
		return nil, err
	}

	if !IsValidUsername(nu.Username) {
		return fail(ErrInvalidUsername, "invalid username")
	}
	if !IsValidRole(nu.Role) {
		return fail(ErrInvalidRole, "invalid role")
	}
	if len(nu.Password) < c.minPasswordLength {
		return fail(ErrPasswordTooShort, "password too short")
	}

	cred, err := c.hasher.HashPassword(nu.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username:     nu.Username,
		Role:         nu.Role,
		PasswordHash: cred.Hash,
		Salt:         cred.Salt,
		Iterations:   cred.Iterations,
		IsActive:     true,
		Email:        strings.TrimSpace(nu.Email),
		FullName:     strings.TrimSpace(nu.FullName),
		CreatedBy:    nu.CreatedBy,
		CreatedAt:    c.clock.Now(),
	}

	if err := c.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return fail(ErrDuplicateUser, "username already exists")
		}
		return nil, unavailable(err)
	}

	c.audit.record(ctx, actor, audit.ActionUserCreated, audit.OutcomeSuccess,
		fmt.Sprintf("created %q with role %s", user.Username, user.Role))
	c.logger.Info("user created", "username", user.Username, "role", user.Role)
	return user, nil
}

// dummyCredential is verified against when the user does not exist, so the
// unknown-user path costs as much as a wrong password.
func (c *CredentialStore) dummyCredential() PasswordHash {
	c.dummyOnce.Do(func() {
		salt := make([]byte, SaltLength)
		c.dummy = PasswordHash{
			Hash:       derive("equipwatch-dummy", salt, c.hasher.Iterations()),
			Salt:       salt,
			Iterations: c.hasher.Iterations(),
		}
	})
	return c.dummy
}

// Authenticate checks credentials and, on success, records the login and
// returns a new session.
//
// Unknown users and wrong passwords both return ErrInvalidCredentials.
// Inactive users return ErrInactiveUser whatever the password.
func (c *CredentialStore) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	user, err := c.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.hasher.Verify(password, c.dummyCredential())
			c.audit.record(ctx, audit.UnknownActor, audit.ActionLoginFailure, audit.OutcomeFailure, "unknown username")
			return nil, ErrInvalidCredentials
		}
		return nil, unavailable(err)
	}

	ok := c.hasher.Verify(password, user.credential())

	if !user.IsActive {
		c.audit.record(ctx, user.Username, audit.ActionLoginFailure, audit.OutcomeFailure, "account inactive")
		return nil, ErrInactiveUser
	}
	if !ok {
		c.audit.record(ctx, user.Username, audit.ActionLoginFailure, audit.OutcomeFailure, "wrong password")
		return nil, ErrInvalidCredentials
	}

	if err := c.users.RecordLogin(ctx, user.Username, c.clock.Now()); err != nil {
		return nil, unavailable(err)
	}

	session, err := c.sessions.CreateSession(ctx, user)
	if err != nil {
		return nil, err
	}

	c.audit.record(ctx, user.Username, audit.ActionLoginSuccess, audit.OutcomeSuccess,
		fmt.Sprintf("role=%s", user.Role))
	return session, nil
}

// ChangePassword replaces the password after verifying the old one.
// A new salt is generated.
func (c *CredentialStore) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	user, err := c.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.hasher.Verify(oldPassword, c.dummyCredential())
			c.audit.record(ctx, audit.UnknownActor, audit.ActionPasswordChanged, audit.OutcomeFailure, "unknown username")
			return ErrInvalidCredentials
		}
		return unavailable(err)
	}

	ok := c.hasher.Verify(oldPassword, user.credential())
	if !user.IsActive {
		c.audit.record(ctx, username, audit.ActionPasswordChanged, audit.OutcomeFailure, "account inactive")
		return ErrInactiveUser
	}
	if !ok {
		c.audit.record(ctx, username, audit.ActionPasswordChanged, audit.OutcomeFailure, "old password did not verify")
		return ErrInvalidCredentials
	}
	if len(newPassword) < c.minPasswordLength {
		c.audit.record(ctx, username, audit.ActionPasswordChanged, audit.OutcomeFailure, "new password too short")
		return ErrPasswordTooShort
	}

	cred, err := c.hasher.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := c.users.UpdatePassword(ctx, username, cred); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return unavailable(err)
	}

	c.audit.record(ctx, username, audit.ActionPasswordChanged, audit.OutcomeSuccess, "password changed")
	return nil
}

// Deactivate blocks future logins for username. Existing sessions are kept
// unless the store was built with RevokeOnDeactivate.
func (c *CredentialStore) Deactivate(ctx context.Context, username, actor string) error {
	if err := c.setActive(ctx, username, false); err != nil {
		return err
	}

	detail := fmt.Sprintf("deactivated %q", username)
	if c.revokeOnDeactivate && c.sessions != nil {
		n, err := c.sessions.InvalidateUser(ctx, username)
		if err != nil {
			return err
		}
		detail = fmt.Sprintf("%s, %d sessions revoked", detail, n)
	}

	c.audit.record(ctx, actor, audit.ActionUserDeactivated, audit.OutcomeSuccess, detail)
	c.logger.Info("user deactivated", "username", username, "by", actor)
	return nil
}

// Reactivate allows username to log in again.
func (c *CredentialStore) Reactivate(ctx context.Context, username, actor string) error {
	if err := c.setActive(ctx, username, true); err != nil {
		return err
	}
	c.audit.record(ctx, actor, audit.ActionUserReactivated, audit.OutcomeSuccess, fmt.Sprintf("reactivated %q", username))
	c.logger.Info("user reactivated", "username", username, "by", actor)
	return nil
}

func (c *CredentialStore) setActive(ctx context.Context, username string, active bool) error {
	if err := c.users.SetActive(ctx, username, active); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return unavailable(err)
	}
	return nil
}

// GetUser returns the account for username.
func (c *CredentialStore) GetUser(ctx context.Context, username string) (*User, error) {
	user, err := c.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable(err)
	}
	return user, nil
}

// ListUsers returns every account, oldest first.
func (c *CredentialStore) ListUsers(ctx context.Context) ([]User, error) {
	users, err := c.users.List(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return users, nil
}

// UpdateUser applies the non-nil fields of upd. A role change affects only
// sessions issued afterwards.
func (c *CredentialStore) UpdateUser(ctx context.Context, username string, upd UserUpdate, actor string) (*User, error) {
	user, err := c.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}

	var changed []string
	if upd.Role != nil && *upd.Role != user.Role {
		if !IsValidRole(*upd.Role) {
			return nil, ErrInvalidRole
		}
		changed = append(changed, fmt.Sprintf("role %s->%s", user.Role, *upd.Role))
		user.Role = *upd.Role
	}
	if upd.Email != nil {
		user.Email = strings.TrimSpace(*upd.Email)
		changed = append(changed, "email")
	}
	if upd.FullName != nil {
		user.FullName = strings.TrimSpace(*upd.FullName)
		changed = append(changed, "full_name")
	}
	if len(changed) == 0 {
		return user, nil
	}

	if err := c.users.Update(ctx, user); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable(err)
	}

	c.audit.record(ctx, actor, audit.ActionUserUpdated, audit.OutcomeSuccess,
		fmt.Sprintf("updated %q: %s", username, strings.Join(changed, ", ")))

	// The stored activation flag may have moved since the read above.
	if fresh, err := c.users.GetByUsername(ctx, username); err == nil {
		return fresh, nil
	}
	return user, nil
}

// SeedAdmin creates the initial admin account on first boot if no users
// exist. It returns the generated password, or "" when seeding was skipped.
func (c *CredentialStore) SeedAdmin(ctx context.Context) (string, error) {
	count, err := c.users.Count(ctx)
	if err != nil {
		return "", unavailable(err)
	}
	if count > 0 {
		c.logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	b := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRandomSource, err)
	}
	password := base64.RawURLEncoding.EncodeToString(b)

	_, err = c.CreateUser(ctx, NewUser{
		Username:  SeedAdminUsername,
		Password:  password,
		Role:      RoleAdmin,
		FullName:  "System Administrator",
		CreatedBy: systemActor,
	})
	if err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	c.logger.Warn("seed admin account created",
		"username", SeedAdminUsername,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}
