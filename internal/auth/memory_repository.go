package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryUserRepository implements UserRepository in process memory.
// It backs tests and deployments that run without a database file.
//
// Thread Safety: All methods are safe for concurrent use.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryUserRepository creates an empty in-memory user repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*User)}
}

// Create inserts a new user; the duplicate check and insert share one lock.
func (r *MemoryUserRepository) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.Username]; exists {
		return ErrDuplicateUser
	}
	prepareNewUser(user)
	r.users[user.Username] = cloneUser(user)
	return nil
}

// GetByUsername returns a copy of the stored user.
func (r *MemoryUserRepository) GetByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

// List returns all users ordered by creation date, then username.
func (r *MemoryUserRepository) List(_ context.Context) ([]User, error) {
	r.mu.RLock()
	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, *cloneUser(u))
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Username < users[j].Username
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// Update modifies role, email, full name and active flag.
func (r *MemoryUserRepository) Update(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[user.Username]
	if !ok {
		return ErrUserNotFound
	}
	user.UpdatedAt = nowSecond()
	u.Role = user.Role
	u.Email = user.Email
	u.FullName = user.FullName
	u.UpdatedAt = user.UpdatedAt
	return nil
}

// UpdatePassword replaces hash, salt and iterations together.
func (r *MemoryUserRepository) UpdatePassword(_ context.Context, username string, cred PasswordHash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = cloneBytes(cred.Hash)
	u.Salt = cloneBytes(cred.Salt)
	u.Iterations = cred.Iterations
	u.UpdatedAt = nowSecond()
	return nil
}

// SetActive flips the active flag.
func (r *MemoryUserRepository) SetActive(_ context.Context, username string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.IsActive = active
	u.UpdatedAt = nowSecond()
	return nil
}

// RecordLogin stamps the last login time and increments the login count.
func (r *MemoryUserRepository) RecordLogin(_ context.Context, username string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[username]
	if !ok {
		return ErrUserNotFound
	}
	t := at.UTC().Truncate(time.Second)
	u.LastLoginAt = &t
	u.LoginCount++
	return nil
}

// Count returns the number of users.
func (r *MemoryUserRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

func cloneUser(u *User) *User {
	c := *u
	c.PasswordHash = cloneBytes(u.PasswordHash)
	c.Salt = cloneBytes(u.Salt)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
