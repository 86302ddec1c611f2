package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// sessionTimeLayout is a fixed-width UTC layout so stored timestamps compare
// correctly as strings inside SQLite.
const sessionTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SessionStore persists sessions keyed by the SHA-256 hash of their token.
// Raw tokens are never handed to a store.
type SessionStore interface {
	// Create inserts a session. It returns ErrTokenCollision if the hash is taken.
	Create(ctx context.Context, s *Session) error
	// Get returns the session for a token hash, or ErrSessionNotFound.
	Get(ctx context.Context, tokenHash string) (*Session, error)
	// Extend sets expires_at to the later of its current value and expiresAt,
	// and records lastActivity. Returns ErrSessionNotFound if absent.
	Extend(ctx context.Context, tokenHash string, expiresAt, lastActivity time.Time) (*Session, error)
	// Delete removes a session and reports whether it existed.
	Delete(ctx context.Context, tokenHash string) (bool, error)
	// DeleteByUsername removes every session of a user and returns them.
	DeleteByUsername(ctx context.Context, username string) ([]Session, error)
	// ListByUsername returns a user's sessions, newest first.
	ListByUsername(ctx context.Context, username string) ([]Session, error)
	// DeleteExpired removes sessions whose expiry is before now and returns them.
	DeleteExpired(ctx context.Context, now time.Time) ([]Session, error)
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Only the hash is stored.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h[:])
}

// ─── SQLite ────────────────────────────────────────────────────────

// SQLiteSessionStore implements SessionStore using the sessions table.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SQLite-backed session store.
func NewSessionStore(db *sql.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

const sessionColumns = "token_hash, username, role_snapshot, created_at, expires_at, last_activity_at"

// Create inserts a new session row.
func (r *SQLiteSessionStore) Create(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		s.TokenHash, s.Username, string(s.Role),
		formatSessionTime(s.CreatedAt), formatSessionTime(s.ExpiresAt), formatSessionTime(s.LastActivityAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenCollision
		}
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Get retrieves a session by token hash.
func (r *SQLiteSessionStore) Get(ctx context.Context, tokenHash string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE token_hash = ?", tokenHash)
	return scanSession(row)
}

// Extend moves expires_at forward (never backward) and records activity.
func (r *SQLiteSessionStore) Extend(ctx context.Context, tokenHash string, expiresAt, lastActivity time.Time) (*Session, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = MAX(expires_at, ?), last_activity_at = ? WHERE token_hash = ?`,
		formatSessionTime(expiresAt), formatSessionTime(lastActivity), tokenHash,
	)
	if err != nil {
		return nil, fmt.Errorf("extending session: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return nil, ErrSessionNotFound
	}
	return r.Get(ctx, tokenHash)
}

// Delete removes a session by token hash.
func (r *SQLiteSessionStore) Delete(ctx context.Context, tokenHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", tokenHash)
	if err != nil {
		return false, fmt.Errorf("deleting session: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return rows > 0, nil
}

// DeleteByUsername removes all sessions for a user.
func (r *SQLiteSessionStore) DeleteByUsername(ctx context.Context, username string) ([]Session, error) {
	return r.deleteWhere(ctx, "username = ?", username)
}

// ListByUsername returns a user's sessions, newest first.
func (r *SQLiteSessionStore) ListByUsername(ctx context.Context, username string) ([]Session, error) {
	return r.query(ctx, r.db, "SELECT "+sessionColumns+" FROM sessions WHERE username = ? ORDER BY created_at DESC", username)
}

// DeleteExpired removes sessions that expired before now.
func (r *SQLiteSessionStore) DeleteExpired(ctx context.Context, now time.Time) ([]Session, error) {
	return r.deleteWhere(ctx, "expires_at < ?", formatSessionTime(now))
}

// deleteWhere selects and deletes matching rows in one transaction so the
// returned list is exactly what was removed.
func (r *SQLiteSessionStore) deleteWhere(ctx context.Context, cond string, arg any) ([]Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning session delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	sessions, err := r.query(ctx, tx, "SELECT "+sessionColumns+" FROM sessions WHERE "+cond, arg) //nolint:gosec // cond is a constant
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE "+cond, arg); err != nil { //nolint:gosec // cond is a constant
		return nil, fmt.Errorf("deleting sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing session delete: %w", err)
	}
	return sessions, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQLiteSessionStore) query(ctx context.Context, q queryer, query string, args ...any) ([]Session, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(s scanner) (*Session, error) {
	var sess Session
	var role, createdAt, expiresAt, lastActivity string

	if err := s.Scan(&sess.TokenHash, &sess.Username, &role, &createdAt, &expiresAt, &lastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.Role = Role(role)
	sess.CreatedAt, _ = time.Parse(sessionTimeLayout, createdAt)         //nolint:errcheck // format is controlled
	sess.ExpiresAt, _ = time.Parse(sessionTimeLayout, expiresAt)         //nolint:errcheck // format is controlled
	sess.LastActivityAt, _ = time.Parse(sessionTimeLayout, lastActivity) //nolint:errcheck // format is controlled
	return &sess, nil
}

func formatSessionTime(t time.Time) string {
	return t.UTC().Format(sessionTimeLayout)
}

// ─── Memory ────────────────────────────────────────────────────────

// MemorySessionStore implements SessionStore with a map.
//
// Thread Safety: All methods are safe for concurrent use.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

// Create inserts a session unless its hash is already present.
func (m *MemorySessionStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.TokenHash]; exists {
		return ErrTokenCollision
	}
	stored := *s
	stored.Token = ""
	m.sessions[s.TokenHash] = stored
	return nil
}

// Get returns a copy of the session.
func (m *MemorySessionStore) Get(_ context.Context, tokenHash string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

// Extend moves the expiry forward (never backward) and records activity.
func (m *MemorySessionStore) Extend(_ context.Context, tokenHash string, expiresAt, lastActivity time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if expiresAt.After(s.ExpiresAt) {
		s.ExpiresAt = expiresAt
	}
	s.LastActivityAt = lastActivity
	m.sessions[tokenHash] = s
	return &s, nil
}

// Delete removes a session.
func (m *MemorySessionStore) Delete(_ context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[tokenHash]
	delete(m.sessions, tokenHash)
	return ok, nil
}

// DeleteByUsername removes all sessions of a user.
func (m *MemorySessionStore) DeleteByUsername(_ context.Context, username string) ([]Session, error) {
	return m.deleteMatching(func(s Session) bool { return s.Username == username }), nil
}

// ListByUsername returns a user's sessions, newest first.
func (m *MemorySessionStore) ListByUsername(_ context.Context, username string) ([]Session, error) {
	m.mu.RLock()
	out := []Session{}
	for _, s := range m.sessions {
		if s.Username == username {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteExpired removes sessions whose expiry is before now.
func (m *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) ([]Session, error) {
	return m.deleteMatching(func(s Session) bool { return s.ExpiresAt.Before(now) }), nil
}

func (m *MemorySessionStore) deleteMatching(match func(Session) bool) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := []Session{}
	for hash, s := range m.sessions {
		if match(s) {
			removed = append(removed, s)
			delete(m.sessions, hash)
		}
	}
	return removed
}
