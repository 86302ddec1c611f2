package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerrad567/equipwatch-core/internal/audit"
)

// Session lifetime defaults.
const (
	DefaultIdleTimeout   = 8 * time.Hour
	DefaultMaxLifetime   = 24 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// tokenBytes is the amount of randomness in a session token (256 bits).
const tokenBytes = 32

// maxTokenAttempts bounds regeneration after a store-reported collision.
const maxTokenAttempts = 3

// SessionConfig controls session expiry.
type SessionConfig struct {
	// IdleTimeout is how long a session lives without a Touch.
	IdleTimeout time.Duration
	// MaxLifetime caps sliding renewal, measured from creation.
	MaxLifetime time.Duration
	// SweepInterval is the period of RunSweeper.
	SweepInterval time.Duration
}

// withDefaults fills zero values.
func (c SessionConfig) withDefaults() SessionConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = DefaultMaxLifetime
	}
	if c.MaxLifetime < c.IdleTimeout {
		c.MaxLifetime = c.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// SessionManagerOptions holds the collaborators of a SessionManager.
type SessionManagerOptions struct {
	Store  SessionStore
	Clock  Clock
	Audit  AuditRecorder
	Logger *slog.Logger
	Config SessionConfig
}

// SessionManager issues, validates, renews and revokes sessions.
//
// States: Active until ExpiresAt, then Expired (detected lazily or by the
// sweeper); Revoked after Invalidate. Expired and Revoked are terminal.
//
// Thread Safety: All methods are safe for concurrent use. Atomicity of
// issuance and renewal is delegated to the SessionStore.
type SessionManager struct {
	store    SessionStore
	clock    Clock
	audit    auditor
	logger   *slog.Logger
	cfg      SessionConfig
	newToken func() (string, error)
}

// NewSessionManager creates a SessionManager. Missing options fall back to
// an in-memory store, the system clock and the default lifetimes.
func NewSessionManager(opts SessionManagerOptions) *SessionManager {
	if opts.Store == nil {
		opts.Store = NewMemorySessionStore()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "sessions")
	return &SessionManager{
		store:    opts.Store,
		clock:    opts.Clock,
		audit:    auditor{rec: opts.Audit, logger: logger},
		logger:   logger,
		cfg:      opts.Config.withDefaults(),
		newToken: generateToken,
	}
}

// Config returns the effective session configuration.
func (m *SessionManager) Config() SessionConfig {
	return m.cfg
}

// generateToken returns 256 bits from crypto/rand, base64url without padding.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRandomSource, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CreateSession issues a new session for user. The returned Session is the
// only place the raw token ever appears.
func (m *SessionManager) CreateSession(ctx context.Context, user *User) (*Session, error) {
	now := m.clock.Now()
	s := Session{
		Username:       user.Username,
		Role:           user.Role,
		CreatedAt:      now,
		ExpiresAt:      now.Add(min(m.cfg.IdleTimeout, m.cfg.MaxLifetime)),
		LastActivityAt: now,
	}

	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := m.newToken()
		if err != nil {
			return nil, err
		}
		s.Token = token
		s.TokenHash = HashToken(token)

		err = m.store.Create(ctx, &s)
		if errors.Is(err, ErrTokenCollision) {
			m.logger.Warn("session token collision, regenerating", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}

		m.audit.record(ctx, s.Username, audit.ActionSessionCreated, audit.OutcomeSuccess,
			fmt.Sprintf("role=%s expires_at=%s", s.Role, s.ExpiresAt.Format(time.RFC3339)))
		return &s, nil
	}

	return nil, fmt.Errorf("%w: %d attempts", ErrTokenCollision, maxTokenAttempts)
}

// ValidateSession returns the session for token if it is active now.
// An expired session is evicted and ErrSessionExpired returned.
func (m *SessionManager) ValidateSession(ctx context.Context, token string) (*Session, error) {
	return m.validateAt(ctx, token, m.clock.Now())
}

// CheckSession reports whether the session stored under tokenHash is still
// active, without renewing it. Long-lived connections use it to notice
// logout, revocation and expiry.
func (m *SessionManager) CheckSession(ctx context.Context, tokenHash string) (*Session, error) {
	if tokenHash == "" {
		return nil, ErrSessionNotFound
	}
	return m.lookupAt(ctx, tokenHash, m.clock.Now())
}

func (m *SessionManager) validateAt(ctx context.Context, token string, now time.Time) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	return m.lookupAt(ctx, HashToken(token), now)
}

func (m *SessionManager) lookupAt(ctx context.Context, tokenHash string, now time.Time) (*Session, error) {
	s, err := m.store.Get(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	if s.expiredAt(now) {
		m.evict(ctx, s)
		return nil, ErrSessionExpired
	}
	return s, nil
}

// evict removes an expired session and audits it once.
func (m *SessionManager) evict(ctx context.Context, s *Session) {
	removed, err := m.store.Delete(ctx, s.TokenHash)
	if err != nil {
		m.logger.Error("failed to evict expired session", "username", s.Username, "error", err)
		return
	}
	if removed {
		m.audit.record(ctx, s.Username, audit.ActionSessionExpired, audit.OutcomeSuccess, "expired on access")
	}
}

// Touch validates the session and slides its expiry to now+IdleTimeout,
// bounded by CreatedAt+MaxLifetime. ExpiresAt never moves backward.
func (m *SessionManager) Touch(ctx context.Context, token string) (*Session, error) {
	now := m.clock.Now()
	s, err := m.validateAt(ctx, token, now)
	if err != nil {
		return nil, err
	}

	target := now.Add(m.cfg.IdleTimeout)
	if limit := s.CreatedAt.Add(m.cfg.MaxLifetime); target.After(limit) {
		target = limit
	}

	updated, err := m.store.Extend(ctx, s.TokenHash, target, now)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return updated, nil
}

// Invalidate revokes the session for token. Unknown tokens are not an error.
func (m *SessionManager) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	s, err := m.store.Get(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	removed, err := m.store.Delete(ctx, s.TokenHash)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	if removed {
		m.audit.record(ctx, s.Username, audit.ActionSessionRevoked, audit.OutcomeSuccess, "logout")
	}
	return nil
}

// InvalidateUser revokes every session of username and returns how many
// were removed.
func (m *SessionManager) InvalidateUser(ctx context.Context, username string) (int, error) {
	removed, err := m.store.DeleteByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	for range removed {
		m.audit.record(ctx, username, audit.ActionSessionRevoked, audit.OutcomeSuccess, "all sessions of user revoked")
	}
	return len(removed), nil
}

// ListUserSessions returns the active sessions of username, newest first.
func (m *SessionManager) ListUserSessions(ctx context.Context, username string) ([]Session, error) {
	sessions, err := m.store.ListByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	now := m.clock.Now()
	active := sessions[:0]
	for i := range sessions {
		if !sessions[i].expiredAt(now) {
			active = append(active, sessions[i])
		}
	}
	return active, nil
}

// Sweep deletes every session whose expiry has passed.
func (m *SessionManager) Sweep(ctx context.Context) (int, error) {
	removed, err := m.store.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	for _, s := range removed {
		m.audit.record(ctx, s.Username, audit.ActionSessionExpired, audit.OutcomeSuccess, "expired by sweep")
	}
	return len(removed), nil
}

// RunSweeper calls Sweep every SweepInterval until ctx is cancelled.
func (m *SessionManager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Error("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Debug("expired sessions swept", "count", n)
			}
		}
	}
}
