package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/equipwatch-core/internal/audit"
)

func TestCreateSession(t *testing.T) {
	c := newTestCore(t)
	user := &User{Username: "alice", Role: RoleTechnician}

	s, err := c.sessions.CreateSession(t.Context(), user)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if len(s.Token) != 43 {
		t.Errorf("token length = %d, want 43 (32 bytes base64url)", len(s.Token))
	}
	if s.TokenHash != HashToken(s.Token) {
		t.Error("TokenHash should be the hash of Token")
	}
	if !s.CreatedAt.Equal(testEpoch) {
		t.Errorf("CreatedAt = %v, want %v", s.CreatedAt, testEpoch)
	}
	if !s.ExpiresAt.Equal(testEpoch.Add(8 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, want T+8h", s.ExpiresAt)
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		t.Error("ExpiresAt must be after CreatedAt")
	}
	if s.Role != RoleTechnician {
		t.Errorf("Role = %q, want technician", s.Role)
	}

	stored, err := c.store.Get(t.Context(), s.TokenHash)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if stored.Token != "" {
		t.Error("raw token must not be persisted")
	}

	if n := len(c.audit.byAction(audit.ActionSessionCreated)); n != 1 {
		t.Errorf("session_created entries = %d, want 1", n)
	}
}

func TestValidateSession_IdleExpiry(t *testing.T) {
	c := newTestCore(t)
	s, _ := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleTechnician}) //nolint:errcheck // test setup

	c.clock.Advance(time.Hour)
	got, err := c.sessions.ValidateSession(t.Context(), s.Token)
	if err != nil {
		t.Fatalf("ValidateSession() at T+1h error = %v", err)
	}
	if got.Username != "alice" || got.Role != RoleTechnician {
		t.Errorf("got %s/%s, want alice/technician", got.Username, got.Role)
	}

	c.clock.Set(testEpoch.Add(9 * time.Hour))
	if _, err := c.sessions.ValidateSession(t.Context(), s.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("ValidateSession() at T+9h error = %v, want ErrSessionExpired", err)
	}

	// The expired record was evicted.
	if _, err := c.sessions.ValidateSession(t.Context(), s.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ValidateSession() after eviction error = %v, want ErrSessionNotFound", err)
	}
	if n := len(c.audit.byAction(audit.ActionSessionExpired)); n != 1 {
		t.Errorf("session_expired entries = %d, want 1", n)
	}
}

func TestValidateSession_Boundary(t *testing.T) {
	c := newTestCore(t)
	s, _ := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleViewer}) //nolint:errcheck // test setup

	c.clock.Set(s.ExpiresAt)
	if _, err := c.sessions.ValidateSession(t.Context(), s.Token); err != nil {
		t.Errorf("ValidateSession() at exactly ExpiresAt error = %v, want nil", err)
	}

	c.clock.Advance(time.Nanosecond)
	if _, err := c.sessions.ValidateSession(t.Context(), s.Token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("ValidateSession() just past ExpiresAt error = %v, want ErrSessionExpired", err)
	}
}

func TestValidateSession_Unknown(t *testing.T) {
	c := newTestCore(t)
	for _, token := range []string{"", "not-a-real-token"} {
		if _, err := c.sessions.ValidateSession(t.Context(), token); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("ValidateSession(%q) error = %v, want ErrSessionNotFound", token, err)
		}
	}
}

func TestCheckSession(t *testing.T) {
	c := newTestCore(t)
	s, _ := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleAdmin}) //nolint:errcheck // test setup

	c.clock.Advance(time.Hour)
	got, err := c.sessions.CheckSession(t.Context(), s.TokenHash)
	if err != nil {
		t.Fatalf("CheckSession() error = %v", err)
	}
	if !got.ExpiresAt.Equal(s.ExpiresAt) {
		t.Errorf("CheckSession() moved ExpiresAt to %v, want %v", got.ExpiresAt, s.ExpiresAt)
	}

	if err := c.sessions.Invalidate(t.Context(), s.Token); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := c.sessions.CheckSession(t.Context(), s.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("CheckSession() after logout error = %v, want ErrSessionNotFound", err)
	}

	other, _ := c.sessions.CreateSession(t.Context(), &User{Username: "bob", Role: RoleViewer}) //nolint:errcheck // test setup
	c.clock.Set(other.ExpiresAt.Add(time.Second))
	if _, err := c.sessions.CheckSession(t.Context(), other.TokenHash); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("CheckSession() past expiry error = %v, want ErrSessionExpired", err)
	}
	if _, err := c.sessions.CheckSession(t.Context(), ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("CheckSession(\"\") error = %v, want ErrSessionNotFound", err)
	}
}

func TestTouch_SlidesUpToMaxLifetime(t *testing.T) {
	c := newTestCore(t)
	s, _ := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleViewer}) //nolint:errcheck // test setup

	steps := []struct {
		at   time.Duration
		want time.Duration
	}{
		{7 * time.Hour, 15 * time.Hour},
		{14 * time.Hour, 22 * time.Hour},
		{21 * time.Hour, 24 * time.Hour}, // capped at CreatedAt + MaxLifetime
		{23 * time.Hour, 24 * time.Hour},
	}

	for _, step := range steps {
		c.clock.Set(testEpoch.Add(step.at))
		got, err := c.sessions.Touch(t.Context(), s.Token)
		if err != nil {
			t.Fatalf("Touch() at T+%v error = %v", step.at, err)
		}
		if want := testEpoch.Add(step.want); !got.ExpiresAt.Equal(want) {
			t.Errorf("Touch() at T+%v ExpiresAt = %v, want %v", step.at, got.ExpiresAt, want)
		}
		if !got.LastActivityAt.Equal(testEpoch.Add(step.at)) {
			t.Errorf("LastActivityAt = %v, want T+%v", got.LastActivityAt, step.at)
		}
	}

	c.clock.Set(testEpoch.Add(24*time.Hour + time.Second))
	if _, err := c.sessions.Touch(t.Context(), s.Token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Touch() past max lifetime error = %v, want ErrSessionExpired", err)
	}
}

func TestTouch_NeverMovesBackward(t *testing.T) {
	c := newTestCore(t)
	s, _ := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleViewer}) //nolint:errcheck // test setup

	c.clock.Set(testEpoch.Add(5 * time.Hour))
	first, err := c.sessions.Touch(t.Context(), s.Token)
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	// Clock stepped backwards (e.g. NTP correction).
	c.clock.Set(testEpoch.Add(time.Hour))
	second, err := c.sessions.Touch(t.Context(), s.Token)
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if second.ExpiresAt.Before(first.ExpiresAt) {
		t.Errorf("ExpiresAt moved backward: %v -> %v", first.ExpiresAt, second.ExpiresAt)
	}
}

func TestTouch_ConcurrentMonotonic(t *testing.T) {
	c := newTestCore(t)
	s, _ := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleViewer}) //nolint:errcheck // test setup
	c.clock.Set(testEpoch.Add(2 * time.Hour))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.sessions.Touch(context.Background(), s.Token); err != nil {
				t.Errorf("Touch() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := c.store.Get(t.Context(), s.TokenHash)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if want := testEpoch.Add(10 * time.Hour); !got.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want)
	}
}

func TestInvalidate_Idempotent(t *testing.T) {
	c := newTestCore(t)
	s, _ := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleViewer}) //nolint:errcheck // test setup

	if err := c.sessions.Invalidate(t.Context(), s.Token); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := c.sessions.ValidateSession(t.Context(), s.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ValidateSession() after Invalidate error = %v, want ErrSessionNotFound", err)
	}
	if err := c.sessions.Invalidate(t.Context(), s.Token); err != nil {
		t.Errorf("second Invalidate() error = %v, want nil", err)
	}
	if err := c.sessions.Invalidate(t.Context(), ""); err != nil {
		t.Errorf("Invalidate(\"\") error = %v, want nil", err)
	}

	revoked := c.audit.byAction(audit.ActionSessionRevoked)
	if len(revoked) != 1 {
		t.Fatalf("session_revoked entries = %d, want 1", len(revoked))
	}
	if revoked[0].Actor != "alice" {
		t.Errorf("revoked actor = %q, want alice", revoked[0].Actor)
	}
}

func TestInvalidate_ExpiredSession(t *testing.T) {
	c := newTestCore(t)
	s, _ := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleViewer}) //nolint:errcheck // test setup

	c.clock.Advance(12 * time.Hour)
	if err := c.sessions.Invalidate(t.Context(), s.Token); err != nil {
		t.Fatalf("Invalidate() of expired session error = %v", err)
	}
	if _, err := c.store.Get(t.Context(), s.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Error("expired session should be removed by Invalidate")
	}
}

func TestCreateSession_RegeneratesOnCollision(t *testing.T) {
	c := newTestCore(t)
	user := &User{Username: "alice", Role: RoleViewer}

	tokens := []string{"fixed-token", "fixed-token", "other-token"}
	c.sessions.newToken = func() (string, error) {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}

	first, err := c.sessions.CreateSession(t.Context(), user)
	if err != nil {
		t.Fatalf("first CreateSession() error = %v", err)
	}
	second, err := c.sessions.CreateSession(t.Context(), user)
	if err != nil {
		t.Fatalf("second CreateSession() error = %v", err)
	}
	if first.Token == second.Token {
		t.Error("colliding token should have been regenerated")
	}
	if second.Token != "other-token" {
		t.Errorf("second token = %q, want other-token", second.Token)
	}
}

func TestCreateSession_GivesUpAfterRepeatedCollisions(t *testing.T) {
	c := newTestCore(t)
	user := &User{Username: "alice", Role: RoleViewer}
	c.sessions.newToken = func() (string, error) { return "stuck", nil }

	if _, err := c.sessions.CreateSession(t.Context(), user); err != nil {
		t.Fatalf("first CreateSession() error = %v", err)
	}
	if _, err := c.sessions.CreateSession(t.Context(), user); !errors.Is(err, ErrTokenCollision) {
		t.Errorf("error = %v, want ErrTokenCollision", err)
	}
}

func TestCreateSession_RandomFailure(t *testing.T) {
	c := newTestCore(t)
	c.sessions.newToken = func() (string, error) { return "", ErrRandomSource }

	if _, err := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleViewer}); !errors.Is(err, ErrRandomSource) {
		t.Errorf("error = %v, want ErrRandomSource", err)
	}
}

func TestCreateSession_ConcurrentUniqueTokens(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			c := newTestCoreWith(t, NewMemoryUserRepository(), store)
			user := &User{Username: "alice", Role: RoleViewer}

			const workers = 50
			var wg sync.WaitGroup
			tokens := make(chan string, workers)
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					s, err := c.sessions.CreateSession(context.Background(), user)
					if err != nil {
						t.Errorf("CreateSession() error = %v", err)
						return
					}
					tokens <- s.Token
				}()
			}
			wg.Wait()
			close(tokens)

			seen := make(map[string]bool)
			for tok := range tokens {
				if seen[tok] {
					t.Fatalf("duplicate token issued: %s", tok)
				}
				seen[tok] = true
			}
			if len(seen) != workers {
				t.Errorf("issued %d tokens, want %d", len(seen), workers)
			}
		})
	}
}

func TestSweep(t *testing.T) {
	c := newTestCore(t)
	alice, _ := c.sessions.CreateSession(t.Context(), &User{Username: "alice", Role: RoleViewer}) //nolint:errcheck // test setup

	c.clock.Advance(4 * time.Hour)
	bob, _ := c.sessions.CreateSession(t.Context(), &User{Username: "bob", Role: RoleViewer}) //nolint:errcheck // test setup

	c.clock.Advance(5 * time.Hour) // alice expired at T+8h, bob expires at T+12h
	n, err := c.sessions.Sweep(t.Context())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	if _, err := c.store.Get(t.Context(), alice.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Error("alice's session should be swept")
	}
	if _, err := c.sessions.ValidateSession(t.Context(), bob.Token); err != nil {
		t.Errorf("bob's session should survive: %v", err)
	}

	expired := c.audit.byAction(audit.ActionSessionExpired)
	if len(expired) != 1 || expired[0].Actor != "alice" {
		t.Errorf("session_expired entries = %+v, want one for alice", expired)
	}
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	clock := NewManualClock(testEpoch)
	store := NewMemorySessionStore()
	m := NewSessionManager(SessionManagerOptions{
		Store:  store,
		Clock:  clock,
		Config: SessionConfig{SweepInterval: 10 * time.Millisecond},
	})

	s, _ := m.CreateSession(t.Context(), &User{Username: "alice", Role: RoleViewer}) //nolint:errcheck // test setup
	clock.Advance(9 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := store.Get(t.Context(), s.TokenHash); errors.Is(err, ErrSessionNotFound) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not remove the expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

func TestListAndInvalidateUserSessions(t *testing.T) {
	c := newTestCore(t)
	alice := &User{Username: "alice", Role: RoleViewer}

	for range 3 {
		if _, err := c.sessions.CreateSession(t.Context(), alice); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
		c.clock.Advance(time.Minute)
	}
	if _, err := c.sessions.CreateSession(t.Context(), &User{Username: "bob", Role: RoleViewer}); err != nil {
		t.Fatalf("CreateSession(bob) error = %v", err)
	}

	list, err := c.sessions.ListUserSessions(t.Context(), "alice")
	if err != nil {
		t.Fatalf("ListUserSessions() error = %v", err)
	}
	if len(list) != 3 {
		t.Errorf("ListUserSessions() = %d sessions, want 3", len(list))
	}

	n, err := c.sessions.InvalidateUser(t.Context(), "alice")
	if err != nil {
		t.Fatalf("InvalidateUser() error = %v", err)
	}
	if n != 3 {
		t.Errorf("InvalidateUser() = %d, want 3", n)
	}

	list, _ = c.sessions.ListUserSessions(t.Context(), "alice") //nolint:errcheck // checked via length
	if len(list) != 0 {
		t.Errorf("alice still has %d sessions", len(list))
	}
	bobs, _ := c.sessions.ListUserSessions(t.Context(), "bob") //nolint:errcheck // checked via length
	if len(bobs) != 1 {
		t.Errorf("bob has %d sessions, want 1", len(bobs))
	}
}

func TestListUserSessions_HidesExpired(t *testing.T) {
	c := newTestCore(t)
	alice := &User{Username: "alice", Role: RoleViewer}

	_, _ = c.sessions.CreateSession(t.Context(), alice) //nolint:errcheck // test setup
	c.clock.Advance(6 * time.Hour)
	_, _ = c.sessions.CreateSession(t.Context(), alice) //nolint:errcheck // test setup
	c.clock.Advance(3 * time.Hour)

	list, err := c.sessions.ListUserSessions(t.Context(), "alice")
	if err != nil {
		t.Fatalf("ListUserSessions() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListUserSessions() = %d sessions, want 1", len(list))
	}
}

func TestSessionConfig_Defaults(t *testing.T) {
	cfg := SessionConfig{IdleTimeout: 10 * time.Hour, MaxLifetime: time.Hour}.withDefaults()
	if cfg.MaxLifetime != 10*time.Hour {
		t.Errorf("MaxLifetime = %v, want raised to IdleTimeout", cfg.MaxLifetime)
	}

	cfg = SessionConfig{}.withDefaults()
	if cfg.IdleTimeout != DefaultIdleTimeout || cfg.MaxLifetime != DefaultMaxLifetime || cfg.SweepInterval != DefaultSweepInterval {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestSessionManager_SQLiteStore(t *testing.T) {
	c := newTestCoreWith(t, NewUserRepository(testDB(t)), NewSessionStore(testDB(t)))
	c.mustCreateUser(t, "alice", "Passw0rd!", RoleTechnician)
	s := c.mustLogin(t, "alice", "Passw0rd!")

	c.clock.Advance(7 * time.Hour)
	touched, err := c.sessions.Touch(t.Context(), s.Token)
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if want := testEpoch.Add(15 * time.Hour); !touched.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", touched.ExpiresAt, want)
	}

	c.clock.Advance(9 * time.Hour)
	if _, err := c.sessions.ValidateSession(t.Context(), s.Token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("ValidateSession() error = %v, want ErrSessionExpired", err)
	}
}
