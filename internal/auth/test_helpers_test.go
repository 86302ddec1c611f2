package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/equipwatch-core/internal/audit"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/database"
	_ "github.com/nerrad567/equipwatch-core/migrations" // registers embedded schema
)

// testIterations keeps PBKDF2 fast in tests; production uses DefaultIterations.
const testIterations = 1000

// testEpoch is the starting instant of every ManualClock in this package.
var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// testDB creates a temporary SQLite database with all migrations applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// recordingAudit captures entries in memory.
type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// byAction returns the captured entries with the given action.
func (r *recordingAudit) byAction(action audit.Action) []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingAudit) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

// testCore bundles a fully wired core over memory storage.
type testCore struct {
	clock    *ManualClock
	audit    *recordingAudit
	users    UserRepository
	store    SessionStore
	sessions *SessionManager
	creds    *CredentialStore
	access   *AccessController
}

type coreOption func(*CredentialStoreOptions)

func withRevokeOnDeactivate() coreOption {
	return func(o *CredentialStoreOptions) { o.RevokeOnDeactivate = true }
}

// newTestCore wires the core with in-memory repositories.
func newTestCore(t *testing.T, opts ...coreOption) *testCore {
	t.Helper()
	return newTestCoreWith(t, NewMemoryUserRepository(), NewMemorySessionStore(), opts...)
}

// newTestCoreWith wires the core over the given repositories.
func newTestCoreWith(t *testing.T, users UserRepository, store SessionStore, opts ...coreOption) *testCore {
	t.Helper()

	clock := NewManualClock(testEpoch)
	rec := &recordingAudit{}
	sessions := NewSessionManager(SessionManagerOptions{
		Store: store,
		Clock: clock,
		Audit: rec,
		Config: SessionConfig{
			IdleTimeout: DefaultIdleTimeout,
			MaxLifetime: DefaultMaxLifetime,
		},
	})

	credOpts := CredentialStoreOptions{
		Users:    users,
		Hasher:   NewHasher(testIterations),
		Sessions: sessions,
		Clock:    clock,
		Audit:    rec,
	}
	for _, o := range opts {
		o(&credOpts)
	}

	return &testCore{
		clock:    clock,
		audit:    rec,
		users:    users,
		store:    store,
		sessions: sessions,
		creds:    NewCredentialStore(credOpts),
		access:   NewAccessController(sessions, rec, nil),
	}
}

// mustCreateUser creates a user or fails the test.
func (c *testCore) mustCreateUser(t *testing.T, username, password string, role Role) *User {
	t.Helper()
	u, err := c.creds.CreateUser(t.Context(), NewUser{Username: username, Password: password, Role: role})
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", username, err)
	}
	return u
}

// mustLogin authenticates or fails the test.
func (c *testCore) mustLogin(t *testing.T, username, password string) *Session {
	t.Helper()
	s, err := c.creds.Authenticate(t.Context(), username, password)
	if err != nil {
		t.Fatalf("Authenticate(%s) error = %v", username, err)
	}
	return s
}

// seedTestUser inserts a user directly through a repository.
func seedTestUser(t *testing.T, repo UserRepository, username string, role Role) *User {
	t.Helper()

	cred, err := NewHasher(testIterations).HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{
		Username:     username,
		Role:         role,
		PasswordHash: cred.Hash,
		Salt:         cred.Salt,
		Iterations:   cred.Iterations,
		IsActive:     true,
	}
	if err := repo.Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}
