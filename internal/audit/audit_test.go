package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/equipwatch-core/internal/infrastructure/database"
	_ "github.com/nerrad567/equipwatch-core/migrations" // registers embedded schema
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// testDB creates a temporary SQLite database with all migrations applied.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit-test.db"),
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
	return db
}

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	return map[string]Repository{
		"sqlite": NewSQLiteRepository(testDB(t).DB),
		"memory": NewMemoryRepository(),
	}
}

// steppingClock returns a clock that advances one second per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func seedEntries(t *testing.T, l *Log) {
	t.Helper()
	entries := []Entry{
		{Actor: "alice", Action: ActionLoginSuccess, Outcome: OutcomeSuccess},
		{Actor: "", Action: ActionLoginFailure, Outcome: OutcomeFailure, Detail: "unknown username"},
		{Actor: "alice", Action: ActionPermissionDenied, Outcome: OutcomeDenied, Detail: "role technician lacks manage_users"},
		{Actor: "bob", Action: ActionLoginSuccess, Outcome: OutcomeSuccess},
		{Actor: "alice", Action: ActionSessionRevoked, Outcome: OutcomeSuccess, RequestID: "req-1"},
	}
	for _, e := range entries {
		if err := l.Record(t.Context(), e); err != nil {
			t.Fatalf("Record(%s) error = %v", e.Action, err)
		}
	}
}

func TestLog_RecordFillsDefaults(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLog(LogConfig{Repository: repo, Now: steppingClock()})
			if err := l.Record(t.Context(), Entry{Action: ActionLoginFailure, Outcome: OutcomeFailure}); err != nil {
				t.Fatalf("Record() error = %v", err)
			}

			res, err := l.Query(t.Context(), Filter{})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(res.Entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(res.Entries))
			}
			e := res.Entries[0]
			if len(e.ID) != len("aud-")+36 || e.ID[:4] != "aud-" {
				t.Errorf("ID = %q, want aud- prefix and a full UUID", e.ID)
			}
			if e.Actor != UnknownActor {
				t.Errorf("Actor = %q, want %q", e.Actor, UnknownActor)
			}
			if e.Source != SourceCore {
				t.Errorf("Source = %q, want %q", e.Source, SourceCore)
			}
			if !e.Timestamp.Equal(epoch.Add(time.Second)) {
				t.Errorf("Timestamp = %v, want %v", e.Timestamp, epoch.Add(time.Second))
			}
		})
	}
}

// idRecorder wraps a Repository and remembers every appended ID.
type idRecorder struct {
	Repository
	ids map[string]int
}

func (r *idRecorder) Append(ctx context.Context, e *Entry) error {
	r.ids[e.ID]++
	return r.Repository.Append(ctx, e)
}

func TestLog_GeneratedIDsAreUnique(t *testing.T) {
	counts := map[string]int{"memory": 50_000, "sqlite": 2_000}
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			rec := &idRecorder{Repository: repo, ids: make(map[string]int)}
			l := NewLog(LogConfig{Repository: rec})

			n := counts[name]
			for i := 0; i < n; i++ {
				if err := l.Record(t.Context(), Entry{Action: ActionLoginSuccess, Outcome: OutcomeSuccess}); err != nil {
					t.Fatalf("Record() #%d error = %v", i, err)
				}
			}
			if len(rec.ids) != n {
				t.Errorf("distinct IDs = %d, want %d", len(rec.ids), n)
			}

			res, err := l.Query(t.Context(), Filter{Limit: 1})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if res.Total != n {
				t.Errorf("Total = %d, want %d", res.Total, n)
			}
		})
	}
}

func TestLog_QueryFilters(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLog(LogConfig{Repository: repo, Now: steppingClock()})
			seedEntries(t, l)

			tests := []struct {
				name   string
				filter Filter
				want   []Action
			}{
				{"all newest first", Filter{}, []Action{
					ActionSessionRevoked, ActionLoginSuccess, ActionPermissionDenied, ActionLoginFailure, ActionLoginSuccess,
				}},
				{"by actor", Filter{Actor: "alice"}, []Action{
					ActionSessionRevoked, ActionPermissionDenied, ActionLoginSuccess,
				}},
				{"by action", Filter{Action: ActionLoginSuccess}, []Action{ActionLoginSuccess, ActionLoginSuccess}},
				{"unknown actor", Filter{Actor: UnknownActor}, []Action{ActionLoginFailure}},
				{"time range", Filter{Since: epoch.Add(2 * time.Second), Until: epoch.Add(4 * time.Second)}, []Action{
					ActionPermissionDenied, ActionLoginFailure,
				}},
				{"page", Filter{Limit: 2, Offset: 1}, []Action{ActionLoginSuccess, ActionPermissionDenied}},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					res, err := l.Query(t.Context(), tt.filter)
					if err != nil {
						t.Fatalf("Query() error = %v", err)
					}
					if len(res.Entries) != len(tt.want) {
						t.Fatalf("entries = %d, want %d", len(res.Entries), len(tt.want))
					}
					for i, a := range tt.want {
						if res.Entries[i].Action != a {
							t.Errorf("entry %d action = %s, want %s", i, res.Entries[i].Action, a)
						}
					}
				})
			}
		})
	}
}

func TestLog_QueryPagination(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLog(LogConfig{Repository: repo, Now: steppingClock()})
			seedEntries(t, l)

			res, err := l.Query(t.Context(), Filter{Limit: 2})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if res.Total != 5 || res.Limit != 2 || res.Offset != 0 {
				t.Errorf("total/limit/offset = %d/%d/%d, want 5/2/0", res.Total, res.Limit, res.Offset)
			}

			res, _ = l.Query(t.Context(), Filter{Limit: 1000, Offset: -3}) //nolint:errcheck // checked via fields
			if res.Limit != MaxLimit || res.Offset != 0 {
				t.Errorf("clamped limit/offset = %d/%d, want %d/0", res.Limit, res.Offset, MaxLimit)
			}

			res, _ = l.Query(t.Context(), Filter{Offset: 10}) //nolint:errcheck // checked via fields
			if len(res.Entries) != 0 || res.Total != 5 || res.Limit != DefaultLimit {
				t.Errorf("past-end page = %d entries, total %d, limit %d", len(res.Entries), res.Total, res.Limit)
			}
		})
	}
}

func TestLog_RequestIDRoundTrip(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLog(LogConfig{Repository: repo, Now: steppingClock()})
			seedEntries(t, l)

			res, _ := l.Query(t.Context(), Filter{Action: ActionSessionRevoked}) //nolint:errcheck // checked via fields
			if len(res.Entries) != 1 || res.Entries[0].RequestID != "req-1" {
				t.Errorf("entries = %+v, want request_id req-1", res.Entries)
			}
		})
	}
}

type failingRepo struct{ MemoryRepository }

func (f *failingRepo) Append(context.Context, *Entry) error { return errors.New("disk full") }

func TestLog_RepositoryFailure(t *testing.T) {
	l := NewLog(LogConfig{Repository: &failingRepo{}})
	if err := l.Record(t.Context(), Entry{Action: ActionLoginSuccess}); err == nil {
		t.Error("Record() should return the repository error")
	}
}

func TestLog_DispatchesToSinks(t *testing.T) {
	got := make(chan Entry, 4)
	failing := SinkFunc(func(context.Context, Entry) error { return errors.New("sink down") })
	collecting := SinkFunc(func(_ context.Context, e Entry) error {
		got <- e
		return nil
	})

	l := NewLog(LogConfig{Now: steppingClock(), Sinks: []Sink{failing}})
	l.AddSink(collecting)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	if err := l.Record(t.Context(), Entry{Actor: "alice", Action: ActionLoginSuccess, Outcome: OutcomeSuccess}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	select {
	case e := <-got:
		if e.Actor != "alice" || e.ID == "" {
			t.Errorf("sink got %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not receive entry")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLog_RunDrainsOnCancel(t *testing.T) {
	var mu sync.Mutex
	var count int
	l := NewLog(LogConfig{Sinks: []Sink{SinkFunc(func(context.Context, Entry) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})}})

	for range 3 {
		_ = l.Record(t.Context(), Entry{Action: ActionSessionCreated}) //nolint:errcheck // memory repo
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("sink received %d entries, want 3", count)
	}
}
