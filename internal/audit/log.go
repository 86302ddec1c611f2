package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// queueSize is the buffer of the sink dispatch channel.
// Entries beyond this are dropped for sinks (never for the repository).
const queueSize = 256

// Sink receives entries after they are durably appended.
// Implementations should return quickly; Write runs on the dispatch goroutine.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e Entry) error

// Write calls f(ctx, e).
func (f SinkFunc) Write(ctx context.Context, e Entry) error {
	return f(ctx, e)
}

// LogConfig holds the collaborators of a Log.
type LogConfig struct {
	Repository Repository
	Logger     *slog.Logger
	Now        func() time.Time // defaults to time.Now in UTC
	Sinks      []Sink
}

// Log is the append-only security trail.
//
// Record writes synchronously to the repository and then queues the entry
// for the sinks, which are served by Run.
//
// Thread Safety: All methods are safe for concurrent use.
type Log struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	sinks []Sink

	queue chan Entry
}

// NewLog creates a Log. A nil repository defaults to a MemoryRepository.
func NewLog(cfg LogConfig) *Log {
	if cfg.Repository == nil {
		cfg.Repository = NewMemoryRepository()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Log{
		repo:   cfg.Repository,
		logger: cfg.Logger.With("component", "audit"),
		now:    cfg.Now,
		sinks:  append([]Sink(nil), cfg.Sinks...),
		queue:  make(chan Entry, queueSize),
	}
}

// AddSink registers a sink for subsequent entries.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// Record fills in ID, Timestamp, Actor and Source when unset, then appends
// the entry. Only a repository failure is returned.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Actor == "" {
		e.Actor = UnknownActor
	}
	if e.Source == "" {
		e.Source = SourceCore
	}

	if err := l.repo.Append(ctx, &e); err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}

	l.mu.RLock()
	hasSinks := len(l.sinks) > 0
	l.mu.RUnlock()
	if !hasSinks {
		return nil
	}

	select {
	case l.queue <- e:
	default:
		l.logger.Warn("audit sink queue full, dropping entry", "action", e.Action, "id", e.ID)
	}
	return nil
}

// Query returns entries matching the filter, newest first.
func (l *Log) Query(ctx context.Context, filter Filter) (*ListResult, error) {
	result, err := l.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	return result, nil
}

// Run delivers queued entries to the sinks until ctx is cancelled, then
// drains what is left.
func (l *Log) Run(ctx context.Context) {
	for {
		select {
		case e := <-l.queue:
			l.dispatch(ctx, e)
		case <-ctx.Done():
			for {
				select {
				case e := <-l.queue:
					l.dispatch(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) dispatch(ctx context.Context, e Entry) {
	l.mu.RLock()
	sinks := l.sinks
	l.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Write(ctx, e); err != nil {
			l.logger.Warn("audit sink write failed", "action", e.Action, "id", e.ID, "error", err)
		}
	}
}
