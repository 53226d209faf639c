package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Entry is one audit trail record. Details holds event-specific fields
// and is stored as JSONB.
type Entry struct {
	ID           uuid.UUID         `json:"id"`
	ActorID      string            `json:"actor_id"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Details      map[string]string `json:"details,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Actions recorded by the reconciliation pipeline.
const (
	ActionPaymentApplied    = "payment.applied"
	ActionPaymentFailed     = "payment.failed"
	ActionEventDuplicate    = "webhook.duplicate"
	ActionEventUnattributed = "webhook.unattributed"
	ActionEventIgnored      = "webhook.ignored"
	ActionEventConflict     = "webhook.conflict"
	ActionWriteFailure      = "webhook.write_failure"
)

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	Search(ctx context.Context, resourceType, resourceID string, limit int) ([]*Entry, error)
}

// PGStore writes entries to the audit_log table.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, e *Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("audit insert: marshal details: %w", err)
	}

	const query = `
		INSERT INTO audit_log (id, actor_id, action, resource_type, resource_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, query,
		e.ID, e.ActorID, e.Action, e.ResourceType, e.ResourceID, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, resourceType, resourceID string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	const query = `
		SELECT id, actor_id, action, resource_type, resource_id, details, created_at
		FROM audit_log
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, resourceType, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit search: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit search: scan: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("audit search: unmarshal details: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Logger buffers entries and writes them from a single background
// goroutine. Record never blocks the request path: when the buffer is
// full the entry is dropped and counted, never waited on.
type Logger struct {
	store  Store
	logger zerolog.Logger

	ch      chan *Entry
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int64
}

// NewLogger starts the writer goroutine. bufferSize bounds how many
// entries may be in flight before Record starts dropping.
func NewLogger(store Store, logger zerolog.Logger, bufferSize int) *Logger {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	l := &Logger{
		store:  store,
		logger: logger,
		ch:     make(chan *Entry, bufferSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.store.Insert(ctx, e); err != nil {
			l.logger.Error().Err(err).
				Str("action", e.Action).
				Str("resource_id", e.ResourceID).
				Msg("audit write failed")
		}
		cancel()
	}
}

// Record queues an entry for persistence. Zero-value ID and CreatedAt
// are filled in here so callers only set what they know.
func (l *Logger) Record(e *Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	// The send happens under the lock so Close cannot close the
	// channel out from under it.
	l.mu.Lock()
	if l.closed {
		l.dropped++
		n := l.dropped
		l.mu.Unlock()
		l.logger.Warn().
			Int64("dropped_total", n).
			Str("action", e.Action).
			Msg("audit logger closed, entry dropped")
		return
	}
	select {
	case l.ch <- e:
		l.mu.Unlock()
	default:
		l.dropped++
		n := l.dropped
		l.mu.Unlock()
		l.logger.Warn().
			Int64("dropped_total", n).
			Str("action", e.Action).
			Msg("audit buffer full, entry dropped")
	}
}

// Dropped returns how many entries were discarded because the buffer
// was full.
func (l *Logger) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close stops accepting entries and blocks until the buffer drains.
// Record after Close drops the entry instead of panicking.
func (l *Logger) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.ch)
		<-l.done
	})
}
