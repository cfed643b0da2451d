// Package logsink is the append-only, bounded record of dispatch
// attempts the admin API pages through.
//
// Grounded on the teacher's services/audit service shape (append +
// paginated list), simplified from a Postgres-backed audit trail to an
// in-process ring since the log sink is explicitly process-local and
// a supplementary diagnostic (spec.md §4.6 Non-goals).
package logsink

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llmpool/gateway/internal/pool"
)

// DefaultCapacity is the soft cap past which the oldest entries are
// evicted.
const DefaultCapacity = 10000

// Subscriber receives every entry as it is appended, for the admin
// API's live log-tail websocket.
type Subscriber interface {
	Broadcast(pool.LogEntry)
}

// Sink is a single-writer, bounded ring buffer of log entries.
type Sink struct {
	entries  chan pool.LogEntry
	capacity int

	mu   chan struct{} // binary semaphore guarding buf
	buf  []pool.LogEntry
	head int // index of the oldest entry in buf
	size int

	subMu sync.RWMutex
	subs  []Subscriber
}

// New creates a Sink with the given capacity, starting its single
// writer goroutine. Call Close to stop it.
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Sink{
		entries:  make(chan pool.LogEntry, 256),
		capacity: capacity,
		mu:       make(chan struct{}, 1),
		buf:      make([]pool.LogEntry, capacity),
	}
	s.mu <- struct{}{}
	go s.run()
	return s
}

// Subscribe registers sub to receive every entry appended from now on.
func (s *Sink) Subscribe(sub Subscriber) {
	s.subMu.Lock()
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()
}

func (s *Sink) run() {
	for e := range s.entries {
		<-s.mu
		idx := (s.head + s.size) % s.capacity
		s.buf[idx] = e
		if s.size < s.capacity {
			s.size++
		} else {
			s.head = (s.head + 1) % s.capacity
		}
		s.mu <- struct{}{}

		s.subMu.RLock()
		for _, sub := range s.subs {
			sub.Broadcast(e)
		}
		s.subMu.RUnlock()
	}
}

// Append enqueues a new log entry, assigning it an id and a UTC
// timestamp if unset. Never blocks on I/O: the write lands on the
// writer goroutine's channel and returns.
func (s *Sink) Append(e pool.LogEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}
	s.entries <- e
}

// Filter narrows a List query.
type Filter struct {
	Pool         *pool.Tag
	Success      *bool
	ProviderName *string
}

// List returns entries newest-first, honoring filter, offset and
// limit. total is the count of entries matching filter before paging.
func (s *Sink) List(filter Filter, offset, limit int) (results []pool.LogEntry, total int) {
	<-s.mu
	snapshot := make([]pool.LogEntry, s.size)
	for i := 0; i < s.size; i++ {
		snapshot[i] = s.buf[(s.head+i)%s.capacity]
	}
	s.mu <- struct{}{}

	var matched []pool.LogEntry
	for i := len(snapshot) - 1; i >= 0; i-- {
		e := snapshot[i]
		if filter.Pool != nil && e.Pool != *filter.Pool {
			continue
		}
		if filter.Success != nil && e.Success != *filter.Success {
			continue
		}
		if filter.ProviderName != nil && e.ProviderName != *filter.ProviderName {
			continue
		}
		matched = append(matched, e)
	}

	total = len(matched)
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total
}

// All returns every entry, newest-first, for bulk export (gzip log
// export in the admin API).
func (s *Sink) All() []pool.LogEntry {
	entries, _ := s.List(Filter{}, 0, 0)
	return entries
}

// Clear atomically removes every entry.
func (s *Sink) Clear() {
	<-s.mu
	s.head = 0
	s.size = 0
	s.mu <- struct{}{}
}

// Close stops the writer goroutine. No further Append calls may be
// made afterward.
func (s *Sink) Close() {
	close(s.entries)
}
