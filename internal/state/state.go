// Package state tracks the per-endpoint health that the registry's
// static configuration does not: rolling latency, cooldown windows and
// soft rate gating. It is consulted by the selector on every dispatch
// and updated by the dispatcher after every attempt.
//
// Grounded on the teacher's services/ratelimit/service.go sliding-window
// approach, simplified from a Postgres-backed window to an in-process
// arena since endpoint health is process-local (spec.md §4.2 Non-goals:
// no cross-process coordination).
package state

import (
	"sync"
	"time"
)

// latencySmoothingAlpha is the exponential-smoothing factor applied to
// each new latency sample against the endpoint's running mean.
const latencySmoothingAlpha = 0.2

// shortCooldown is applied for non-retriable 4xx responses (bad
// request, invalid auth, etc.) where retrying immediately cannot help
// but a long cooldown would needlessly starve the endpoint.
const shortCooldown = 5 * time.Second

type entry struct {
	mu sync.Mutex

	meanLatencyMs float64
	haveLatency   bool

	totalCount   int64
	successCount int64
	errorCount   int64

	lastUsed      time.Time
	cooldownUntil time.Time
	lastError     string
}

// Store is the endpoint-health arena, keyed by endpoint ID.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[int64]*entry)}
}

func (s *Store) get(id int64) *entry {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	s.mu.Unlock()
	return e
}

// Snapshot is the read-only health view the selector and admin API
// consume.
type Snapshot struct {
	MeanLatencyMs float64
	TotalCount    int64
	SuccessCount  int64
	ErrorCount    int64
	LastUsed      *time.Time
	CooldownUntil *time.Time
	LastError     string
}

// Get returns the current health snapshot for an endpoint.
func (s *Store) Get(id int64) Snapshot {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotLocked(e)
}

func snapshotLocked(e *entry) Snapshot {
	snap := Snapshot{
		MeanLatencyMs: e.meanLatencyMs,
		TotalCount:    e.totalCount,
		SuccessCount:  e.successCount,
		ErrorCount:    e.errorCount,
		LastError:     e.lastError,
	}
	if !e.lastUsed.IsZero() {
		t := e.lastUsed
		snap.LastUsed = &t
	}
	if !e.cooldownUntil.IsZero() {
		t := e.cooldownUntil
		snap.CooldownUntil = &t
	}
	return snap
}

// IsAvailable reports whether an endpoint may currently be selected: it
// is not in cooldown and the soft minimum interval since its last use
// has elapsed.
func (s *Store) IsAvailable(id int64, minIntervalSeconds int, now time.Time) bool {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cooldownUntil.IsZero() && now.Before(e.cooldownUntil) {
		return false
	}
	if minIntervalSeconds > 0 && !e.lastUsed.IsZero() {
		if now.Before(e.lastUsed.Add(time.Duration(minIntervalSeconds) * time.Second)) {
			return false
		}
	}
	return true
}

// IsCoolingDown reports whether an endpoint is presently in cooldown,
// ignoring the soft min-interval gate. The selector does not call it:
// its degraded fallback pass skips the health store and filters only on
// the enabled flags of endpoints and providers.
func (s *Store) IsCoolingDown(id int64, now time.Time) bool {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.cooldownUntil.IsZero() && now.Before(e.cooldownUntil)
}

// MarkSuccess records a successful attempt and its latency.
func (s *Store) MarkSuccess(id int64, latencyMs int, now time.Time) {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalCount++
	e.successCount++
	e.lastUsed = now
	e.cooldownUntil = time.Time{}
	e.lastError = ""
	applyLatencyLocked(e, latencyMs)
}

// MarkFailure records a failed attempt, putting the endpoint into
// cooldown. httpStatus is nil for transport-level failures (timeout,
// connection reset). A non-retriable 4xx (400-499 except 408/425/429)
// gets a short cooldown instead of the pool's configured cooldown,
// since waiting longer cannot change the outcome.
func (s *Store) MarkFailure(id int64, latencyMs int, httpStatus *int, errMsg string, poolCooldown time.Duration, now time.Time) {
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalCount++
	e.errorCount++
	e.lastUsed = now
	e.lastError = errMsg
	if latencyMs > 0 {
		applyLatencyLocked(e, latencyMs)
	}

	cooldown := poolCooldown
	if httpStatus != nil && isNonRetriable4xx(*httpStatus) {
		cooldown = shortCooldown
	}
	e.cooldownUntil = now.Add(cooldown)
}

func isNonRetriable4xx(status int) bool {
	if status < 400 || status > 499 {
		return false
	}
	return status != 408 && status != 425 && status != 429
}

func applyLatencyLocked(e *entry, latencyMs int) {
	if !e.haveLatency {
		e.meanLatencyMs = float64(latencyMs)
		e.haveLatency = true
		return
	}
	e.meanLatencyMs = latencySmoothingAlpha*float64(latencyMs) + (1-latencySmoothingAlpha)*e.meanLatencyMs
}

// Reset clears all health state for an endpoint, which then reads as
// never used. Updating an endpoint through the admin API does not call it.
func (s *Store) Reset(id int64) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Forget removes health state for an endpoint that no longer exists in
// the registry, called by the dispatcher/admin layer after a delete so
// the arena does not grow unboundedly across create/delete churn.
func (s *Store) Forget(id int64) {
	s.Reset(id)
}
