// Package session keeps short-lived conversational state in memory.
package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/finsight/internal/metrics"
	"github.com/nidhogg/finsight/internal/task"
)

const (
	DefaultTTL         = 30 * time.Minute
	DefaultMaxSessions = 1000
	DefaultMaxTurns    = 10
	// HistoryTurns is how many recent turns the planner is shown.
	HistoryTurns = 6
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is a snapshot of one conversation. Values returned by the Store are
// copies; mutating them has no effect on stored state.
type Session struct {
	ID          string                    `json:"id"`
	Turns       []task.Turn               `json:"turns"`
	LastEntity  task.Entity               `json:"last_entity"`
	LastResults map[string]map[string]any `json:"last_results,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	LastAccess  time.Time                 `json:"last_access"`
}

// Context returns the planner view of the session with at most n recent turns.
func (s Session) Context(n int) task.SessionContext {
	turns := s.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return task.SessionContext{
		SessionID:  s.ID,
		LastEntity: s.LastEntity,
		Turns:      append([]task.Turn(nil), turns...),
	}
}

func (s Session) clone() Session {
	out := s
	out.Turns = append([]task.Turn(nil), s.Turns...)
	if s.LastResults != nil {
		out.LastResults = make(map[string]map[string]any, len(s.LastResults))
		for k, v := range s.LastResults {
			inner := make(map[string]any, len(v))
			for ik, iv := range v {
				inner[ik] = iv
			}
			out.LastResults[k] = inner
		}
	}
	return out
}

// entry serializes access to one session. lastAccess mirrors
// sess.LastAccess so eviction can rank entries without taking every lock.
type entry struct {
	mu         sync.Mutex
	sess       Session
	removed    bool
	lastAccess atomic.Int64
}

func (e *entry) touch(now time.Time) {
	e.sess.LastAccess = now
	e.lastAccess.Store(now.UnixNano())
}

// Store holds sessions keyed by id. Lock order is always Store.mu before
// entry.mu; no path takes Store.mu while holding an entry lock.
type Store struct {
	ttl         time.Duration
	maxSessions int
	maxTurns    int
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// Option configures a Store.
type Option func(*Store)

func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithMaxSessions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

func WithMaxTurns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ttl:         DefaultTTL,
		maxSessions: DefaultMaxSessions,
		maxTurns:    DefaultMaxTurns,
		now:         time.Now,
		entries:     make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TTL returns the idle lifetime of a session.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) expired(last time.Time, now time.Time) bool {
	return now.Sub(last) > s.ttl
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// drop removes e if it is still the entry stored under id.
func (s *Store) drop(id string, e *entry) {
	s.mu.Lock()
	if s.entries[id] == e {
		delete(s.entries, id)
		metrics.SessionsEvicted.WithLabelValues("ttl").Inc()
	}
	metrics.SessionsActive.Set(float64(len(s.entries)))
	s.mu.Unlock()
}

// Get returns a copy of the session and refreshes its last access time.
// Unknown and expired ids are reported as not found.
func (s *Store) Get(id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}
	e := s.lookup(id)
	if e == nil {
		return Session{}, false
	}

	e.mu.Lock()
	now := s.now()
	if e.removed {
		e.mu.Unlock()
		return Session{}, false
	}
	if s.expired(e.sess.LastAccess, now) {
		e.removed = true
		e.mu.Unlock()
		s.drop(id, e)
		return Session{}, false
	}
	e.touch(now)
	out := e.sess.clone()
	e.mu.Unlock()
	return out, true
}

// AppendTurn records a turn, creating the session when it does not exist or
// has expired. An empty id gets a freshly generated one. The id used is
// returned.
func (s *Store) AppendTurn(id, role, text string) string {
	if id == "" {
		id = uuid.New().String()
	}
	for {
		e := s.getOrCreate(id)

		e.mu.Lock()
		if e.removed {
			// evicted between insert and lock; start over with a fresh entry
			e.mu.Unlock()
			continue
		}
		now := s.now()
		if s.expired(e.sess.LastAccess, now) {
			e.sess = Session{ID: id, CreatedAt: now}
		}
		e.sess.Turns = append(e.sess.Turns, task.Turn{Role: role, Text: text, At: now})
		if over := len(e.sess.Turns) - s.maxTurns; over > 0 {
			e.sess.Turns = append([]task.Turn(nil), e.sess.Turns[over:]...)
		}
		e.touch(now)
		e.mu.Unlock()
		return id
	}
}

func (s *Store) getOrCreate(id string) *entry {
	if e := s.lookup(id); e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e
	}
	now := s.now()
	e := &entry{sess: Session{ID: id, CreatedAt: now}}
	e.touch(now)
	s.entries[id] = e
	s.evictOverCap(id)
	metrics.SessionsActive.Set(float64(len(s.entries)))
	return e
}

// evictOverCap removes least recently accessed sessions until the population
// is back at the cap. keep is never evicted. Caller holds s.mu.
func (s *Store) evictOverCap(keep string) {
	over := len(s.entries) - s.maxSessions
	if over <= 0 {
		return
	}
	type ranked struct {
		id   string
		e    *entry
		last int64
	}
	all := make([]ranked, 0, len(s.entries))
	for id, e := range s.entries {
		if id == keep {
			continue
		}
		all = append(all, ranked{id: id, e: e, last: e.lastAccess.Load()})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].last < all[j].last })

	for i := 0; i < over && i < len(all); i++ {
		v := all[i]
		v.e.mu.Lock()
		v.e.removed = true
		v.e.mu.Unlock()
		delete(s.entries, v.id)
		metrics.SessionsEvicted.WithLabelValues("cap").Inc()
	}
}

// SetLastEntity merges the non-empty fields of ent into the session's entity
// slot. It reports false when the session does not exist.
func (s *Store) SetLastEntity(id string, ent task.Entity) bool {
	return s.update(id, func(sess *Session) {
		if ent.Category != "" {
			sess.LastEntity.Category = ent.Category
		}
		if ent.TimeRange != "" {
			sess.LastEntity.TimeRange = ent.TimeRange
		}
	})
}

// GetLastEntity returns the last referenced category and time range.
func (s *Store) GetLastEntity(id string) (task.Entity, bool) {
	sess, ok := s.Get(id)
	if !ok {
		return task.Entity{}, false
	}
	return sess.LastEntity, true
}

// SetLastResults stores the data of the most recent successful tasks.
func (s *Store) SetLastResults(id string, results map[string]map[string]any) bool {
	return s.update(id, func(sess *Session) {
		sess.LastResults = results
	})
}

func (s *Store) update(id string, fn func(*Session)) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	now := s.now()
	if e.removed || s.expired(e.sess.LastAccess, now) {
		e.mu.Unlock()
		return false
	}
	fn(&e.sess)
	e.touch(now)
	e.mu.Unlock()
	return true
}

// Delete forgets a session. It reports whether one was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	delete(s.entries, id)
	metrics.SessionsActive.Set(float64(len(s.entries)))
	return true
}

// Sweep removes every session idle for longer than the TTL and returns how
// many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.ttl).UnixNano()
	removed := 0
	for id, e := range s.entries {
		if e.lastAccess.Load() >= cutoff {
			continue
		}
		e.mu.Lock()
		if s.expired(e.sess.LastAccess, now) {
			e.removed = true
			delete(s.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	if removed > 0 {
		metrics.SessionsEvicted.WithLabelValues("ttl").Add(float64(removed))
	}
	metrics.SessionsActive.Set(float64(len(s.entries)))
	return removed
}

// Len returns the number of sessions held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
