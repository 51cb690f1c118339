// Package session implements an in-process concurrent map of opaque
// session ids to conversation state, with idle eviction.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiammomo/ShuaiTravelAgent/memory"
	"github.com/tiammomo/ShuaiTravelAgent/orchestrator"
)

// DefaultIdleTimeout is how long a session may sit untouched before the
// reaper evicts it.
const DefaultIdleTimeout = 86400 * time.Second

// ErrNotFound is returned by any Store operation naming an id that is
// absent or has been reaped.
var ErrNotFound = errors.New("session: not found")

// Session is one conversation's server-side state. Memory is owned
// exclusively by the Session; callers must not share a *memory.Memory
// across two Sessions. Orchestrator is likewise owned exclusively by
// the Session: it is built lazily against the session's current model
// and rebuilt only when the model changes (see OrchestratorModelID and
// SetModel's comment). runMu serializes every request driving this
// Orchestrator, so at most one ProcessMessage/StreamMessage call is
// ever running it at a time; a second concurrent request on the same
// session id blocks on Lock rather than racing Memory or the
// Orchestrator's internal state.
type Session struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ModelID      string
	Memory       *memory.Memory

	runMu               sync.Mutex
	Orchestrator        *orchestrator.Orchestrator
	OrchestratorModelID string
}

// Lock acquires the session's run lock. A caller must hold it for the
// full duration of a ProcessMessage/StreamMessage turn, from resolving
// the Orchestrator through the orchestrator.Run call and the Memory
// mutations that follow it.
func (s *Session) Lock() { s.runMu.Lock() }

// Unlock releases the session's run lock.
func (s *Session) Unlock() { s.runMu.Unlock() }

// Summary is the list-view projection of a Session, matching the
// gateway's `/api/sessions` response shape.
type Summary struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	MessageCount int       `json:"message_count"`
	LastActive   time.Time `json:"last_active"`
	CreatedAt    time.Time `json:"created_at"`
	ModelID      string    `json:"model_id"`
}

// Store is a concurrent map of session id to Session, with per-entry
// locking for mutation. Reads take the map's read lock and the entry
// lock, and Get returns the live *Session rather than a snapshot.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	idleTimeout time.Duration
	defaultModel string
}

type entry struct {
	mu sync.Mutex
	s  *Session
}

// NewStore creates an empty Store. idleTimeout <= 0 uses
// DefaultIdleTimeout. defaultModel seeds ModelID for sessions created
// without an explicit model.
func NewStore(idleTimeout time.Duration, defaultModel string) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Store{
		sessions:     make(map[string]*entry),
		idleTimeout:  idleTimeout,
		defaultModel: defaultModel,
	}
}

// Create assigns a new opaque session id and registers a fresh Session
// against it; name may be empty.
func (st *Store) Create(name string) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		Name:         name,
		CreatedAt:    now,
		LastActiveAt: now,
		ModelID:      st.defaultModel,
		Memory:       memory.New(0, 0),
	}

	st.mu.Lock()
	st.sessions[s.ID] = &entry{s: s}
	st.mu.Unlock()
	return s
}

// Get returns the live Session for id, reaping it first if it has gone
// idle past the configured timeout.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	e, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.s.LastActiveAt) > st.idleTimeout {
		st.mu.Lock()
		delete(st.sessions, id)
		st.mu.Unlock()
		return nil, false
	}
	return e.s, true
}

// List returns a summary for every live session, reaping idle entries
// along the way, sorted by CreatedAt (earliest first). When
// includeEmpty is false, sessions with no working-memory history are
// omitted.
func (st *Store) List(includeEmpty bool) []Summary {
	st.reapLocked()

	st.mu.RLock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		s := e.s
		messageCount := len(s.Memory.History())
		if !includeEmpty && messageCount == 0 {
			e.mu.Unlock()
			continue
		}
		out = append(out, Summary{
			SessionID:    s.ID,
			Name:         s.Name,
			MessageCount: messageCount,
			LastActive:   s.LastActiveAt,
			CreatedAt:    s.CreatedAt,
			ModelID:      s.ModelID,
		})
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes a session unconditionally.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// SetName renames a session.
func (st *Store) SetName(id, name string) error {
	if !st.withLock(id, func(s *Session) { s.Name = name }) {
		return ErrNotFound
	}
	return nil
}

// SetModel switches a session's selected model id. Reconstructing the
// owning Orchestrator against the new model is the caller's
// responsibility (agentsvc); the Store only records the selection.
func (st *Store) SetModel(id, modelID string) error {
	if !st.withLock(id, func(s *Session) { s.ModelID = modelID }) {
		return ErrNotFound
	}
	return nil
}

// GetModel returns a session's selected model id.
func (st *Store) GetModel(id string) (string, error) {
	s, ok := st.Get(id)
	if !ok {
		return "", ErrNotFound
	}
	return s.ModelID, nil
}

// ClearMessages empties a session's working memory without deleting
// the session itself.
func (st *Store) ClearMessages(id string) error {
	if !st.withLock(id, func(s *Session) { s.Memory.Clear() }) {
		return ErrNotFound
	}
	return nil
}

// Touch refreshes a session's last-active timestamp, keeping it alive
// against the idle reaper.
func (st *Store) Touch(id string) error {
	if !st.withLock(id, func(s *Session) { s.LastActiveAt = time.Now() }) {
		return ErrNotFound
	}
	return nil
}

// withLock runs fn against the live session named id under its
// per-entry lock, reporting whether the session existed.
func (st *Store) withLock(id string, fn func(s *Session)) bool {
	st.mu.RLock()
	e, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.s)
	return true
}

// reapLocked evicts every session whose last-active timestamp is older
// than the idle timeout.
func (st *Store) reapLocked() {
	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, e := range st.sessions {
		e.mu.Lock()
		idle := now.Sub(e.s.LastActiveAt) > st.idleTimeout
		e.mu.Unlock()
		if idle {
			delete(st.sessions, id)
		}
	}
}
