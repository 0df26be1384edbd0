package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultStaleAfter = 5 * time.Minute

// Entry is the ephemeral record of one connected user. Never persisted;
// rebuilt from live connections after a restart.
type Entry struct {
	ConnID        string    `json:"conn_id"`
	UserID        uuid.UUID `json:"user_id"`
	ViewingTarget string    `json:"viewing_target,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

type Tracker struct {
	mu         sync.RWMutex
	staleAfter time.Duration
	now        func() time.Time

	// workspace id -> conn id -> entry
	entries map[uuid.UUID]map[string]*Entry
}

func NewTracker() *Tracker {
	return &Tracker{
		staleAfter: defaultStaleAfter,
		now:        time.Now,
		entries:    make(map[uuid.UUID]map[string]*Entry),
	}
}

// NewTrackerWithClock exists for tests.
func NewTrackerWithClock(staleAfter time.Duration, now func() time.Time) *Tracker {
	t := NewTracker()
	if staleAfter > 0 {
		t.staleAfter = staleAfter
	}
	if now != nil {
		t.now = now
	}
	return t
}

// Touch registers or refreshes a connection's presence.
func (t *Tracker) Touch(workspaceID uuid.UUID, connID string, userID uuid.UUID, viewingTarget string) {
	if workspaceID == uuid.Nil || connID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ws, ok := t.entries[workspaceID]
	if !ok {
		ws = make(map[string]*Entry)
		t.entries[workspaceID] = ws
	}
	e, ok := ws[connID]
	if !ok {
		e = &Entry{ConnID: connID, UserID: userID}
		ws[connID] = e
	}
	if viewingTarget != "" {
		e.ViewingTarget = viewingTarget
	}
	e.LastSeen = t.now()
}

func (t *Tracker) Remove(workspaceID uuid.UUID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ws, ok := t.entries[workspaceID]; ok {
		delete(ws, connID)
		if len(ws) == 0 {
			delete(t.entries, workspaceID)
		}
	}
}

// List returns live entries for a workspace, evicting stale ones as a side
// effect.
func (t *Tracker) List(workspaceID uuid.UUID) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	ws, ok := t.entries[workspaceID]
	if !ok {
		return nil
	}
	cutoff := t.now().Add(-t.staleAfter)
	out := make([]Entry, 0, len(ws))
	for connID, e := range ws {
		if e.LastSeen.Before(cutoff) {
			delete(ws, connID)
			continue
		}
		out = append(out, *e)
	}
	if len(ws) == 0 {
		delete(t.entries, workspaceID)
	}
	return out
}

// Sweep evicts stale entries across all workspaces and reports how many were
// removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.staleAfter)
	removed := 0
	for wsID, ws := range t.entries {
		for connID, e := range ws {
			if e.LastSeen.Before(cutoff) {
				delete(ws, connID)
				removed++
			}
		}
		if len(ws) == 0 {
			delete(t.entries, wsID)
		}
	}
	return removed
}
