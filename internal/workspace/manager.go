package workspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/envutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/tasks"
)

// Manager owns one actor per active workspace, spawning on first touch and
// retiring after idle. It is also the executor's callback sink: deliveries
// are routed into the owning actor's mailbox so they serialize with user
// actions.
type Manager struct {
	log  *logger.Logger
	deps Services

	mailboxSize int
	idleAfter   time.Duration

	mu     sync.RWMutex
	actors map[uuid.UUID]*actorHandle
}

type actorHandle struct {
	actor   *Actor
	stopped bool
}

func NewManager(baseLog *logger.Logger, deps Services) *Manager {
	return &Manager{
		log:         baseLog.With("component", "WorkspaceManager"),
		deps:        deps,
		mailboxSize: envutil.Int("WORKSPACE_MAILBOX_SIZE", 256),
		idleAfter:   envutil.DurationSeconds("WORKSPACE_ACTOR_IDLE_SECONDS", 10*time.Minute),
		actors:      map[uuid.UUID]*actorHandle{},
	}
}

var _ tasks.Callbacks = (*Manager)(nil)

// Dispatch routes one action through the workspace's actor and waits for the
// applied result.
func (m *Manager) Dispatch(ctx context.Context, workspaceID uuid.UUID, req *ActionRequest) (any, error) {
	return m.send(ctx, workspaceID, event{ctx: ctx, action: req})
}

func (m *Manager) OnStatus(ctx context.Context, workspaceID, taskID uuid.UUID, status string) error {
	_, err := m.send(ctx, workspaceID, event{ctx: ctx, callback: &callbackEvent{
		kind:   callbackStatus,
		taskID: taskID,
		status: status,
	}})
	return err
}

func (m *Manager) OnComplete(ctx context.Context, workspaceID, taskID uuid.UUID, imageRef, thumbRef string) error {
	_, err := m.send(ctx, workspaceID, event{ctx: ctx, callback: &callbackEvent{
		kind:     callbackComplete,
		taskID:   taskID,
		imageRef: imageRef,
		thumbRef: thumbRef,
	}})
	return err
}

func (m *Manager) OnFail(ctx context.Context, workspaceID, taskID uuid.UUID, errorMessage string) error {
	_, err := m.send(ctx, workspaceID, event{ctx: ctx, callback: &callbackEvent{
		kind:         callbackFail,
		taskID:       taskID,
		errorMessage: errorMessage,
	}})
	return err
}

func (m *Manager) send(ctx context.Context, workspaceID uuid.UUID, ev event) (any, error) {
	if workspaceID == uuid.Nil {
		return nil, fmt.Errorf("missing workspace id: %w", pkgerr.ErrValidation)
	}
	ev.reply = make(chan result, 1)

	// A handle can stop between lookup and submit; retry against a fresh
	// one. Two passes suffice because a newly spawned actor cannot be idle.
	for attempt := 0; attempt < 2; attempt++ {
		if m.trySubmit(workspaceID, ev) {
			select {
			case res := <-ev.reply:
				return res.payload, res.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("workspace %s: %w", workspaceID, pkgerr.ErrBusy)
}

func (m *Manager) trySubmit(workspaceID uuid.UUID, ev event) bool {
	m.mu.RLock()
	h := m.actors[workspaceID]
	if h != nil && !h.stopped {
		accepted, _ := h.actor.submit(ev)
		m.mu.RUnlock()
		return accepted
	}
	m.mu.RUnlock()

	m.mu.Lock()
	h = m.actors[workspaceID]
	if h == nil || h.stopped {
		a := newActor(workspaceID, m.log, m.deps, m.mailboxSize, m.idleAfter, m.retire)
		h = &actorHandle{actor: a}
		m.actors[workspaceID] = h
		go a.run()
		m.log.Debug("spawned workspace actor", "workspace_id", workspaceID)
	}
	accepted, _ := h.actor.submit(ev)
	m.mu.Unlock()
	return accepted
}

// retire is the actor's idle callback. The removal is refused when work
// raced into the mailbox while the actor was deciding to exit.
func (m *Manager) retire(a *Actor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.actors[a.workspaceID]
	if h == nil || h.actor != a {
		return true
	}
	if len(a.mailbox) > 0 {
		return false
	}
	h.stopped = true
	delete(m.actors, a.workspaceID)
	m.log.Debug("retired idle workspace actor", "workspace_id", a.workspaceID)
	return true
}

// ActiveActors reports how many workspaces currently have a live actor.
func (m *Manager) ActiveActors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actors)
}
