package session

import "sync"

// StartupStatus is the state of a tracked startup attempt.
type StartupStatus string

const (
	StartupStarting StartupStatus = "starting"
	StartupStarted  StartupStatus = "started"
	StartupFailed   StartupStatus = "failed"
)

// StartupListener observes startup state transitions.
type StartupListener func(entityID string, status StartupStatus, err error)

type startupEntry struct {
	status StartupStatus
	err    error
}

// StartupTracker is a single-flight guard on concurrent session startup
// per entity. Exactly one TryMarkAsStarting succeeds per entity until
// Clear is called; MarkAsStarted and MarkAsFailed record the outcome but
// deliberately do not re-admit a new startup, enforcing an explicit
// retry policy.
type StartupTracker struct {
	mu       sync.Mutex
	entries  map[string]*startupEntry
	listener StartupListener
}

// NewStartupTracker creates an empty tracker. The listener may be nil.
func NewStartupTracker(listener StartupListener) *StartupTracker {
	return &StartupTracker{
		entries:  make(map[string]*startupEntry),
		listener: listener,
	}
}

// TryMarkAsStarting atomically claims the startup slot for an entity.
// Returns true iff no prior entry existed. No event fires on collision.
func (t *StartupTracker) TryMarkAsStarting(entityID string) bool {
	t.mu.Lock()
	if _, exists := t.entries[entityID]; exists {
		t.mu.Unlock()
		return false
	}
	t.entries[entityID] = &startupEntry{status: StartupStarting}
	t.mu.Unlock()

	t.notify(entityID, StartupStarting, nil)
	return true
}

// MarkAsStarted records a successful startup. No-op for untracked
// entities.
func (t *StartupTracker) MarkAsStarted(entityID string) {
	t.transition(entityID, StartupStarted, nil)
}

// MarkAsFailed records a failed startup with its error. No-op for
// untracked entities.
func (t *StartupTracker) MarkAsFailed(entityID string, err error) {
	t.transition(entityID, StartupFailed, err)
}

func (t *StartupTracker) transition(entityID string, status StartupStatus, err error) {
	t.mu.Lock()
	entry, exists := t.entries[entityID]
	if !exists {
		t.mu.Unlock()
		return
	}
	entry.status = status
	entry.err = err
	t.mu.Unlock()

	t.notify(entityID, status, err)
}

// IsStarting reports whether a startup is currently in flight for the
// entity.
func (t *StartupTracker) IsStarting(entityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, exists := t.entries[entityID]
	return exists && entry.status == StartupStarting
}

// Status returns the tracked status and error for an entity.
func (t *StartupTracker) Status(entityID string) (StartupStatus, error, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, exists := t.entries[entityID]
	if !exists {
		return "", nil, false
	}
	return entry.status, entry.err, true
}

// Clear removes the entry so a subsequent TryMarkAsStarting succeeds.
func (t *StartupTracker) Clear(entityID string) {
	t.mu.Lock()
	delete(t.entries, entityID)
	t.mu.Unlock()
}

func (t *StartupTracker) notify(entityID string, status StartupStatus, err error) {
	if t.listener != nil {
		t.listener(entityID, status, err)
	}
}
