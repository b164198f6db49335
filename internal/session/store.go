package session

import "sync"

// Store is the in-memory registry of live sessions, indexed by session
// ID, entity ID, and project ID. Entity lookups are unique with
// last-write-wins; project lookups return all matching sessions.
//
// Records cross the store boundary by value: Add and Update copy their
// input, and every getter returns a copy. Mutating a returned record
// has no effect until it is written back through Update.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*Session
	byEntity  map[string]string
	byProject map[string]map[string]struct{}
}

func cloneSession(sess *Session) *Session {
	clone := *sess
	return &clone
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		byID:      make(map[string]*Session),
		byEntity:  make(map[string]string),
		byProject: make(map[string]map[string]struct{}),
	}
}

// Add registers a session, replacing any existing record with the same
// ID and rebinding the entity index to the new session.
func (s *Store) Add(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.byID[sess.ID]; exists {
		s.unindexLocked(old)
	}
	s.byID[sess.ID] = cloneSession(sess)
	if sess.EntityID != "" {
		s.byEntity[sess.EntityID] = sess.ID
	}
	if sess.ProjectID != "" {
		ids, ok := s.byProject[sess.ProjectID]
		if !ok {
			ids = make(map[string]struct{})
			s.byProject[sess.ProjectID] = ids
		}
		ids[sess.ID] = struct{}{}
	}
}

// Update replaces the stored record for an existing session. Sessions
// not in the store are ignored.
func (s *Store) Update(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[sess.ID]; !exists {
		return
	}
	s.byID[sess.ID] = cloneSession(sess)
}

// Remove deletes a session by ID and clears its index entries. Returns
// true when a record was removed.
func (s *Store) Remove(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.byID[sessionID]
	if !exists {
		return false
	}
	delete(s.byID, sessionID)
	s.unindexLocked(sess)
	return true
}

func (s *Store) unindexLocked(sess *Session) {
	if sess.EntityID != "" && s.byEntity[sess.EntityID] == sess.ID {
		delete(s.byEntity, sess.EntityID)
	}
	if sess.ProjectID != "" {
		if ids, ok := s.byProject[sess.ProjectID]; ok {
			delete(ids, sess.ID)
			if len(ids) == 0 {
				delete(s.byProject, sess.ProjectID)
			}
		}
	}
}

// GetByID returns a copy of the session with the given ID.
func (s *Store) GetByID(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[sessionID]
	if !ok {
		return nil, false
	}
	return cloneSession(sess), true
}

// GetByEntityID returns a copy of the session most recently bound to
// the entity.
func (s *Store) GetByEntityID(entityID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEntity[entityID]
	if !ok {
		return nil, false
	}
	sess, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return cloneSession(sess), true
}

// GetByProjectID returns all sessions bound to the project.
func (s *Store) GetByProjectID(projectID string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.byProject[projectID]
	if !ok {
		return nil
	}
	sessions := make([]*Session, 0, len(ids))
	for id := range ids {
		if sess, exists := s.byID[id]; exists {
			sessions = append(sessions, cloneSession(sess))
		}
	}
	return sessions
}

// GetAll returns a snapshot of every live session, copied.
func (s *Store) GetAll() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*Session, 0, len(s.byID))
	for _, sess := range s.byID {
		sessions = append(sessions, cloneSession(sess))
	}
	return sessions
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
