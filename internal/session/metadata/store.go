// Package metadata persists session descriptors across process
// restarts in a single JSON file.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/logger"
	"github.com/nick-boey/homespun/internal/session"
)

// SessionMetadata is the durable subset of a session record. Status and
// conversation ID are deliberately not persisted.
type SessionMetadata struct {
	SessionID        string       `json:"session_id"`
	EntityID         string       `json:"entity_id"`
	ProjectID        string       `json:"project_id"`
	WorkingDirectory string       `json:"working_directory"`
	Mode             session.Mode `json:"mode"`
	Model            string       `json:"model"`
	SystemPrompt     string       `json:"system_prompt,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Store is a file-backed metadata store. The file holds a JSON array of
// records and is rewritten atomically on every mutation. All operations
// are serialized under a per-instance mutex.
type Store struct {
	path   string
	logger *logger.Logger

	mu      sync.Mutex
	records map[string]SessionMetadata
}

// NewStore opens the store at path, loading existing records eagerly. A
// missing or corrupt file logs a warning and starts empty; it never
// fails construction.
func NewStore(path string, log *logger.Logger) *Store {
	s := &Store{
		path:    path,
		logger:  log.WithFields(zap.String("component", "metadata-store"), zap.String("path", path)),
		records: make(map[string]SessionMetadata),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read metadata file, starting empty", zap.Error(err))
		}
		return
	}

	var records []SessionMetadata
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("metadata file is corrupt, starting empty", zap.Error(err))
		return
	}

	for _, md := range records {
		s.records[md.SessionID] = md
	}
	s.logger.Debug("loaded session metadata", zap.Int("count", len(records)))
}

// Save inserts or replaces the record keyed by its session ID and
// rewrites the file.
func (s *Store) Save(md SessionMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[md.SessionID] = md
	return s.flushLocked()
}

// Remove deletes the record for a session ID. Unknown IDs are a no-op.
func (s *Store) Remove(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[sessionID]; !exists {
		return nil
	}
	delete(s.records, sessionID)
	return s.flushLocked()
}

// GetBySessionID returns the record for a session ID.
func (s *Store) GetBySessionID(sessionID string) (SessionMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.records[sessionID]
	return md, ok
}

// GetByEntityID returns the most recently created record for an entity.
func (s *Store) GetByEntityID(entityID string) (SessionMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best SessionMetadata
	found := false
	for _, md := range s.records {
		if md.EntityID != entityID {
			continue
		}
		if !found || md.CreatedAt.After(best.CreatedAt) {
			best = md
			found = true
		}
	}
	return best, found
}

// GetAll returns a snapshot of every record.
func (s *Store) GetAll() []SessionMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]SessionMetadata, 0, len(s.records))
	for _, md := range s.records {
		records = append(records, md)
	}
	return records
}

// flushLocked serializes all records and atomically replaces the file
// via a temp file rename in the same directory.
func (s *Store) flushLocked() error {
	records := make([]SessionMetadata, 0, len(s.records))
	for _, md := range s.records {
		records = append(records, md)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".metadata-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp metadata file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace metadata file: %w", err)
	}
	return nil
}
