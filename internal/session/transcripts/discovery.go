// Package transcripts locates prior conversation transcript files
// written by the Claude CLI under its per-project directory layout.
package transcripts

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/logger"
)

// SessionInfo describes one transcript file on disk.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	FilePath     string    `json:"file_path"`
	FileSize     int64     `json:"file_size"`
	LastModified time.Time `json:"last_modified"`
}

// Discovery finds transcript files under a root directory, by default
// $HOME/.claude.
type Discovery struct {
	root   string
	logger *logger.Logger
}

// NewDiscovery creates a discovery rooted at root. An empty root falls
// back to $HOME/.claude.
func NewDiscovery(root string, log *logger.Logger) *Discovery {
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, ".claude")
		}
	}
	return &Discovery{
		root:   root,
		logger: log.WithFields(zap.String("component", "transcript-discovery")),
	}
}

// EncodePath converts an absolute working directory into the CLI's
// project directory name: every path separator becomes a dash, all
// other characters pass through unchanged.
func EncodePath(workingDirectory string) string {
	replaced := strings.ReplaceAll(workingDirectory, "/", "-")
	return strings.ReplaceAll(replaced, "\\", "-")
}

func (d *Discovery) projectDir(workingDirectory string) string {
	return filepath.Join(d.root, EncodePath(workingDirectory))
}

// DiscoverSessions lists transcripts recorded for a working directory,
// most recently modified first; ties break on session ID ascending.
// A missing project directory yields an empty slice.
func (d *Discovery) DiscoverSessions(workingDirectory string) ([]SessionInfo, error) {
	dir := d.projectDir(workingDirectory)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []SessionInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			d.logger.Warn("failed to stat transcript", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		sessions = append(sessions, SessionInfo{
			SessionID:    strings.TrimSuffix(entry.Name(), ".jsonl"),
			FilePath:     filepath.Join(dir, entry.Name()),
			FileSize:     info.Size(),
			LastModified: info.ModTime(),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].LastModified.Equal(sessions[j].LastModified) {
			return sessions[i].LastModified.After(sessions[j].LastModified)
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
	return sessions, nil
}

// SessionExists reports whether a transcript file exists for the
// session in the working directory's project.
func (d *Discovery) SessionExists(sessionID, workingDirectory string) bool {
	info, err := os.Stat(filepath.Join(d.projectDir(workingDirectory), sessionID+".jsonl"))
	return err == nil && !info.IsDir()
}

// GetSessionFilePath returns the transcript path, or empty string when
// the file does not exist.
func (d *Discovery) GetSessionFilePath(sessionID, workingDirectory string) string {
	path := filepath.Join(d.projectDir(workingDirectory), sessionID+".jsonl")
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return ""
	}
	return path
}

// GetMessageCount counts the lines in a transcript. An empty file is 0
// lines; a file without a trailing newline still counts its last line.
// Returns (0, false) when the file does not exist.
func (d *Discovery) GetMessageCount(sessionID, workingDirectory string) (int, bool) {
	path := filepath.Join(d.projectDir(workingDirectory), sessionID+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	if len(data) == 0 {
		return 0, true
	}
	count := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		count++
	}
	return count, true
}
