// Package worker runs sessions against a containerized assistant over
// HTTP and server-sent events instead of a local subprocess.
package worker

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// PathTranslator maps in-container paths to their host equivalents so
// the worker container can bind-mount the right directories.
type PathTranslator struct {
	dataVolumePath string
	hostDataPath   string
}

// NewPathTranslator creates a translator. hostDataPath may be empty,
// in which case translation is the identity.
func NewPathTranslator(dataVolumePath, hostDataPath string) *PathTranslator {
	return &PathTranslator{
		dataVolumePath: strings.TrimRight(dataVolumePath, "/"),
		hostDataPath:   strings.TrimRight(hostDataPath, "/"),
	}
}

// Translate rewrites a path under the data volume onto the host data
// path. Paths outside the volume pass through unchanged.
func (t *PathTranslator) Translate(path string) string {
	if t.hostDataPath == "" || t.dataVolumePath == "" {
		return path
	}
	if path == t.dataVolumePath {
		return t.hostDataPath
	}
	if strings.HasPrefix(path, t.dataVolumePath+"/") {
		return t.hostDataPath + path[len(t.dataVolumePath):]
	}
	return path
}

// UserIdentity returns "<uid>:<gid>" for the current process on Linux
// so the container can run as the invoking user. On other platforms it
// returns empty string and the container decides.
func UserIdentity() string {
	if runtime.GOOS != "linux" {
		return ""
	}
	return fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
}
