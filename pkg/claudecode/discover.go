package claudecode

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/nick-boey/homespun/internal/common/errors"
)

// FindCLI locates the claude executable.
//
// Search order: an explicit caller-supplied path, then PATH (with the
// platform-appropriate variants on Windows), then the user's
// ~/.local/bin directory.
func FindCLI(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err == nil {
			return explicitPath, nil
		}
		return "", errors.CliNotFound("claude CLI not found at " + explicitPath)
	}

	for _, name := range cliCandidates() {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		localBin := filepath.Join(home, ".local", "bin")
		for _, name := range cliCandidates() {
			candidate := filepath.Join(localBin, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", errors.CliNotFound("claude CLI not found on PATH or in ~/.local/bin")
}

func cliCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{"claude.cmd", "claude.exe", "claude"}
	}
	return []string{"claude"}
}
