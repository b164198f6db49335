package claudecode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nick-boey/homespun/internal/common/errors"
)

func TestFindCLI_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	found, err := FindCLI(path)
	if err != nil {
		t.Fatalf("FindCLI() error = %v", err)
	}
	if found != path {
		t.Errorf("FindCLI() = %q, want %q", found, path)
	}
}

func TestFindCLI_ExplicitPathMissing(t *testing.T) {
	_, err := FindCLI(filepath.Join(t.TempDir(), "no-such-binary"))
	if err == nil {
		t.Fatal("FindCLI() error = nil, want CLI_NOT_FOUND")
	}
	if errors.CodeOf(err) != errors.CodeCliNotFound {
		t.Errorf("CodeOf(err) = %q, want %q", errors.CodeOf(err), errors.CodeCliNotFound)
	}
}
