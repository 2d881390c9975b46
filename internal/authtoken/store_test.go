package authtoken

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoadOrGenerateCreatesAndReuses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "token")
	first, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(first) != tokenBytes*2 {
		t.Fatalf("token length = %d", len(first))
	}
	second, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first != second {
		t.Fatalf("token not stable across loads")
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("token file mode = %o, want 0600", info.Mode().Perm())
		}
	}
}

func TestRotateReplacesToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	first, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	rotated, err := Rotate(path)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated == first {
		t.Fatalf("rotate must produce a fresh token")
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != rotated {
		t.Fatalf("rotated token not persisted")
	}
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty token file")
	}
}
