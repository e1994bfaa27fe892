package goodkey

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKnown(t *testing.T) {
	wk := &weakKeys{suffixes: make(map[[10]byte]struct{})}
	if err := wk.addSuffix("200352313bc059445190"); err != nil {
		t.Fatalf("weakKeys.addSuffix failed: %v", err)
	}
	if !wk.Known([]byte("asd")) {
		t.Error("weakKeys.Known failed to find suffix that has been added")
	}
	if wk.Known([]byte("ASD")) {
		t.Error("weakKeys.Known found a suffix that has not been added")
	}
}

func TestLoadKeys(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, "a"), []byte("# asd\n200352313bc059445190"), 0644); err != nil {
		t.Fatalf("Failed to create temporary file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "b"), []byte("# asd\ndc47cdf6b45d89e8b2a0"), 0644); err != nil {
		t.Fatalf("Failed to create temporary file: %v", err)
	}

	wk, err := loadSuffixes(tempDir)
	if err != nil {
		t.Fatalf("Failed to load suffixes from directory: %v", err)
	}

	if !wk.Known([]byte("asd")) {
		t.Error("weakKeys.Known failed to find suffix that has been added")
	}
	if !wk.Known([]byte("dsa")) {
		t.Error("weakKeys.Known failed to find suffix that has been added")
	}
}
