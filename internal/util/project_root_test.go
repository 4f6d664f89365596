package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindUpward(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(root, "a", "flightplan.yaml")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok := FindUpward(nested, "flightplan.yaml")
	if !ok || got != target {
		t.Fatalf("expected %s, got %s (found=%v)", target, got, ok)
	}

	if _, ok := FindUpward(nested, "does-not-exist.yaml"); ok {
		t.Errorf("expected no match")
	}
}
