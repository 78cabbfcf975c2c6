package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	link := filepath.Join(dir, "dangling")
	if err := os.Symlink(filepath.Join(dir, "missing"), link); err != nil {
		t.Fatal(err)
	}

	if !Exists(link) {
		t.Errorf("expected dangling symlink %s to exist", link)
	}
	if DirExists(link) {
		t.Errorf("expected dangling symlink %s not to be reported as a directory", link)
	}
	if Exists(filepath.Join(dir, "missing")) {
		t.Errorf("expected missing path not to exist")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "pkglist")
	if err := os.WriteFile(target, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteFileAtomic(target, []byte("new\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new\n" {
		t.Errorf("got %q, want %q", got, "new\n")
	}
	if Exists(target + ".new") {
		t.Errorf("temporary file %s was left behind", target+".new")
	}
}
