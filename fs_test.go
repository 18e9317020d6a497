package squashfs_test

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/go-sqfs/squashfs"
)

func buildGlobTree(t *testing.T) *squashfs.Superblock {
	t.Helper()
	root := squashfs.NewDirNode(".", 0755)
	lib := squashfs.NewDirNode("lib", 0755)
	if err := root.AddChild(lib); err != nil {
		t.Fatalf("add lib: %s", err)
	}
	for _, name := range []string{"a.so", "b.so", "readme.txt"} {
		if err := lib.AddChild(squashfs.NewFileNode(name, 0644, 0, nil)); err != nil {
			t.Fatalf("add %s: %s", name, err)
		}
	}
	return buildImage(t, root)
}

func TestGlob(t *testing.T) {
	sb := buildGlobTree(t)

	matches, err := sb.Glob("lib/*.so")
	if err != nil {
		t.Fatalf("Glob: %s", err)
	}
	want := []string{"lib/a.so", "lib/b.so"}
	if len(matches) != len(want) {
		t.Fatalf("matches: got %v want %v", matches, want)
	}
	for i := range want {
		if matches[i] != want[i] {
			t.Fatalf("matches: got %v want %v", matches, want)
		}
	}
}

func TestGlobNoMatch(t *testing.T) {
	sb := buildGlobTree(t)

	matches, err := sb.Glob("lib/*.missing")
	if err != nil {
		t.Fatalf("Glob: %s", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %v", matches)
	}
}

func TestStatNotExist(t *testing.T) {
	sb := buildGlobTree(t)

	_, err := sb.Stat("lib/does-not-exist")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestOpenInvalidPath(t *testing.T) {
	sb := buildGlobTree(t)

	_, err := sb.Open("../escape")
	if !errors.Is(err, fs.ErrInvalid) {
		t.Fatalf("expected fs.ErrInvalid, got %v", err)
	}
}

func TestReadFileOnDirectory(t *testing.T) {
	sb := buildGlobTree(t)

	if _, err := sb.ReadFile("lib"); err == nil {
		t.Fatalf("expected error reading a directory as a file")
	}
}
