package squashfs_test

import (
	"errors"
	"testing"

	"github.com/go-sqfs/squashfs"
)

// TestSymlinkChainExceedsLimit builds a chain of symlinks longer than a
// deliberately tiny WithMaxSymlinks limit and expects resolution to fail
// with ErrTooManySymlinks rather than looping forever.
func TestSymlinkChainExceedsLimit(t *testing.T) {
	root := squashfs.NewDirNode(".", 0755)
	for i := 0; i < 5; i++ {
		from := symlinkName(i)
		to := symlinkName(i + 1)
		if err := root.AddChild(squashfs.NewSymlinkNode(from, to)); err != nil {
			t.Fatalf("add %s: %s", from, err)
		}
	}
	target := []byte("end of the chain")
	if err := root.AddChild(squashfs.NewFileNode(symlinkName(5), 0644, uint64(len(target)), nopReadCloser(target))); err != nil {
		t.Fatalf("add final target: %s", err)
	}

	f := tempImage(t)
	w, err := squashfs.NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %s", err)
	}
	if err := w.Finalize(root); err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	sb, err := squashfs.New(f, squashfs.WithMaxSymlinks(2))
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	_, err = sb.ReadFile(symlinkName(0))
	if !errors.Is(err, squashfs.ErrTooManySymlinks) {
		t.Fatalf("expected ErrTooManySymlinks, got %v", err)
	}
}

// TestSymlinkWithinLimitResolves confirms a chain at or under the limit
// still resolves to its final target.
func TestSymlinkWithinLimitResolves(t *testing.T) {
	root := squashfs.NewDirNode(".", 0755)
	if err := root.AddChild(squashfs.NewSymlinkNode("a", "b")); err != nil {
		t.Fatalf("add a: %s", err)
	}
	if err := root.AddChild(squashfs.NewSymlinkNode("b", "c")); err != nil {
		t.Fatalf("add b: %s", err)
	}
	target := []byte("resolved")
	if err := root.AddChild(squashfs.NewFileNode("c", 0644, uint64(len(target)), nopReadCloser(target))); err != nil {
		t.Fatalf("add c: %s", err)
	}

	sb := buildImage(t, root)
	got, err := sb.ReadFile("a")
	if err != nil {
		t.Fatalf("ReadFile(a): %s", err)
	}
	if string(got) != string(target) {
		t.Fatalf("content mismatch: got %q want %q", got, target)
	}
}

func symlinkName(i int) string {
	return string(rune('a' + i))
}
