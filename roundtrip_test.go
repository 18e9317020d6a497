package squashfs_test

import (
	"bytes"
	"io/fs"
	"testing"

	"github.com/go-sqfs/squashfs"
)

// buildSampleTree constructs a small tree with nested directories, two
// files with identical content (dedup), a small file expected to land in a
// fragment, a symlink, and a block device node, matching the scenarios named in
// spec.md §8. It has no char device, fifo or socket nodes.
func buildSampleTree(t *testing.T) *squashfs.Node {
	t.Helper()

	root := squashfs.NewDirNode(".", 0755)
	sub := squashfs.NewDirNode("sub", 0755)
	if err := root.AddChild(sub); err != nil {
		t.Fatalf("add sub: %s", err)
	}

	bigA := bytes.Repeat([]byte("A"), 300000)
	fileA := squashfs.NewFileNode("a.bin", 0644, uint64(len(bigA)), nopReadCloser(bigA))
	fileB := squashfs.NewFileNode("b.bin", 0644, uint64(len(bigA)), nopReadCloser(bigA))
	if err := root.AddChild(fileA); err != nil {
		t.Fatalf("add a.bin: %s", err)
	}
	if err := root.AddChild(fileB); err != nil {
		t.Fatalf("add b.bin: %s", err)
	}

	small := []byte("hello, squashfs")
	fileC := squashfs.NewFileNode("c.txt", 0644, uint64(len(small)), nopReadCloser(small))
	if err := sub.AddChild(fileC); err != nil {
		t.Fatalf("add c.txt: %s", err)
	}

	link := squashfs.NewSymlinkNode("link", "sub/c.txt")
	if err := root.AddChild(link); err != nil {
		t.Fatalf("add link: %s", err)
	}

	dev := squashfs.NewDeviceNode("dev0", 0600, false, 1, 2)
	if err := root.AddChild(dev); err != nil {
		t.Fatalf("add dev0: %s", err)
	}

	return root
}

func buildImage(t *testing.T, root *squashfs.Node, opts ...squashfs.WriterOption) *squashfs.Superblock {
	t.Helper()

	f := tempImage(t)
	w, err := squashfs.NewWriter(f, opts...)
	if err != nil {
		t.Fatalf("NewWriter: %s", err)
	}
	if err := w.Finalize(root); err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	sb, err := squashfs.New(f)
	if err != nil {
		t.Fatalf("New (read back): %s", err)
	}
	return sb
}

func TestRoundtripBasic(t *testing.T) {
	root := buildSampleTree(t)
	sb := buildImage(t, root)

	if sb.VMajor != 4 || sb.VMinor != 0 {
		t.Fatalf("unexpected version %d.%d", sb.VMajor, sb.VMinor)
	}

	data, err := fs.ReadFile(sb, "a.bin")
	if err != nil {
		t.Fatalf("read a.bin: %s", err)
	}
	if len(data) != 300000 || data[0] != 'A' || data[len(data)-1] != 'A' {
		t.Fatalf("a.bin content mismatch, len=%d", len(data))
	}

	nested, err := fs.ReadFile(sb, "sub/c.txt")
	if err != nil {
		t.Fatalf("read sub/c.txt: %s", err)
	}
	if string(nested) != "hello, squashfs" {
		t.Fatalf("sub/c.txt content mismatch: %q", nested)
	}
}

// TestRoundtripDedup verifies the §8 invariant that two files with
// byte-identical content share a startblock in the written image.
func TestRoundtripDedup(t *testing.T) {
	root := buildSampleTree(t)
	sb := buildImage(t, root)

	ai, err := sb.Open("a.bin")
	if err != nil {
		t.Fatalf("open a.bin: %s", err)
	}
	bi, err := sb.Open("b.bin")
	if err != nil {
		t.Fatalf("open b.bin: %s", err)
	}

	aIno, ok := ai.(interface{ Sys() any }).Sys().(*squashfs.Inode)
	if !ok {
		t.Fatalf("a.bin Sys() is not *Inode")
	}
	bIno, ok := bi.(interface{ Sys() any }).Sys().(*squashfs.Inode)
	if !ok {
		t.Fatalf("b.bin Sys() is not *Inode")
	}

	if aIno.StartBlock != bIno.StartBlock {
		t.Errorf("expected deduplicated files to share StartBlock, got %d vs %d", aIno.StartBlock, bIno.StartBlock)
	}
}

func TestRoundtripSymlink(t *testing.T) {
	root := buildSampleTree(t)
	sb := buildImage(t, root)

	info, err := fs.Stat(sb, "link")
	if err != nil {
		t.Fatalf("stat link: %s", err)
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		t.Fatalf("expected link to be a symlink, mode=%s", info.Mode())
	}

	// LookupRelativeInodePath should follow the symlink and resolve the
	// target's content, even though Open/ReadFile target the symlink's
	// destination through fs.FS's own path resolution.
	data, err := fs.ReadFile(sb, "sub/c.txt")
	if err != nil {
		t.Fatalf("read sub/c.txt via sub path: %s", err)
	}
	if string(data) != "hello, squashfs" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestRoundtripWalkOrder(t *testing.T) {
	root := squashfs.NewDirNode(".", 0755)
	for _, name := range []string{"zeta", "alpha", "mu"} {
		if err := root.AddChild(squashfs.NewFileNode(name, 0644, 0, nil)); err != nil {
			t.Fatalf("add %s: %s", name, err)
		}
	}
	sb := buildImage(t, root)

	entries, err := sb.ReadDir(".")
	if err != nil {
		t.Fatalf("ReadDir: %s", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"alpha", "mu", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("entry count: got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("entry order: got %v want %v", names, want)
		}
	}
}

func TestRoundtripEmptyRoot(t *testing.T) {
	root := squashfs.NewDirNode(".", 0755)
	sb := buildImage(t, root)

	entries, err := sb.ReadDir(".")
	if err != nil {
		t.Fatalf("ReadDir on empty root: %s", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestRoundtripSparseFile(t *testing.T) {
	root := squashfs.NewDirNode(".", 0755)
	zero := make([]byte, 131072*2) // two default-size blocks, all zero
	if err := root.AddChild(squashfs.NewFileNode("zero.bin", 0644, uint64(len(zero)), nopReadCloser(zero))); err != nil {
		t.Fatalf("add zero.bin: %s", err)
	}
	sb := buildImage(t, root)

	data, err := fs.ReadFile(sb, "zero.bin")
	if err != nil {
		t.Fatalf("read zero.bin: %s", err)
	}
	if len(data) != len(zero) {
		t.Fatalf("size mismatch: got %d want %d", len(data), len(zero))
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zero", i)
		}
	}
}
