package squashfs_test

import (
	"testing"

	"github.com/go-sqfs/squashfs"
)

func TestExportTableFindInode(t *testing.T) {
	root := squashfs.NewDirNode(".", 0755)
	data := []byte("exported content")
	if err := root.AddChild(squashfs.NewFileNode("f.txt", 0644, uint64(len(data)), nopReadCloser(data))); err != nil {
		t.Fatalf("add f.txt: %s", err)
	}

	sb := buildImage(t, root, squashfs.WithExportTable())

	rootIno, err := sb.Root()
	if err != nil {
		t.Fatalf("Root: %s", err)
	}
	if !rootIno.IsDir() {
		t.Fatalf("root is not a directory")
	}

	f, err := sb.FindInode(rootIno.Ino)
	if err != nil {
		t.Fatalf("FindInode(root): %s", err)
	}
	if f.Ino != rootIno.Ino {
		t.Fatalf("FindInode returned ino %d, want %d", f.Ino, rootIno.Ino)
	}
}

func TestFindInodeWithoutExportTable(t *testing.T) {
	root := squashfs.NewDirNode(".", 0755)
	sb := buildImage(t, root)

	if _, err := sb.FindInode(1); err == nil {
		t.Fatalf("expected error resolving inode without an export table")
	}
}
