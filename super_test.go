package squashfs_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-sqfs/squashfs"
)

// validSuperblockBytes returns the 96-byte header of a freshly built, empty
// image, as raw material for the corruption tests below.
func validSuperblockBytes(t *testing.T) []byte {
	t.Helper()
	f := tempImage(t)
	w, err := squashfs.NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %s", err)
	}
	if err := w.Finalize(squashfs.NewDirNode(".", 0755)); err != nil {
		t.Fatalf("Finalize: %s", err)
	}
	buf := make([]byte, squashfs.SuperblockSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("read superblock header: %s", err)
	}
	return buf
}

func TestNewInvalidMagic(t *testing.T) {
	data := make([]byte, squashfs.SuperblockSize)
	copy(data, "bad!")

	_, err := squashfs.New(&mockReader{data: data})
	if err == nil {
		t.Fatalf("expected an error for invalid magic")
	}
}

func TestNewTruncatedSuperblock(t *testing.T) {
	data := []byte("hsqs") // far short of SuperblockSize

	_, err := squashfs.New(&mockReader{data: data})
	if err == nil {
		t.Fatalf("expected an error reading a truncated superblock")
	}
}

func TestNewReadError(t *testing.T) {
	boom := errors.New("boom")
	r := &mockReader{data: make([]byte, squashfs.SuperblockSize), errAt: 0, errMsg: boom}

	_, err := squashfs.New(r)
	if err == nil {
		t.Fatalf("expected an error when the backing reader fails")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
}

func TestNewUnsupportedVersion(t *testing.T) {
	data := make([]byte, squashfs.SuperblockSize)
	copy(data, "hsqs")
	// VMajor/VMinor sit right after IdCount, ahead of RootInode and the
	// table offsets in the fixed header; easier and just as valid to build one from a real image and
	// then corrupt the version fields at their known offset.
	real := validSuperblockBytes(t)
	copy(data, real)
	binary.LittleEndian.PutUint16(data[offsetVMajor:], 9)

	_, err := squashfs.New(&mockReader{data: data})
	if err == nil {
		t.Fatalf("expected an error for an unsupported version")
	}
}

// offsetVMajor is VMajor's byte offset within the fixed superblock layout:
// Magic(4) InodeCount(4) ModTime(4) BlockSize(4) FragCount(4) Comp(2)
// BlockLog(2) Flags(2) IdCount(2) VMajor(2).
const offsetVMajor = 4 + 4 + 4 + 4 + 4 + 2 + 2 + 2 + 2

func TestNewValidRoundTrip(t *testing.T) {
	data := validSuperblockBytes(t)
	sb, err := squashfs.New(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	if sb.Magic == 0 {
		t.Fatalf("expected a populated magic value")
	}
}
