package squashfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"reflect"

	"github.com/sirupsen/logrus"
)

// SuperblockSize is the fixed on-disk size of the superblock header, byte
// exact with standard SquashFS 4.0: 96 bytes.
const SuperblockSize = 96

// noTable is the sentinel value an absent optional table is recorded as.
const noTable uint64 = 0xFFFFFFFFFFFFFFFF

const squashfsMagic = 0x73717368

// Superblock is the fixed 96-byte header at offset 0 of a SquashFS image,
// grounded on the teacher's reflection-based super.go: field order is
// on-disk order, and (Un)MarshalBinary walk the struct's exported fields
// via reflection rather than hand-listing each one, matching the teacher's
// "name[0] is uppercase means on-disk" convention.
type Superblock struct {
	fs          io.ReaderAt
	closer      io.Closer
	order       binary.ByteOrder
	maxSymlinks int

	// dcache maps an inode number to the inodeRef it was last resolved
	// from, persistent across directory reader opens the way the
	// teacher's dir_reader keeps a single dcache for its whole lifetime.
	// It is what lets ".." resolve to the real parent without re-walking
	// from root: a directory can only be opened after it (and therefore
	// every ancestor on the path to it) has already been resolved via
	// GetInodeRef, so by the time a directory is opened its parent's
	// entry is present, unless dcacheSize other directories have been
	// added since the parent was last added and it has been evicted.
	dcache    [dcacheSize]dcacheEntry
	dcacheLen int

	Magic             uint32
	InodeCount        uint32
	ModTime           int32
	BlockSize         uint32
	FragCount         uint32
	Comp              SquashComp
	BlockLog          uint16
	Flags             SquashFlags
	IdCount           uint16
	VMajor            uint16
	VMinor            uint16
	RootInode         uint64
	BytesUsed         uint64
	IdTableStart      uint64
	XattrIdTableStart uint64
	InodeTableStart   uint64
	DirTableStart     uint64
	FragTableStart    uint64
	ExportTableStart  uint64
}

// New reads and parses the superblock at the start of fs.
func New(fs io.ReaderAt, opts ...Option) (*Superblock, error) {
	sb := &Superblock{fs: fs, maxSymlinks: defaultMaxSymlinks}
	head := make([]byte, SuperblockSize)

	logrus.WithField("bytes", len(head)).Debug("squashfs: reading superblock")
	if _, err := fs.ReadAt(head, 0); err != nil {
		return nil, wrapErr(KindIO, "read superblock", err)
	}
	if err := sb.UnmarshalBinary(head); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(sb); err != nil {
			return nil, err
		}
	}
	return sb, nil
}

// newWriteSuperblock builds a fresh Superblock for the writer to populate
// as it streams an image out; fs is filled in once a backing store is
// known, and every optional table starts out absent.
func newWriteSuperblock(comp SquashComp, blockSize uint32, modTime int32) *Superblock {
	blockLog := uint16(0)
	for 1<<blockLog < blockSize {
		blockLog++
	}
	return &Superblock{
		order:             binary.LittleEndian,
		maxSymlinks:       defaultMaxSymlinks,
		Magic:             squashfsMagic,
		ModTime:           modTime,
		BlockSize:         blockSize,
		Comp:              comp,
		BlockLog:          blockLog,
		VMajor:            4,
		VMinor:            0,
		IdTableStart:      noTable,
		XattrIdTableStart: noTable,
		FragTableStart:    noTable,
		ExportTableStart:  noTable,
	}
}

func (s *Superblock) UnmarshalBinary(data []byte) error {
	switch string(data[:4]) {
	case "hsqs":
		s.order = binary.LittleEndian
	case "sqsh":
		s.order = binary.BigEndian
	default:
		return wrapErr(KindCorrupt, "superblock magic", ErrInvalidFile)
	}

	r := bytes.NewReader(data)
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name
		if name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		if err := binary.Read(r, s.order, v.Field(i).Addr().Interface()); err != nil {
			return wrapErr(KindCorrupt, "read "+name, err)
		}
	}

	if s.VMajor != 4 {
		return wrapErr(KindUnsupported, "version", ErrInvalidVersion)
	}
	return nil
}

// MarshalBinary serializes the superblock in on-disk field order, used by
// the writer to both lay down the initial placeholder and rewrite it once
// final offsets are known (§4.8, step 9).
func (s *Superblock) MarshalBinary() ([]byte, error) {
	buf := &bytes.Buffer{}
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name
		if name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		if err := binary.Write(buf, s.order, v.Field(i).Interface()); err != nil {
			return nil, wrapErr(KindIO, "write "+name, err)
		}
	}
	return buf.Bytes(), nil
}

func (s *Superblock) binarySize() int {
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	sz := uintptr(0)
	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name
		if name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		sz += v.Field(i).Type().Size()
	}
	return int(sz)
}

// Clone returns an independent copy of the superblock suitable for handing
// to a second reader cursor (§5: a reader may be cloned to yield an
// independent cursor advanced from another goroutine). The backing fs and
// byte order are shared; all value fields are copied.
func (s *Superblock) Clone() *Superblock {
	c := *s
	return &c
}

// RootRef returns the root directory's inodeRef, packed the same way every
// other inode reference in the image is.
func (s *Superblock) RootRef() inodeRef {
	return inodeRef(s.RootInode)
}

// Root resolves and returns the root directory's inode.
func (s *Superblock) Root() (*Inode, error) {
	return s.GetInodeRef(s.RootRef())
}

func (s *Superblock) hasFragments() bool {
	return s.FragTableStart != noTable
}

func (s *Superblock) hasXattrs() bool {
	return s.XattrIdTableStart != noTable
}

func (s *Superblock) hasExportTable() bool {
	return s.Flags.Has(EXPORTABLE) && s.ExportTableStart != noTable
}

func (s *Superblock) dcacheFind(ino uint32) (inodeRef, bool) {
	for i := 0; i < s.dcacheLen; i++ {
		if s.dcache[i].ino == ino {
			return s.dcache[i].ref, true
		}
	}
	return 0, false
}

func (s *Superblock) dcacheAdd(ino uint32, ref inodeRef) {
	for i := 0; i < s.dcacheLen; i++ {
		if s.dcache[i].ino == ino {
			// move the refreshed entry to the newest slot
			copy(s.dcache[i:], s.dcache[i+1:s.dcacheLen])
			s.dcache[s.dcacheLen-1] = dcacheEntry{ino, ref}
			return
		}
	}
	if s.dcacheLen < dcacheSize {
		s.dcache[s.dcacheLen] = dcacheEntry{ino, ref}
		s.dcacheLen++
		return
	}
	// simple ring eviction: overwrite the oldest slot
	copy(s.dcache[:], s.dcache[1:])
	s.dcache[dcacheSize-1] = dcacheEntry{ino, ref}
}
