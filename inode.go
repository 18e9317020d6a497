package squashfs

import (
	"context"
	"io"
	"io/fs"
	"strings"

	"github.com/sirupsen/logrus"
)

// sentinel marking "this file has no fragment" / "no xattr" in the
// on-disk inode layout.
const noFragmentBlock uint32 = 0xffffffff

// Inode is the read-side view of an on-disk inode: a tagged union over
// dir/file/symlink/device/fifo/socket and their "extended" variants,
// grounded on the teacher's inode.go. The FUSE-only refcnt bookkeeping is
// dropped; ownership here is plain value semantics, matching §5's
// single-threaded-core, clone-for-concurrency design.
type Inode struct {
	sb *Superblock

	// selfRef is the inodeRef this inode was resolved from, i.e. its own
	// location in the inode table. Directory readers need this verbatim
	// for the synthetic "." entry; it cannot be reconstructed from
	// StartBlock/Offset, which for a directory address the *directory
	// table*, not the inode table.
	selfRef inodeRef

	Type    Type
	Perm    uint16
	UidIdx  uint16
	GidIdx  uint16
	ModTime int32
	Ino     uint32

	StartBlock uint64
	NLink      uint32
	Size       uint64
	Offset     uint32
	ParentIno  uint32
	SymTarget  []byte
	IdxCount   uint16
	XattrIdx   uint32
	Sparse     uint64

	FragBlock uint32
	FragOfft  uint32

	Blocks     []uint32
	BlocksOfft []uint64

	Major, Minor uint32
}

// GetInodeRef reads and parses the inode at the given reference.
func (sb *Superblock) GetInodeRef(inor inodeRef) (*Inode, error) {
	r, err := sb.newInodeReader(inor)
	if err != nil {
		return nil, err
	}

	ino := &Inode{sb: sb, selfRef: inor}

	typeRaw, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	ino.Type = Type(typeRaw)

	if ino.Perm, err = r.readUint16(); err != nil {
		return nil, err
	}
	if ino.UidIdx, err = r.readUint16(); err != nil {
		return nil, err
	}
	if ino.GidIdx, err = r.readUint16(); err != nil {
		return nil, err
	}
	if ino.ModTime, err = r.readInt32(); err != nil {
		return nil, err
	}
	if ino.Ino, err = r.readUint32(); err != nil {
		return nil, err
	}

	switch ino.Type {
	case DirType:
		u32, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		ino.StartBlock = uint64(u32)

		if ino.NLink, err = r.readUint32(); err != nil {
			return nil, err
		}

		u16, err := r.readUint16()
		if err != nil {
			return nil, err
		}
		ino.Size = uint64(u16)

		if u16, err = r.readUint16(); err != nil {
			return nil, err
		}
		ino.Offset = uint32(u16)

		if ino.ParentIno, err = r.readUint32(); err != nil {
			return nil, err
		}

	case XDirType:
		if ino.NLink, err = r.readUint32(); err != nil {
			return nil, err
		}
		u32, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		ino.Size = uint64(u32)

		if u32, err = r.readUint32(); err != nil {
			return nil, err
		}
		ino.StartBlock = uint64(u32)

		if ino.ParentIno, err = r.readUint32(); err != nil {
			return nil, err
		}
		if ino.IdxCount, err = r.readUint16(); err != nil {
			return nil, err
		}
		u16, err := r.readUint16()
		if err != nil {
			return nil, err
		}
		ino.Offset = uint32(u16)
		if ino.XattrIdx, err = r.readUint32(); err != nil {
			return nil, err
		}

	case FileType:
		u32, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		ino.StartBlock = uint64(u32)

		if ino.FragBlock, err = r.readUint32(); err != nil {
			return nil, err
		}
		if ino.FragOfft, err = r.readUint32(); err != nil {
			return nil, err
		}
		if u32, err = r.readUint32(); err != nil {
			return nil, err
		}
		ino.Size = uint64(u32)

		if err := ino.readBlockList(r); err != nil {
			return nil, err
		}

	case XFileType:
		if ino.StartBlock, err = r.readUint64(); err != nil {
			return nil, err
		}
		if ino.Size, err = r.readUint64(); err != nil {
			return nil, err
		}
		if ino.Sparse, err = r.readUint64(); err != nil {
			return nil, err
		}
		if ino.NLink, err = r.readUint32(); err != nil {
			return nil, err
		}
		if ino.FragBlock, err = r.readUint32(); err != nil {
			return nil, err
		}
		if ino.FragOfft, err = r.readUint32(); err != nil {
			return nil, err
		}
		if ino.XattrIdx, err = r.readUint32(); err != nil {
			return nil, err
		}

		if err := ino.readBlockList(r); err != nil {
			return nil, err
		}

	case SymlinkType, XSymlinkType:
		if ino.NLink, err = r.readUint32(); err != nil {
			return nil, err
		}
		u32, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		if u32 > 4096 {
			return nil, wrapErr(KindCorrupt, "symlink target length", ErrInvalidSuper)
		}
		ino.Size = uint64(u32)

		buf := make([]byte, u32)
		if err := r.readFull(buf); err != nil {
			return nil, err
		}
		ino.SymTarget = buf

		if ino.Type == XSymlinkType {
			if ino.XattrIdx, err = r.readUint32(); err != nil {
				return nil, err
			}
		}

	case BlockDevType, CharDevType:
		if ino.NLink, err = r.readUint32(); err != nil {
			return nil, err
		}
		dev, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		ino.Major, ino.Minor = devNumbers(uint64(dev))

	case XBlockDevType, XCharDevType:
		if ino.NLink, err = r.readUint32(); err != nil {
			return nil, err
		}
		dev, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		ino.Major, ino.Minor = devNumbers(uint64(dev))
		if ino.XattrIdx, err = r.readUint32(); err != nil {
			return nil, err
		}

	case FifoType, SocketType:
		if ino.NLink, err = r.readUint32(); err != nil {
			return nil, err
		}

	case XFifoType, XSocketType:
		if ino.NLink, err = r.readUint32(); err != nil {
			return nil, err
		}
		if ino.XattrIdx, err = r.readUint32(); err != nil {
			return nil, err
		}

	default:
		logrus.WithField("type", ino.Type).Warn("squashfs: unsupported inode type")
		return nil, wrapErr(KindUnsupported, "inode type", ErrInvalidSuper)
	}

	return ino, nil
}

// readBlockList reads a file inode's trailing per-block descriptor array,
// whose length is derived from Size/block_size the way the format expects
// (no explicit count is stored on disk).
func (ino *Inode) readBlockList(r *metaReader) error {
	blocks := int(ino.Size / uint64(ino.sb.BlockSize))
	if ino.FragBlock == noFragmentBlock && ino.Size%uint64(ino.sb.BlockSize) != 0 {
		blocks++
	}

	ino.Blocks = make([]uint32, blocks)
	ino.BlocksOfft = make([]uint64, blocks)

	offt := uint64(0)
	for i := 0; i < blocks; i++ {
		u32, err := r.readUint32()
		if err != nil {
			return err
		}
		ino.Blocks[i] = u32
		ino.BlocksOfft[i] = offt
		offt += uint64(u32 &^ blockUncompressedBit)
	}

	if ino.FragBlock != noFragmentBlock {
		ino.Blocks = append(ino.Blocks, noFragmentBlock)
		ino.BlocksOfft = append(ino.BlocksOfft, offt)
	}
	return nil
}

// ReadAt implements io.ReaderAt over a file inode's content, following its
// block descriptor array and resolving a trailing fragment via the
// fragment table.
func (i *Inode) ReadAt(p []byte, off int64) (int, error) {
	if i.Type != FileType && i.Type != XFileType {
		return 0, wrapErr(KindInvalidArgument, "read inode", fs.ErrInvalid)
	}
	if uint64(off) >= i.Size {
		return 0, io.EOF
	}
	if uint64(off)+uint64(len(p)) > i.Size {
		p = p[:i.Size-uint64(off)]
	}

	block := int(off / int64(i.sb.BlockSize))
	offset := int(off % int64(i.sb.BlockSize))
	n := 0

	for len(p) > 0 {
		buf, err := i.readBlock(block)
		if err != nil {
			return n, err
		}
		if offset > 0 {
			buf = buf[offset:]
		}

		c := copy(p, buf)
		n += c
		p = p[c:]
		block++
		offset = 0
	}
	return n, nil
}

func (i *Inode) readBlock(block int) ([]byte, error) {
	if i.Blocks[block] == noFragmentBlock {
		return i.readFragment()
	}
	if i.Blocks[block] == 0 {
		return make([]byte, i.sb.BlockSize), nil
	}

	size := i.Blocks[block] &^ blockUncompressedBit
	buf := make([]byte, size)
	if _, err := i.sb.fs.ReadAt(buf, int64(i.StartBlock+i.BlocksOfft[block])); err != nil {
		return nil, wrapErr(KindIO, "read data block", err)
	}
	if i.Blocks[block]&blockUncompressedBit == 0 {
		var err error
		buf, err = i.sb.Comp.decompress(buf, int(i.sb.BlockSize))
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (i *Inode) readFragment() ([]byte, error) {
	entries, err := readFragmentTable(i.sb)
	if err != nil {
		return nil, err
	}
	if int(i.FragBlock) >= len(entries) {
		return nil, wrapErr(KindCorrupt, "fragment index", ErrInvalidSuper)
	}
	e := entries[i.FragBlock]
	onDiskSize, uncompressed := e.onDiskSize()

	buf := make([]byte, onDiskSize)
	if _, err := i.sb.fs.ReadAt(buf, int64(e.Start)); err != nil {
		return nil, wrapErr(KindIO, "read fragment block", err)
	}
	if !uncompressed {
		buf, err = i.sb.Comp.decompress(buf, int(i.sb.BlockSize))
		if err != nil {
			return nil, err
		}
	}
	if i.FragOfft != 0 {
		buf = buf[i.FragOfft:]
	}
	return buf, nil
}

// LookupRelativeInode resolves a single path component against a directory
// inode using a fresh directory reader (§4.6).
func (i *Inode) LookupRelativeInode(ctx context.Context, name string) (*Inode, error) {
	if !i.IsDir() {
		return nil, wrapErr(KindInvalidArgument, "lookup", ErrNotDirectory)
	}

	dr, err := newDirReader(i.sb, i)
	if err != nil {
		return nil, err
	}
	if err := dr.find(name); err != nil {
		return nil, err
	}
	return dr.getInode()
}

// LookupRelativeInodePath resolves a '/'-separated relative path, component
// by component, following symlinks encountered along the way up to the
// superblock's configured limit (default defaultMaxSymlinks, overridable
// via WithMaxSymlinks).
func (i *Inode) LookupRelativeInodePath(ctx context.Context, name string) (*Inode, error) {
	cur := i
	hops := 0
	for {
		if len(name) == 0 {
			return cur, nil
		}
		pos := strings.IndexByte(name, '/')
		var comp string
		if pos == -1 {
			comp, name = name, ""
		} else if pos == 0 {
			name = name[1:]
			continue
		} else {
			comp, name = name[:pos], name[pos+1:]
		}

		next, err := cur.LookupRelativeInode(ctx, comp)
		if err != nil {
			return nil, err
		}

		if next.Type.IsSymlink() {
			hops++
			if hops > cur.sb.maxSymlinks {
				return nil, wrapErr(KindUnsupported, "lookup", ErrTooManySymlinks)
			}
			target, err := next.Readlink()
			if err != nil {
				return nil, err
			}
			if len(target) > 0 && target[0] == '/' {
				cur, err = cur.sb.Root()
				if err != nil {
					return nil, err
				}
			}
			// Splice the target in front of the rest of the path so its
			// components count against the same hop limit.
			if len(name) > 0 {
				name = string(target) + "/" + name
			} else {
				name = string(target)
			}
			continue
		}

		cur = next
		if len(name) == 0 {
			return cur, nil
		}
		if !cur.IsDir() {
			return nil, wrapErr(KindInvalidArgument, "lookup", ErrNotDirectory)
		}
	}
}

func (i *Inode) Mode() fs.FileMode {
	return UnixToMode(uint32(i.Perm)) | i.Type.Mode()
}

func (i *Inode) IsDir() bool { return i.Type.IsDir() }

func (i *Inode) Readlink() ([]byte, error) {
	if i.Type.IsSymlink() {
		return i.SymTarget, nil
	}
	return nil, wrapErr(KindInvalidArgument, "readlink", fs.ErrInvalid)
}

// Xattrs resolves this inode's extended attribute set, if any.
func (i *Inode) Xattrs() ([]XattrPair, error) {
	return readXattrSet(i.sb, i.XattrIdx)
}
