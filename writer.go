package squashfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Writer serializes an in-memory Node tree into a byte-exact SquashFS 4.0
// image (spec.md §4.8). Unlike the teacher's buffered-or-WriterAt Writer,
// this one always requires io.WriterAt: the bottom-up tree walk (§4.7)
// needs to stage the inode and directory tables in their own sectionBuffer
// before copying them into the real file, and the superblock itself is
// only known once every other table has been written.
type Writer struct {
	dest io.WriterAt
	bf   *blockFile
	sb   *Superblock
	dw   *dataWriter
	ids  *idTableWriter

	inodeBF *blockFile
	inodeMW *metaWriter

	dirBF *blockFile
	dirW  *dirWriter

	xattrs *xattrTableWriter

	devBlockSize uint64
	exportable   bool

	nextIno uint32
}

// WriterOption configures a Writer at construction time.
type WriterOption func(*Writer) error

// WithBlockSize sets the data block size (default 128KiB), which must be a
// power of two.
func WithBlockSize(size uint32) WriterOption {
	return func(w *Writer) error {
		w.sb.BlockSize = size
		blockLog := uint16(0)
		for 1<<blockLog < size {
			blockLog++
		}
		w.sb.BlockLog = blockLog
		return nil
	}
}

// WithCompression selects the block/metadata compressor (default GZip).
func WithCompression(comp SquashComp) WriterOption {
	return func(w *Writer) error {
		w.sb.Comp = comp
		return nil
	}
}

// WithModTime overrides the filesystem-wide modification time recorded in
// the superblock (default: time.Now() at NewWriter time).
func WithModTime(t time.Time) WriterOption {
	return func(w *Writer) error {
		w.sb.ModTime = int32(t.Unix())
		return nil
	}
}

// WithDeviceBlockAlignment aligns every file's start (and end) to size
// bytes, the DW_ALLIGN_DEVBLK behavior of §4.4.
func WithDeviceBlockAlignment(size uint64) WriterOption {
	return func(w *Writer) error {
		w.devBlockSize = size
		return nil
	}
}

// WithExportTable enables the NFS export table and the EXPORTABLE flag.
func WithExportTable() WriterOption {
	return func(w *Writer) error {
		w.exportable = true
		return nil
	}
}

// NewWriter creates a Writer that will stream a SquashFS 4.0 image to dest,
// starting at dest's offset 0.
func NewWriter(dest io.WriterAt, opts ...WriterOption) (*Writer, error) {
	sb := newWriteSuperblock(GZip, 131072, int32(time.Now().Unix()))

	w := &Writer{
		dest: dest,
		sb:   sb,
		ids:  newIDTableWriter(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}

	w.bf = newBlockFile(dest, uint64(SuperblockSize))
	w.dw = newDataWriter(w.bf, w.sb)
	w.dw.devBlockSize = w.devBlockSize

	w.inodeBF = newBlockFile(newSectionBuffer(), 0)
	w.inodeMW = newMetaWriter(w.inodeBF, w.sb.Comp)

	w.dirBF = newBlockFile(newSectionBuffer(), 0)
	w.dirW = newDirWriter(w.dirBF, w.sb.Comp)

	w.xattrs = newXattrTableWriter(w.bf, w.sb.Comp)

	return w, nil
}

// assignInodeNumbers walks the tree breadth-first, assigning 1 to the root
// and increasing numbers level by level, so the children of one directory
// always get consecutive numbers and each directory entry's 16-bit delta
// from its header group's base inode number stays small.
func (w *Writer) assignInodeNumbers(root *Node) {
	queue := []*Node{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		w.nextIno++
		n.ino = w.nextIno
		queue = append(queue, n.Children()...)
	}
}

// Finalize builds and writes the complete image for root, following
// spec.md §4.8's table order: data blocks and the tree walk happen
// together (bottom-up, §4.7), then the inode table, directory table,
// fragment table, export table, id table and xattr tables are each copied
// into dest as one contiguous region, and finally the superblock is
// written twice (a placeholder up front, the real one once every offset is
// known). The Writer must not be reused after Finalize returns.
func (w *Writer) Finalize(root *Node) error {
	if root.Kind != NodeDir {
		return wrapErr(KindInvalidArgument, "write image", ErrNotDirectory)
	}

	placeholder := make([]byte, SuperblockSize)
	if _, err := w.dest.WriteAt(placeholder, 0); err != nil {
		return wrapErr(KindIO, "write placeholder superblock", err)
	}

	w.nextIno = 0
	w.assignInodeNumbers(root)
	w.sb.InodeCount = w.nextIno

	var exportW *exportTableWriter
	if w.exportable {
		exportW = newExportTableWriter(w.sb.InodeCount)
	}

	rootRef, err := w.writeNode(root, exportW)
	if err != nil {
		return err
	}
	w.sb.RootInode = uint64(rootRef)

	if err := w.dw.Sync(); err != nil {
		return err
	}

	if err := w.inodeMW.Finalize(); err != nil {
		return err
	}
	w.sb.InodeTableStart = w.bf.Offset()
	if err := w.copyInto(w.inodeBF); err != nil {
		return err
	}

	if err := w.dirW.Finalize(); err != nil {
		return err
	}
	w.sb.DirTableStart = w.bf.Offset()
	if err := w.copyInto(w.dirBF); err != nil {
		return err
	}

	if err := w.dw.WriteFragmentTable(); err != nil {
		return err
	}

	if w.exportable {
		loc, err := exportW.write(w.bf, w.sb.Comp)
		if err != nil {
			return err
		}
		w.sb.ExportTableStart = loc
		w.sb.Flags |= EXPORTABLE
	}

	loc, err := w.ids.write(w.bf, w.sb.Comp)
	if err != nil {
		return err
	}
	w.sb.IdTableStart = loc
	w.sb.IdCount = w.ids.count()

	xattrLoc, err := w.xattrs.finalize(w.bf, w.sb.Comp)
	if err != nil {
		return err
	}
	w.sb.XattrIdTableStart = xattrLoc

	w.sb.BytesUsed = w.bf.Offset()

	final, err := w.sb.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.dest.WriteAt(final, 0); err != nil {
		return wrapErr(KindIO, "write superblock", err)
	}

	logrus.WithFields(logrus.Fields{
		"inodes":     w.sb.InodeCount,
		"bytes_used": w.sb.BytesUsed,
	}).Debug("squashfs: image written")
	return nil
}

// copyInto appends src's accumulated bytes (a sectionBuffer-backed
// blockFile used to stage the inode or directory table) onto the real
// output at its current offset.
func (w *Writer) copyInto(src *blockFile) error {
	buf, ok := src.wa.(*sectionBuffer)
	if !ok {
		return wrapErr(KindInvalidArgument, "copy table", ErrInvalidArgument)
	}
	return w.bf.Write(buf.Bytes())
}

// writeNode implements the bottom-up walk of §4.7: a directory's children
// are written first, so their inodeRefs are known by the time the
// directory itself serializes its entry list and inode.
func (w *Writer) writeNode(n *Node, exportW *exportTableWriter) (inodeRef, error) {
	var ref inodeRef
	var err error

	switch n.Kind {
	case NodeDir:
		ref, err = w.writeDirNode(n, exportW)
	case NodeFile:
		ref, err = w.writeFileNode(n)
	default:
		ref, err = w.writeLeafNode(n)
	}
	if err != nil {
		return 0, err
	}

	if exportW != nil {
		exportW.set(n.ino, ref)
	}
	return ref, nil
}

func (w *Writer) writeDirNode(n *Node, exportW *exportTableWriter) (inodeRef, error) {
	var childRefs []dirChildRef
	for _, c := range n.Children() {
		cref, err := w.writeNode(c, exportW)
		if err != nil {
			return 0, err
		}
		childRefs = append(childRefs, dirChildRef{
			name: c.Name,
			typ:  nodeKindType(c.Kind),
			ino:  c.ino,
			ref:  cref,
		})
	}

	blockStart, offset, dataSize, err := w.dirW.writeDirectory(childRefs)
	if err != nil {
		return 0, err
	}

	parentIno := n.ino
	if p := n.Parent(); p != nil {
		parentIno = p.ino
	}

	nlink := uint32(2 + countSubdirs(n))

	body := &bytes.Buffer{}
	if err := binary.Write(body, binary.LittleEndian, uint32(blockStart)); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}
	if err := binary.Write(body, binary.LittleEndian, nlink); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}
	if err := binary.Write(body, binary.LittleEndian, uint16(dataSize+3)); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}
	if err := binary.Write(body, binary.LittleEndian, uint16(offset)); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}
	if err := binary.Write(body, binary.LittleEndian, parentIno); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}

	return w.appendInode(DirType, n, body.Bytes())
}

func countSubdirs(n *Node) int {
	c := 0
	for _, ch := range n.Children() {
		if ch.Kind == NodeDir {
			c++
		}
	}
	return c
}

func (w *Writer) writeFileNode(n *Node) (inodeRef, error) {
	if n.Size > 0 {
		if n.Open == nil {
			return 0, wrapErr(KindInvalidArgument, "write file", ErrInvalidArgument)
		}
		rc, err := n.Open()
		if err != nil {
			return 0, wrapErr(KindIO, "open file content", err)
		}
		var flags uint32
		if w.devBlockSize != 0 {
			flags |= dwAllignDevblk
		}
		err = w.dw.WriteFile(n, rc, flags)
		closeErr := rc.Close()
		if err != nil {
			return 0, err
		}
		if closeErr != nil {
			return 0, wrapErr(KindIO, "close file content", closeErr)
		}
	}

	fragBlock := uint32(noFragmentBlock)
	fragOff := uint32(0)
	if n.hasFragment {
		fragBlock = n.fragIdx
		fragOff = n.fragOff
	}

	body := &bytes.Buffer{}
	fields := []any{
		n.startBlk,
		n.Size,
		n.sparse,
		uint32(1), // nlink
		fragBlock,
		fragOff,
	}
	for _, f := range fields {
		if err := binary.Write(body, binary.LittleEndian, f); err != nil {
			return 0, wrapErr(KindIO, "serialize inode", err)
		}
	}

	xattrIdx, err := w.xattrs.addSet(n.Xattrs)
	if err != nil {
		return 0, err
	}
	if err := binary.Write(body, binary.LittleEndian, xattrIdx); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}

	for _, b := range n.blocks {
		if err := binary.Write(body, binary.LittleEndian, b); err != nil {
			return 0, wrapErr(KindIO, "serialize inode", err)
		}
	}

	return w.appendInode(XFileType, n, body.Bytes())
}

func (w *Writer) writeLeafNode(n *Node) (inodeRef, error) {
	extended := len(n.Xattrs) > 0
	body := &bytes.Buffer{}

	switch n.Kind {
	case NodeSymlink:
		typ := SymlinkType
		if extended {
			typ = XSymlinkType
		}
		if err := binary.Write(body, binary.LittleEndian, uint32(1)); err != nil { // nlink
			return 0, wrapErr(KindIO, "serialize inode", err)
		}
		if err := binary.Write(body, binary.LittleEndian, uint32(len(n.Target))); err != nil {
			return 0, wrapErr(KindIO, "serialize inode", err)
		}
		body.WriteString(n.Target)
		if extended {
			idx, err := w.xattrs.addSet(n.Xattrs)
			if err != nil {
				return 0, err
			}
			if err := binary.Write(body, binary.LittleEndian, idx); err != nil {
				return 0, wrapErr(KindIO, "serialize inode", err)
			}
		}
		return w.appendInode(typ, n, body.Bytes())

	case NodeBlockDev, NodeCharDev:
		typ := BlockDevType
		if n.Kind == NodeCharDev {
			typ = CharDevType
		}
		if extended {
			if n.Kind == NodeCharDev {
				typ = XCharDevType
			} else {
				typ = XBlockDevType
			}
		}
		if err := binary.Write(body, binary.LittleEndian, uint32(1)); err != nil {
			return 0, wrapErr(KindIO, "serialize inode", err)
		}
		if err := binary.Write(body, binary.LittleEndian, uint32(makeDev(n.Major, n.Minor))); err != nil {
			return 0, wrapErr(KindIO, "serialize inode", err)
		}
		if extended {
			idx, err := w.xattrs.addSet(n.Xattrs)
			if err != nil {
				return 0, err
			}
			if err := binary.Write(body, binary.LittleEndian, idx); err != nil {
				return 0, wrapErr(KindIO, "serialize inode", err)
			}
		}
		return w.appendInode(typ, n, body.Bytes())

	case NodeFifo, NodeSocket:
		typ := FifoType
		if n.Kind == NodeSocket {
			typ = SocketType
		}
		if extended {
			if n.Kind == NodeSocket {
				typ = XSocketType
			} else {
				typ = XFifoType
			}
		}
		if err := binary.Write(body, binary.LittleEndian, uint32(1)); err != nil {
			return 0, wrapErr(KindIO, "serialize inode", err)
		}
		if extended {
			idx, err := w.xattrs.addSet(n.Xattrs)
			if err != nil {
				return 0, err
			}
			if err := binary.Write(body, binary.LittleEndian, idx); err != nil {
				return 0, wrapErr(KindIO, "serialize inode", err)
			}
		}
		return w.appendInode(typ, n, body.Bytes())

	default:
		return 0, wrapErr(KindUnsupported, "serialize inode", ErrInvalidArgument)
	}
}

// appendInode writes the common inode header followed by typ's
// already-serialized body, and returns the resulting inodeRef.
func (w *Writer) appendInode(typ Type, n *Node, body []byte) (inodeRef, error) {
	ref := w.inodeMW.currentReference()

	hdr := &bytes.Buffer{}
	if err := binary.Write(hdr, binary.LittleEndian, uint16(typ)); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}
	if err := binary.Write(hdr, binary.LittleEndian, uint16(n.Mode.Perm())); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}
	if err := binary.Write(hdr, binary.LittleEndian, w.ids.idx(n.Uid)); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}
	if err := binary.Write(hdr, binary.LittleEndian, w.ids.idx(n.Gid)); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}
	if err := binary.Write(hdr, binary.LittleEndian, int32(n.ModTime)); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}
	if err := binary.Write(hdr, binary.LittleEndian, n.ino); err != nil {
		return 0, wrapErr(KindIO, "serialize inode", err)
	}

	if err := w.inodeMW.Append(hdr.Bytes()); err != nil {
		return 0, err
	}
	if err := w.inodeMW.Append(body); err != nil {
		return 0, err
	}

	return newInodeRef(ref.blockStart, ref.offset), nil
}

func nodeKindType(k NodeKind) Type {
	switch k {
	case NodeDir:
		return DirType
	case NodeFile:
		return FileType
	case NodeSymlink:
		return SymlinkType
	case NodeBlockDev:
		return BlockDevType
	case NodeCharDev:
		return CharDevType
	case NodeFifo:
		return FifoType
	case NodeSocket:
		return SocketType
	default:
		return FileType
	}
}
