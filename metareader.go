package squashfs

import (
	"encoding/binary"
	"io"
)

// metaReader is the Meta Reader component of spec.md §4.2: the inverse of
// metaWriter. It fetches a compressed block at a given file offset,
// decompresses it, and serves byte ranges across block boundaries,
// transparently following the chain via (blockStart -> blockStart + 2 +
// on-disk size). A single-slot cache keyed by file offset avoids
// re-decompressing a block that is read from twice in a row (e.g. Seek
// immediately followed by Read at the same block), per §4.2's note that a
// single-slot cache is sufficient and multi-slot LRU is an orthogonal
// optimization.
type metaReader struct {
	sb    *Superblock
	base  int64 // file offset that a block-start of 0 corresponds to
	limit int64 // exclusive upper bound on block starts relative to base, 0 = unbounded

	cachedAt   int64
	cachedBuf  []byte
	cachedNext int64

	curBuf []byte // unread remainder of the block currently positioned on
	nextAt int64  // block start (relative to base) of the block that follows the current one
}

func newMetaReader(sb *Superblock, base, limit int64) *metaReader {
	return &metaReader{sb: sb, base: base, limit: limit, cachedAt: -1}
}

// Seek positions the reader at the metadata block beginning at blockStart,
// skipping the first offset bytes of its decompressed payload.
func (m *metaReader) Seek(blockStart uint64, offset int) error {
	if err := m.loadBlock(int64(blockStart)); err != nil {
		return err
	}
	if offset > len(m.curBuf) {
		return wrapErr(KindCorrupt, "meta seek", io.ErrUnexpectedEOF)
	}
	m.curBuf = m.curBuf[offset:]
	return nil
}

func (m *metaReader) loadBlock(at int64) error {
	if m.limit != 0 && at >= m.limit {
		return wrapErr(KindCorrupt, "meta read", io.ErrUnexpectedEOF)
	}

	if m.cachedAt == at {
		m.curBuf = m.cachedBuf
		m.nextAt = m.cachedNext
		return nil
	}

	absAt := m.base + at

	hdr := make([]byte, 2)
	if _, err := m.sb.fs.ReadAt(hdr, absAt); err != nil {
		return wrapErr(KindIO, "meta read header", err)
	}
	lenN := m.sb.order.Uint16(hdr)
	raw := lenN&0x8000 != 0
	size := int(lenN &^ 0x8000)

	payload := make([]byte, size)
	if _, err := m.sb.fs.ReadAt(payload, absAt+2); err != nil {
		return wrapErr(KindIO, "meta read block", err)
	}

	var buf []byte
	if raw {
		buf = payload
	} else {
		var err error
		buf, err = m.sb.Comp.decompress(payload, metaBlockSize)
		if err != nil {
			return err
		}
	}

	m.cachedAt = at
	m.cachedBuf = buf
	m.cachedNext = at + 2 + int64(size)
	m.curBuf = buf
	m.nextAt = m.cachedNext
	return nil
}

// Read implements io.Reader, transparently following the block chain.
func (m *metaReader) Read(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		if len(m.curBuf) == 0 {
			if err := m.loadBlock(m.nextAt); err != nil {
				return n, err
			}
		}
		c := copy(p, m.curBuf)
		m.curBuf = m.curBuf[c:]
		p = p[c:]
		n += c
	}
	return n, nil
}

// readFull reads exactly len(p) bytes or returns an error.
func (m *metaReader) readFull(p []byte) error {
	_, err := io.ReadFull(m, p)
	if err != nil {
		return wrapErr(KindCorrupt, "meta read", err)
	}
	return nil
}

func (m *metaReader) readUint16() (uint16, error) {
	var v uint16
	if err := binary.Read(m, m.sb.order, &v); err != nil {
		return 0, wrapErr(KindCorrupt, "meta read u16", err)
	}
	return v, nil
}

func (m *metaReader) readUint32() (uint32, error) {
	var v uint32
	if err := binary.Read(m, m.sb.order, &v); err != nil {
		return 0, wrapErr(KindCorrupt, "meta read u32", err)
	}
	return v, nil
}

func (m *metaReader) readUint64() (uint64, error) {
	var v uint64
	if err := binary.Read(m, m.sb.order, &v); err != nil {
		return 0, wrapErr(KindCorrupt, "meta read u64", err)
	}
	return v, nil
}

func (m *metaReader) readInt32() (int32, error) {
	var v int32
	if err := binary.Read(m, m.sb.order, &v); err != nil {
		return 0, wrapErr(KindCorrupt, "meta read i32", err)
	}
	return v, nil
}

func (m *metaReader) readInt16() (int16, error) {
	var v int16
	if err := binary.Read(m, m.sb.order, &v); err != nil {
		return 0, wrapErr(KindCorrupt, "meta read i16", err)
	}
	return v, nil
}

// newInodeReader positions a fresh metaReader bounded by the inode table's
// span at the block/offset packed into ref. Per the real format, an
// inodeRef's block-start half is relative to InodeTableStart, not an
// absolute file offset — mirroring how a directory inode's own StartBlock
// is relative to DirTableStart.
func (sb *Superblock) newInodeReader(ref inodeRef) (*metaReader, error) {
	m := newMetaReader(sb, int64(sb.InodeTableStart), int64(sb.DirTableStart-sb.InodeTableStart))
	if err := m.Seek(ref.blockStart(), int(ref.Offset())); err != nil {
		return nil, err
	}
	return m, nil
}

// newDirMetaReader positions a fresh metaReader bounded by the directory
// table's span at the given block/offset. blockStart is relative to
// DirTableStart, matching how a directory inode's StartBlock field is
// stored on disk; limit is the directory table's length in bytes (the
// offset of whichever table follows it, minus DirTableStart).
func (sb *Superblock) newDirMetaReader(blockStart uint64, offset int, limit int64) (*metaReader, error) {
	m := newMetaReader(sb, int64(sb.DirTableStart), limit)
	if err := m.Seek(blockStart, offset); err != nil {
		return nil, err
	}
	return m, nil
}
