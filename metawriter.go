package squashfs

import "encoding/binary"

// metaBlockSize is the fixed logical size of a metadata block: inodes,
// directory entries, the id table and the fragment table are all written
// as a chain of independently compressed blocks of this size.
const metaBlockSize = 8192

// metaWriter implements the Meta Writer component of spec.md §4.2: bytes
// are staged into an 8KiB buffer, auto-flushed to the backing blockFile as
// full blocks accumulate, each flushed block prefixed with a 16-bit header
// (compressed size, high bit set when stored raw).
type metaWriter struct {
	bf   *blockFile
	comp SquashComp
	buf  []byte

	// blockStarts records the file offset each flushed block began at, in
	// order. Callers that persist a metaWriter's output as a table (§4.5)
	// need this list to build the block-pointer array that follows it.
	blockStarts []uint64
}

func newMetaWriter(bf *blockFile, comp SquashComp) *metaWriter {
	return &metaWriter{bf: bf, comp: comp, buf: make([]byte, 0, metaBlockSize)}
}

// metaRef is a (block-start, in-block offset) pair identifying a position
// inside a metadata stream; combined into an inodeRef by callers that need
// the packed 64-bit form.
type metaRef struct {
	blockStart uint64
	offset     uint16
}

// currentReference returns where the next appended byte would land. This
// is what call sites capture as an inode's own reference, or as the
// (startBlock, offset) triple recorded on a parent directory inode.
func (m *metaWriter) currentReference() metaRef {
	return metaRef{blockStart: m.bf.Offset(), offset: uint16(len(m.buf))}
}

// Append copies bytes into the staging buffer, flushing full blocks as
// they fill. Only 16 bits of in-block offset exist, so a single append
// must never straddle more than the buffer's remaining capacity in an
// unrepresentable way; since metaBlockSize is 8192, any bounded record
// (inode, directory entry) always fits this invariant.
func (m *metaWriter) Append(data []byte) error {
	for len(data) > 0 {
		room := metaBlockSize - len(m.buf)
		n := len(data)
		if n > room {
			n = room
		}
		m.buf = append(m.buf, data[:n]...)
		data = data[n:]
		if len(m.buf) == metaBlockSize {
			if err := m.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush is a no-op when the buffer is empty, per §4.2's idempotence rule.
func (m *metaWriter) flush() error {
	if len(m.buf) == 0 {
		return nil
	}

	payload := m.buf
	compressed, err := m.comp.compress(payload)
	if err != nil {
		return err
	}

	m.blockStarts = append(m.blockStarts, m.bf.Offset())

	header := make([]byte, 2)
	if compressed != nil {
		binary.LittleEndian.PutUint16(header, uint16(len(compressed)))
		if err := m.bf.Write(header); err != nil {
			return err
		}
		if err := m.bf.Write(compressed); err != nil {
			return err
		}
	} else {
		binary.LittleEndian.PutUint16(header, uint16(len(payload))|0x8000)
		if err := m.bf.Write(header); err != nil {
			return err
		}
		if err := m.bf.Write(payload); err != nil {
			return err
		}
	}

	m.buf = m.buf[:0]
	return nil
}

// Finalize flushes any partial block. The enclosing table (directory
// table, inode table) needs no further outer-stream padding: unlike data
// blocks, metadata blocks are never required to align to the device block
// size.
func (m *metaWriter) Finalize() error {
	return m.flush()
}

// BlockStarts returns the file offsets of each flushed block, in order.
// Valid only after Finalize has been called.
func (m *metaWriter) BlockStarts() []uint64 {
	return m.blockStarts
}
