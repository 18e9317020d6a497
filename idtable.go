package squashfs

import "encoding/binary"

// idTableWriter collects the unique 32-bit uid/gid values referenced by
// inodes and assigns each a 16-bit index, grounded on the teacher's
// writer.go buildIDTable/writeIDTable: every inode stores an index into
// this table rather than a raw id, so a filesystem with few distinct
// owners pays for the table once instead of once per inode.
type idTableWriter struct {
	index map[uint32]uint16
	list  []uint32
}

func newIDTableWriter() *idTableWriter {
	return &idTableWriter{index: make(map[uint32]uint16)}
}

// idx returns id's table index, assigning a new one the first time id is
// seen.
func (t *idTableWriter) idx(id uint32) uint16 {
	if i, ok := t.index[id]; ok {
		return i
	}
	i := uint16(len(t.list))
	t.list = append(t.list, id)
	t.index[id] = i
	return i
}

func (t *idTableWriter) count() uint16 { return uint16(len(t.list)) }

// write persists the table via the Meta-Writer-Backed Table Helper and
// returns the block-pointer array's offset, which the superblock records
// as IdTableStart.
func (t *idTableWriter) write(bf *blockFile, comp SquashComp) (uint64, error) {
	data := make([]byte, 4*len(t.list))
	for i, id := range t.list {
		binary.LittleEndian.PutUint32(data[i*4:], id)
	}
	return writeTable(bf, comp, data)
}

// readIDTable loads the full id table given the superblock's IdTableStart
// and IdCount, for resolving an inode's UidIdx/GidIdx back to a raw id.
func readIDTable(sb *Superblock) ([]uint32, error) {
	count := int(sb.IdCount)
	if count == 0 {
		return nil, nil
	}
	data, err := readTable(sb, sb.IdTableStart, count*4)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, count)
	for i := range ids {
		ids[i] = sb.order.Uint32(data[i*4:])
	}
	return ids, nil
}
