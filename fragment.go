package squashfs

import "encoding/binary"

// fragmentBlockUncompressed is bit 24 of a fragment entry's size, mirroring
// a regular data block descriptor: when set the fragment block is stored
// uncompressed.
const fragmentBlockUncompressed = 1 << 24

// fragmentEntry is the on-disk layout of one fragment table row, byte-exact
// with the format's {u64 start, u32 size, u32 pad}.
type fragmentEntry struct {
	Start uint64
	Size  uint32
	Pad   uint32
}

// fragmentTableWriter accumulates fragment blocks as the data writer flushes
// its staging buffer (§4.4.2), grounded on spec.md §3's fragment table
// description and persisted through the table-write helper of §4.5.
type fragmentTableWriter struct {
	entries []fragmentEntry
}

func newFragmentTableWriter() *fragmentTableWriter {
	return &fragmentTableWriter{}
}

// add records a freshly written fragment block and returns its index.
func (t *fragmentTableWriter) add(start uint64, onDiskSize uint32, uncompressed bool) uint32 {
	size := onDiskSize
	if uncompressed {
		size |= fragmentBlockUncompressed
	}
	t.entries = append(t.entries, fragmentEntry{Start: start, Size: size})
	return uint32(len(t.entries) - 1)
}

func (t *fragmentTableWriter) count() uint32 { return uint32(len(t.entries)) }

func (t *fragmentTableWriter) write(bf *blockFile, comp SquashComp) (uint64, error) {
	data := make([]byte, 16*len(t.entries))
	for i, e := range t.entries {
		binary.LittleEndian.PutUint64(data[i*16:], e.Start)
		binary.LittleEndian.PutUint32(data[i*16+8:], e.Size)
		binary.LittleEndian.PutUint32(data[i*16+12:], e.Pad)
	}
	return writeTable(bf, comp, data)
}

// readFragmentTable loads the full fragment table given the superblock's
// FragTableStart and FragCount.
func readFragmentTable(sb *Superblock) ([]fragmentEntry, error) {
	count := int(sb.FragCount)
	if count == 0 {
		return nil, nil
	}
	data, err := readTable(sb, sb.FragTableStart, count*16)
	if err != nil {
		return nil, err
	}
	entries := make([]fragmentEntry, count)
	for i := range entries {
		entries[i].Start = sb.order.Uint64(data[i*16:])
		entries[i].Size = sb.order.Uint32(data[i*16+8:])
		entries[i].Pad = sb.order.Uint32(data[i*16+12:])
	}
	return entries, nil
}

// onDiskSize returns the fragment block's stored byte length and whether it
// is stored uncompressed.
func (e fragmentEntry) onDiskSize() (size uint32, uncompressed bool) {
	uncompressed = e.Size&fragmentBlockUncompressed != 0
	return e.Size &^ fragmentBlockUncompressed, uncompressed
}
