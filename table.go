package squashfs

import "encoding/binary"

// writeTable implements the Meta-Writer-Backed Table Helper of spec.md
// §4.5: it feeds payload through a fresh Meta Writer producing K compressed
// blocks at the current file offset, then emits the K block-start offsets
// as a plain little-endian u64 array at the offset that follows. It returns
// the offset of that block-pointer array, which is what the superblock (or
// an id/fragment/xattr table header) records as the table's location. The
// fragment table, id table and xattr table are all persisted this way.
func writeTable(bf *blockFile, comp SquashComp, payload []byte) (uint64, error) {
	mw := newMetaWriter(bf, comp)
	if err := mw.Append(payload); err != nil {
		return 0, err
	}
	if err := mw.Finalize(); err != nil {
		return 0, err
	}

	listStart := bf.Offset()
	starts := mw.BlockStarts()
	list := make([]byte, 8*len(starts))
	for i, s := range starts {
		binary.LittleEndian.PutUint64(list[i*8:], s)
	}
	if err := bf.Write(list); err != nil {
		return 0, err
	}
	return listStart, nil
}

// readTable is the inverse of writeTable, grounded on
// original_source/lib/sqfs/read_table.c's sqfs_read_table: it reads the
// block-pointer array at location, then walks a fresh Meta Reader across
// each listed block to reconstruct tableSize bytes of payload.
func readTable(sb *Superblock, location uint64, tableSize int) ([]byte, error) {
	blockCount := tableSize / metaBlockSize
	if tableSize%metaBlockSize != 0 {
		blockCount++
	}

	listSize := 8 * blockCount
	list := make([]byte, listSize)
	if _, err := sb.fs.ReadAt(list, int64(location)); err != nil {
		return nil, wrapErr(KindIO, "read table locations", err)
	}

	data := make([]byte, tableSize)
	remaining := tableSize
	out := data
	for i := 0; i < blockCount; i++ {
		start := sb.order.Uint64(list[i*8:])

		mr := newMetaReader(sb, 0, 0)
		if err := mr.Seek(start, 0); err != nil {
			return nil, err
		}

		n := metaBlockSize
		if n > remaining {
			n = remaining
		}
		if err := mr.readFull(out[:n]); err != nil {
			return nil, err
		}
		out = out[n:]
		remaining -= n
	}
	return data, nil
}
