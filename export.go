package squashfs

import "encoding/binary"

// exportTableWriter implements SPEC_FULL.md's NFS export table: a dense
// array mapping inode number (1-based) to its inodeRef, persisted through
// the same Meta-Writer-Backed Table Helper as the id and fragment tables.
// Presence is recorded via the EXPORTABLE bit in Superblock.Flags.
type exportTableWriter struct {
	refs []inodeRef // index 0 holds inode number 1
}

func newExportTableWriter(inodeCount uint32) *exportTableWriter {
	return &exportTableWriter{refs: make([]inodeRef, inodeCount)}
}

// set records the reference for inode number ino (1-based).
func (t *exportTableWriter) set(ino uint32, ref inodeRef) {
	t.refs[ino-1] = ref
}

func (t *exportTableWriter) write(bf *blockFile, comp SquashComp) (uint64, error) {
	data := make([]byte, 8*len(t.refs))
	for i, r := range t.refs {
		binary.LittleEndian.PutUint64(data[i*8:], uint64(r))
	}
	return writeTable(bf, comp, data)
}

// lookupExport resolves an inode number to its inodeRef via the export
// table, letting a reader address an inode by number alone without
// descending from the root.
func lookupExport(sb *Superblock, ino uint32) (inodeRef, error) {
	if sb.Flags&EXPORTABLE == 0 || ino == 0 || ino > sb.InodeCount {
		return 0, wrapErr(KindUnsupported, "export lookup", ErrInodeNotExported)
	}
	data, err := readTable(sb, sb.ExportTableStart, int(sb.InodeCount)*8)
	if err != nil {
		return 0, err
	}
	return inodeRef(sb.order.Uint64(data[(ino-1)*8:])), nil
}
