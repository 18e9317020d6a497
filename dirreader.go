package squashfs

import (
	"io/fs"
)

// dirReaderState is the directory reader's state machine of spec.md §4.6,
// grounded on original_source/lib/sqfs/dir_reader/dir_reader.c.
type dirReaderState int

const (
	dirStateNone dirReaderState = iota
	dirStateOpened
	dirStateDot
	dirStateDotDot
	dirStateEntries
)

// dcacheSize bounds the inode-number -> inodeRef cache the Superblock
// keeps for resolving ".." without re-walking from root; a handful of
// entries covers typical traversal depth without unbounded growth.
const dcacheSize = 8

type dcacheEntry struct {
	ino uint32
	ref inodeRef
}

// dirReader provides stateful, sequential access to one directory's
// entries (plus synthesized "." and ".." pseudo-entries), following the
// state machine NONE -> OPENED -> DOT -> DOT_DOT -> ENTRIES.
type dirReader struct {
	sb *Superblock

	state      dirReaderState
	startState dirReaderState

	curRef    inodeRef
	parentRef inodeRef

	entries   *metaReader
	remaining int64 // bytes left in the directory's metadata span

	count      uint32 // entries left in the current header group
	grpStart   uint32 // shared inode metadata block start for the group
	entRef     inodeRef
}

// newDirReader opens dir for reading, synthesizing "." and ".." the way
// sqfs_dir_reader_open_dir does. dir's own inodeRef comes straight from
// dir.selfRef; the parent's inodeRef comes from the Superblock's
// persistent dcache, which a miss turns into a distinct KindNoEntry error
// rather than a silent guess, matching the original's
// SQFS_ERROR_NO_ENTRY on a cache miss.
func newDirReader(sb *Superblock, dir *Inode) (*dirReader, error) {
	if !dir.IsDir() {
		return nil, wrapErr(KindInvalidArgument, "open dir", ErrNotDirectory)
	}

	mr, err := sb.newDirMetaReader(uint64(dir.StartBlock), int(dir.Offset), dirTableLimit(sb))
	if err != nil {
		return nil, err
	}

	dr := &dirReader{
		sb:        sb,
		entries:   mr,
		remaining: int64(dir.Size) - 3, // trailing 3 bytes are not a real entry, per format quirk
	}

	// dir.selfRef is the exact inodeRef dir was resolved from by
	// GetInodeRef; unlike (StartBlock, Offset), which for a directory
	// inode address the *directory table*, this is always correct and
	// needs no cache lookup.
	dr.curRef = dir.selfRef

	if dr.curRef == sb.RootRef() {
		// The root directory is its own parent.
		dr.parentRef = dr.curRef
	} else if ref, ok := sb.dcacheFind(dir.ParentIno); ok {
		dr.parentRef = ref
	} else {
		// A directory can only be reached by resolving every ancestor
		// on the path to it first, which populates the dcache for each
		// one; a miss here means the parent's entry was never added or
		// has since been evicted, and the parent cannot be resolved
		// without re-walking from root.
		return nil, wrapErr(KindNoEntry, "open dir", ErrNoEntry)
	}

	sb.dcacheAdd(dir.Ino, dr.curRef)

	dr.state = dirStateOpened
	dr.startState = dr.state
	return dr, nil
}

// dirTableLimit returns the directory table's length in bytes: the offset
// of whichever table immediately follows it, minus DirTableStart. Per
// newDirMetaReader, block starts within the directory table are relative to
// DirTableStart, so this bound must be too.
func dirTableLimit(sb *Superblock) int64 {
	limit := int64(sb.IdTableStart)
	if sb.hasFragments() && int64(sb.FragTableStart) < limit {
		limit = int64(sb.FragTableStart)
	}
	if sb.hasExportTable() && int64(sb.ExportTableStart) < limit {
		limit = int64(sb.ExportTableStart)
	}
	return limit - int64(sb.DirTableStart)
}

// dirEntry is one directory entry (real or synthesized "."/"..").
type dirEntry struct {
	name string
	typ  Type
	ref  inodeRef
}

// read advances the state machine by one entry, synthesizing "." and ".."
// before the real entries begin.
func (dr *dirReader) read() (*dirEntry, error) {
	switch dr.state {
	case dirStateOpened:
		dr.state = dirStateDot
		return &dirEntry{name: ".", typ: DirType, ref: dr.curRef}, nil
	case dirStateDot:
		dr.state = dirStateDotDot
		return &dirEntry{name: "..", typ: DirType, ref: dr.parentRef}, nil
	case dirStateDotDot:
		dr.state = dirStateEntries
	case dirStateEntries:
		// fall through
	default:
		return nil, wrapErr(KindSequence, "dir read", ErrSequence)
	}
	return dr.readRealEntry()
}

func (dr *dirReader) readRealEntry() (*dirEntry, error) {
	if dr.remaining <= 0 {
		return nil, wrapErr(KindNoEntry, "dir read", ErrNoEntry)
	}

	if dr.count == 0 {
		if err := dr.readHeader(); err != nil {
			return nil, err
		}
	}

	offset, err := dr.entries.readUint16()
	if err != nil {
		return nil, err
	}
	inoDelta, err := dr.entries.readInt16()
	if err != nil {
		return nil, err
	}
	typRaw, err := dr.entries.readUint16()
	if err != nil {
		return nil, err
	}
	nameSize, err := dr.entries.readUint16()
	if err != nil {
		return nil, err
	}
	name := make([]byte, int(nameSize)+1)
	if err := dr.entries.readFull(name); err != nil {
		return nil, err
	}

	dr.count--
	dr.remaining -= int64(8 + len(name))
	_ = inoDelta

	ref := newInodeRef(uint64(dr.grpStart), offset)
	dr.entRef = ref
	return &dirEntry{name: string(name), typ: Type(typRaw), ref: ref}, nil
}

func (dr *dirReader) readHeader() error {
	count, err := dr.entries.readUint32()
	if err != nil {
		return err
	}
	grpStart, err := dr.entries.readUint32()
	if err != nil {
		return err
	}
	if _, err := dr.entries.readUint32(); err != nil { // shared inode number base, unused here
		return err
	}
	dr.count = count + 1
	dr.grpStart = grpStart
	dr.remaining -= 12
	return nil
}

// rewind resets the cursor back to the position it had right after
// newDirReader (i.e. the start of "." or of the real entries, depending on
// how the directory was opened).
func (dr *dirReader) rewind(sb *Superblock, dir *Inode) error {
	mr, err := sb.newDirMetaReader(uint64(dir.StartBlock), int(dir.Offset), dirTableLimit(sb))
	if err != nil {
		return err
	}
	dr.entries = mr
	dr.remaining = int64(dir.Size) - 3
	dr.count = 0
	dr.state = dr.startState
	return nil
}

// find advances the cursor until an entry named name is found, returning
// ErrNoEntry if the directory is exhausted first.
func (dr *dirReader) find(name string) error {
	for {
		ent, err := dr.read()
		if err != nil {
			return err
		}
		if ent.name == name {
			return nil
		}
	}
}

// getInode resolves the most recently read entry's inode, registering a
// directory's own reference in the dcache so future ".." lookups succeed
// without a root-to-leaf walk.
func (dr *dirReader) getInode() (*Inode, error) {
	var ref inodeRef
	switch dr.state {
	case dirStateNone, dirStateOpened:
		return nil, wrapErr(KindSequence, "get inode", ErrSequence)
	case dirStateDot:
		ref = dr.curRef
	case dirStateDotDot:
		ref = dr.parentRef
	default:
		ref = dr.entRef
	}

	ino, err := dr.sb.GetInodeRef(ref)
	if err != nil {
		return nil, err
	}
	if ino.IsDir() {
		dr.sb.dcacheAdd(ino.Ino, ref)
	}
	return ino, nil
}

// readDirEntries drains up to n entries (or all remaining when n<=0) as
// fs.DirEntry values, for the io/fs.ReadDirFile adapter in file.go. The
// synthesized "." and ".." pseudo-entries are skipped, matching the
// convention every io/fs.ReadDirFS implementation (including os.ReadDir)
// follows: they exist for path-component lookup, not for listing.
func (dr *dirReader) readDirEntries(sb *Superblock, n int) ([]fs.DirEntry, error) {
	var res []fs.DirEntry
	for {
		ent, err := dr.read()
		if err != nil {
			if _, ok := err.(*Error); ok && wrapsNoEntry(err) {
				return res, nil
			}
			return res, err
		}
		if ent.name == "." || ent.name == ".." {
			continue
		}
		res = append(res, &direntry{name: ent.name, typ: ent.typ, inoR: ent.ref, sb: sb})
		if n > 0 && len(res) >= n {
			return res, nil
		}
	}
}

func wrapsNoEntry(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindNoEntry
}
