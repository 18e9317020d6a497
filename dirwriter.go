package squashfs

import "encoding/binary"

// maxDirGroup bounds how many entries share one directory header, matching
// the original tooling's indexInterval: a header also breaks whenever the
// next entry's inode lives in a different inode metadata block, since a
// header can only record one shared block-start.
const maxDirGroup = 256

// dirChildRef is everything the directory writer needs about one resolved
// child: its name, on-disk type tag, assigned inode number, and the
// inodeRef its own inode was written at.
type dirChildRef struct {
	name string
	typ  Type
	ino  uint32
	ref  inodeRef
}

// dirWriter implements the Directory Writer of spec.md §4.7: entries are
// serialized as a sequence of (header, entries...) groups sharing one
// metadata stream (the directory table), addressed the same way the inode
// table is. Grounded on the teacher's buildDirectoryEntryData, but built
// bottom-up (children's inodes are written, and their positions known,
// before their parent serializes its entry list) instead of the teacher's
// fixed-point block-position iteration — avoiding the chicken-and-egg
// problem entirely rather than iterating to a fixed point.
type dirWriter struct {
	mw *metaWriter
}

func newDirWriter(bf *blockFile, comp SquashComp) *dirWriter {
	return &dirWriter{mw: newMetaWriter(bf, comp)}
}

// writeDirectory serializes one directory's resolved children (already
// sorted by name) and returns where its entry data begins and how many
// bytes were written. An empty directory writes nothing; its inode's Size
// field is the fixed 3-byte "just a terminator" value used by all
// directories on top of whatever real data follows, matching the dirReader
// convention of treating Size-3 as the real byte count.
func (dw *dirWriter) writeDirectory(children []dirChildRef) (blockStart uint64, offset uint16, dataSize uint32, err error) {
	ref := dw.mw.currentReference()
	if len(children) == 0 {
		return ref.blockStart, ref.offset, 0, nil
	}

	var buf []byte
	i := 0
	for i < len(children) {
		j := i + 1
		base := children[i].ref.blockStart()
		for j < len(children) && j-i < maxDirGroup && children[j].ref.blockStart() == base {
			j++
		}
		group := children[i:j]

		hdr := make([]byte, 12)
		binary.LittleEndian.PutUint32(hdr, uint32(len(group)-1))
		binary.LittleEndian.PutUint32(hdr[4:], uint32(base))
		binary.LittleEndian.PutUint32(hdr[8:], group[0].ino)
		buf = append(buf, hdr...)

		for _, c := range group {
			ent := make([]byte, 8)
			binary.LittleEndian.PutUint16(ent, uint16(c.ref.Offset()))
			binary.LittleEndian.PutUint16(ent[2:], uint16(int16(c.ino)-int16(group[0].ino)))
			binary.LittleEndian.PutUint16(ent[4:], uint16(c.typ))
			binary.LittleEndian.PutUint16(ent[6:], uint16(len(c.name)-1))
			buf = append(buf, ent...)
			buf = append(buf, []byte(c.name)...)
		}

		i = j
	}

	if err := dw.mw.Append(buf); err != nil {
		return 0, 0, 0, err
	}
	return ref.blockStart, ref.offset, uint32(len(buf)), nil
}

func (dw *dirWriter) Finalize() error {
	return dw.mw.Finalize()
}
