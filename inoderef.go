package squashfs

import "fmt"

// inodeRef is the 64-bit opaque address the format uses everywhere an
// inode is referenced indirectly: directory entries, the superblock's
// root, and the directory reader's dcache. Bits 16-63 are the file offset
// at which the containing metadata block begins; bits 0-15 are the byte
// offset of the inode within that block's *uncompressed* payload.
//
// Keeping this as a newtype with accessors, rather than manual bit shifts
// at every call site, matters because the packing is load-bearing across
// the directory writer, directory reader, and superblock assembly.
type inodeRef uint64

func newInodeRef(blockStart uint64, offset uint16) inodeRef {
	return inodeRef((blockStart << 16) | uint64(offset))
}

// Index returns the file offset of the metadata block containing the
// inode. Named to match the field's historical role ("block index") even
// though the value is a byte offset, not an array index.
func (i inodeRef) Index() uint32 {
	return uint32((uint64(i) >> 16) & 0xffffffff)
}

func (i inodeRef) blockStart() uint64 {
	return uint64(i) >> 16
}

func (i inodeRef) Offset() uint32 {
	return uint32(uint64(i) & 0xffff)
}

func (i inodeRef) String() string {
	return fmt.Sprintf("inodeRef(index=0x%x,offset=0x%x)", i.Index(), i.Offset())
}
