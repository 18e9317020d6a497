package squashfs

import (
	"hash/crc32"
	"io"
)

// DW_ALLIGN_DEVBLK mirrors the original flag name: align a file's start
// (and, after its last block, the image) to the device block size.
const (
	dwAllignDevblk uint32 = 1 << iota
	dwDontCompress
	dwDontFragment
)

// blockUncompressedBit is the on-disk block descriptor's "stored raw" flag,
// bit 24 per spec.md §7.
const blockUncompressedBit uint32 = 1 << 24

// dataWriter is the Data Writer of spec.md §4.4, the central component:
// it streams a Node's content through a block-sized buffer, deduplicates
// whole-file block runs, packs sub-block tails into a shared fragment
// block, and detects sparse (all-zero) blocks. Grounded on
// original_source/lib/sqfs/data_writer.c.
type dataWriter struct {
	bf           *blockFile
	comp         SquashComp
	blockSize    uint32
	devBlockSize uint64 // 0 disables device-block alignment

	block   []byte // reused block-sized scratch for the region being processed
	fragBuf []byte // fragment staging buffer, grows up to blockSize

	fragTable *fragmentTableWriter

	dedupHead *Node // head of the written-files list, most recent first

	sb *Superblock // superblock being built; bytes_used and flags are updated in place
}

func newDataWriter(bf *blockFile, sb *Superblock) *dataWriter {
	return &dataWriter{
		bf:        bf,
		comp:      sb.Comp,
		blockSize: sb.BlockSize,
		block:     make([]byte, sb.BlockSize),
		fragTable: newFragmentTableWriter(),
		sb:        sb,
	}
}

// WriteFile streams content (exactly size bytes) into the image as n.
func (d *dataWriter) WriteFile(n *Node, content io.Reader, flags uint32) error {
	if err := d.beginFile(n, flags); err != nil {
		return err
	}

	remaining := n.Size
	for remaining > 0 {
		chunk := uint64(d.blockSize)
		isLast := false
		if remaining <= chunk {
			chunk = remaining
			isLast = true
		}
		buf := d.block[:chunk]
		if _, err := io.ReadFull(content, buf); err != nil {
			return wrapErr(KindIO, "read file data", err)
		}
		if err := d.flushDataBlock(n, buf, isLast, flags); err != nil {
			return err
		}
		remaining -= chunk
	}

	return d.endFile(n, flags)
}

// SparseRegion describes one non-zero byte range within a sparse file,
// mirroring the original's sparse_map_t linked list.
type SparseRegion struct {
	Offset uint64
	Count  uint64
}

// WriteFileSparse is the §4.4.3 variant: content supplies only the bytes
// named by regions (in order), and everything else in [0, n.Size) is
// treated as zero without ever being read. Regions must be ordered and
// non-overlapping and must not extend past n.Size.
func (d *dataWriter) WriteFileSparse(n *Node, content io.Reader, regions []SparseRegion, flags uint32) error {
	var end uint64
	for _, r := range regions {
		if r.Offset < end {
			return wrapErr(KindInvalidArgument, "sparse map", ErrInvalidArgument)
		}
		end = r.Offset + r.Count
	}
	if end > n.Size {
		return wrapErr(KindInvalidArgument, "sparse map size", ErrInvalidArgument)
	}

	if err := d.beginFile(n, flags); err != nil {
		return err
	}

	idx := 0
	var offset uint64
	for offset < n.Size {
		diff := uint64(d.blockSize)
		isLast := false
		if n.Size-offset <= diff {
			diff = n.Size - offset
			isLast = true
		}

		buf := d.block[:diff]
		for i := range buf {
			buf[i] = 0
		}

		for idx < len(regions) && regions[idx].Offset < offset+diff {
			r := regions[idx]
			start := uint64(0)
			count := r.Count
			if r.Offset < offset {
				count -= offset - r.Offset
			}
			if r.Offset > offset {
				start = r.Offset - offset
			}
			if start+count > diff {
				count = diff - start
			}
			if _, err := io.ReadFull(content, buf[start:start+count]); err != nil {
				return wrapErr(KindIO, "read sparse file data", err)
			}
			if r.Offset+r.Count > offset+diff {
				// the rest of this region lands in the next block
				break
			}
			idx++
		}

		if err := d.flushDataBlock(n, buf, isLast, flags); err != nil {
			return err
		}
		offset += diff
	}

	return d.endFile(n, flags)
}

func (d *dataWriter) beginFile(n *Node, flags uint32) error {
	n.startBlk = 0
	if flags&dwAllignDevblk != 0 {
		if err := d.alignFile(); err != nil {
			return err
		}
	}
	n.startBlk = d.bf.Offset()
	n.sparse = 0
	n.blocks = n.blocks[:0]
	n.chksums = n.chksums[:0]
	return nil
}

func (d *dataWriter) endFile(n *Node, flags uint32) error {
	if flags&dwAllignDevblk != 0 {
		if err := d.alignFile(); err != nil {
			return err
		}
	}
	n.dedupNext = d.dedupHead
	d.dedupHead = n
	return nil
}

func (d *dataWriter) alignFile() error {
	if d.devBlockSize == 0 {
		return nil
	}
	return d.bf.PadTo(d.devBlockSize)
}

func isZeroBlock(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

func (d *dataWriter) writeCompressed(in []byte, flags uint32) (onDiskSize uint32, uncompressed bool, err error) {
	var compressed []byte
	if flags&dwDontCompress == 0 {
		compressed, err = d.comp.compress(in)
		if err != nil {
			return 0, false, err
		}
	}

	if compressed != nil && len(compressed) < len(in) {
		if err := d.bf.Write(compressed); err != nil {
			return 0, false, err
		}
		d.sb.BytesUsed += uint64(len(compressed))
		return uint32(len(compressed)), false, nil
	}

	if err := d.bf.Write(in); err != nil {
		return 0, false, err
	}
	d.sb.BytesUsed += uint64(len(in))
	return uint32(len(in)), true, nil
}

func (d *dataWriter) flushDataBlock(n *Node, region []byte, isLast bool, flags uint32) error {
	if isZeroBlock(region) {
		n.blocks = append(n.blocks, 0)
		n.chksums = append(n.chksums, 0)
		n.sparse += uint64(len(region))
		if isLast {
			return d.deduplicate(n)
		}
		return nil
	}

	chksum := crc32.ChecksumIEEE(region)

	if len(region) < int(d.blockSize) && flags&dwDontFragment == 0 {
		n.hasFragment = true

		if err := d.deduplicate(n); err != nil {
			return err
		}

		if ref, ok := d.findFragmentDuplicate(chksum, region); ok {
			n.fragChk = ref.fragChk
			n.fragOff = ref.fragOff
			n.fragIdx = ref.fragIdx
			n.fragLen = ref.fragLen
			n.fragmentIsDuplicate = true
			return nil
		}

		if uint32(len(d.fragBuf))+uint32(len(region)) > d.blockSize {
			if err := d.flushFragments(); err != nil {
				return err
			}
		}

		n.fragChk = chksum
		n.fragOff = uint32(len(d.fragBuf))
		n.fragIdx = d.fragTable.count()
		n.fragLen = uint32(len(region))
		d.fragBuf = append(d.fragBuf, region...)
		return nil
	}

	onDiskSize, uncompressed, err := d.writeCompressed(region, flags)
	if err != nil {
		return err
	}
	desc := onDiskSize
	if uncompressed {
		desc |= blockUncompressedBit
	}
	n.blocks = append(n.blocks, desc)
	n.chksums = append(n.chksums, chksum)

	if isLast {
		return d.deduplicate(n)
	}
	return nil
}

// deduplicate implements §4.4.1: find a previously written file whose
// block descriptors (on-disk sizes and CRC-32 checksums) equal n's block
// run so far, and if found, discard n's freshly written bytes by moving the
// write offset back to n's rollback point and truncating the image there.
// Only a file with the same number of blocks can match, and the stored
// bytes themselves are not compared. No-op once already marked, and for
// sparse-only files that stored zero blocks.
func (d *dataWriter) deduplicate(n *Node) error {
	if n.blocksAreDuplicate {
		return nil
	}
	stored := false
	for _, b := range n.blocks {
		if b != 0 {
			stored = true
			break
		}
	}
	if !stored {
		return nil
	}

	g := d.findEqualBlocks(n)
	if g == nil {
		return nil
	}

	rollback := n.startBlk
	d.sb.BytesUsed = rollback
	n.startBlk = g.startBlk
	n.blocksAreDuplicate = true
	d.bf.offset = rollback

	bfa, ok := d.bf.wa.(interface{ Truncate(int64) error })
	if !ok {
		return nil
	}
	return bfa.Truncate(int64(rollback))
}

// findEqualBlocks scans the dedup list for a file whose block descriptor
// vector (sizes and checksums) exactly matches n's so far.
func (d *dataWriter) findEqualBlocks(n *Node) *Node {
	for g := d.dedupHead; g != nil; g = g.dedupNext {
		if len(g.blocks) != len(n.blocks) {
			continue
		}
		match := true
		for i := range n.blocks {
			if g.blocks[i] != n.blocks[i] || g.chksums[i] != n.chksums[i] {
				match = false
				break
			}
		}
		if match {
			return g
		}
	}
	return nil
}

type fragRef struct {
	fragChk uint32
	fragOff uint32
	fragIdx uint32
	fragLen uint32
}

// findFragmentDuplicate looks for a previously written file whose fragment
// bytes are byte-identical to region, matched by (checksum, length).
func (d *dataWriter) findFragmentDuplicate(chksum uint32, region []byte) (fragRef, bool) {
	for g := d.dedupHead; g != nil; g = g.dedupNext {
		if !g.hasFragment || g.fragChk != chksum || g.fragLen != uint32(len(region)) {
			continue
		}
		// The candidate's own bytes no longer live in d.fragBuf once its
		// fragment block has been flushed, so byte-identity is assumed from
		// the checksum plus length match recorded at flush time; a CRC-32
		// collision on equal-length data is the only way this is wrong, the
		// same tradeoff the original implementation makes.
		return fragRef{fragChk: g.fragChk, fragOff: g.fragOff, fragIdx: g.fragIdx, fragLen: g.fragLen}, true
	}
	return fragRef{}, false
}

// flushFragments compresses the staging buffer, writes it like any other
// block, appends its (offset, size) to the fragment table, and flips the
// superblock's fragment-presence flags.
func (d *dataWriter) flushFragments() error {
	if len(d.fragBuf) == 0 {
		return nil
	}

	offset := d.bf.Offset()
	onDiskSize, uncompressed, err := d.writeCompressed(d.fragBuf, 0)
	if err != nil {
		return err
	}
	d.fragTable.add(offset, onDiskSize, uncompressed)
	d.fragBuf = d.fragBuf[:0]

	d.sb.Flags &^= NO_FRAGMENTS
	d.sb.Flags |= ALWAYS_FRAGMENTS
	return nil
}

// Sync flushes any partial fragment at end of build, matching
// data_writer_sync.
func (d *dataWriter) Sync() error {
	return d.flushFragments()
}

// WriteFragmentTable persists the accumulated fragment table and records
// its location/count in the superblock, or the absent-table sentinel when
// no fragments were ever written.
func (d *dataWriter) WriteFragmentTable() error {
	if d.fragTable.count() == 0 {
		d.sb.FragCount = 0
		d.sb.FragTableStart = noTable
		return nil
	}
	loc, err := d.fragTable.write(d.bf, d.comp)
	if err != nil {
		return err
	}
	d.sb.FragCount = d.fragTable.count()
	d.sb.FragTableStart = loc
	return nil
}
