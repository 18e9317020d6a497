package squashfs

import (
	"fmt"
	"sync"
)

// SquashComp identifies the block compression algorithm recorded in the
// superblock. The core treats compressors as pluggable black boxes selected
// by this id; it never looks inside a specific backend.
type SquashComp uint16

const (
	GZip SquashComp = 1
	LZMA SquashComp = 2
	LZO  SquashComp = 3
	XZ   SquashComp = 4
	LZ4  SquashComp = 5
	ZSTD SquashComp = 6
)

func (s SquashComp) String() string {
	switch s {
	case GZip:
		return "GZip"
	case LZMA:
		return "LZMA"
	case LZO:
		return "LZO"
	case XZ:
		return "XZ"
	case LZ4:
		return "LZ4"
	case ZSTD:
		return "ZSTD"
	}
	return fmt.Sprintf("SquashComp(%d)", s)
}

// CompHandler implements the compress/decompress contract of spec.md §4.1
// for one algorithm id. Compress may return nil (not an error) to ask for
// the block to be stored raw; callers also store it raw when the returned
// output is not smaller than the input, so "output would not shrink" is
// not an error but a normal "store raw" outcome.
type CompHandler struct {
	Compress   func(in []byte) ([]byte, error)
	Decompress func(in []byte, rawSize int) ([]byte, error)
}

var (
	compRegistryMu sync.RWMutex
	compRegistry   = map[SquashComp]*CompHandler{}
)

// RegisterCompHandler installs the compressor implementation for id,
// overwriting any previous registration. Compression backends call this
// from an init() func, the way comp_xz.go and comp_zstd.go do.
func RegisterCompHandler(id SquashComp, h *CompHandler) {
	compRegistryMu.Lock()
	defer compRegistryMu.Unlock()
	compRegistry[id] = h
}

func (s SquashComp) handler() (*CompHandler, error) {
	compRegistryMu.RLock()
	h, ok := compRegistry[s]
	compRegistryMu.RUnlock()
	if !ok {
		return nil, wrapErr(KindUnsupported, "compressor", fmt.Errorf("%w: %s", ErrUnsupportedCompressor, s))
	}
	return h, nil
}

// compress returns the compressed form of in, or nil if storing the block
// raw is smaller or equal, per the block writer's "store raw" fallback.
func (s SquashComp) compress(in []byte) ([]byte, error) {
	h, err := s.handler()
	if err != nil {
		return nil, err
	}
	out, err := h.Compress(in)
	if err != nil {
		return nil, wrapErr(KindIO, "compress", err)
	}
	if out == nil || len(out) >= len(in) {
		return nil, nil
	}
	return out, nil
}

// decompress inflates a compressed block. rawSize is the uncompressed size
// the caller expects (a metadata block is always exactly 8192 bytes
// uncompressed except for a final partial block; a data block is at most
// the filesystem's block size) and is used to preallocate the output.
func (s SquashComp) decompress(in []byte, rawSize int) ([]byte, error) {
	h, err := s.handler()
	if err != nil {
		return nil, err
	}
	out, err := h.Decompress(in, rawSize)
	if err != nil {
		return nil, wrapErr(KindCorrupt, "decompress", err)
	}
	return out, nil
}
