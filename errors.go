package squashfs

import (
	"errors"
	"fmt"
)

// Kind classifies a squashfs error so callers can react programmatically
// without string-matching, per the error taxonomy of the format: IO,
// Corrupt, Unsupported, Sequence, NoEntry, Alloc and InvalidArgument.
type Kind int

const (
	// KindIO covers read/write/seek/truncate failures on the backing file.
	// These are always fatal to the in-progress operation.
	KindIO Kind = iota + 1
	// KindCorrupt covers header magic mismatches, out-of-range references
	// and malformed block headers.
	KindCorrupt
	// KindUnsupported covers unknown compressor ids, unknown inode types
	// and flag combinations this implementation cannot honor.
	KindUnsupported
	// KindSequence covers reader state machine misuse, e.g. read() before
	// open() or get_inode() with no current entry.
	KindSequence
	// KindNoEntry covers directory-cache misses and exhausted find().
	KindNoEntry
	// KindAlloc covers allocation failures.
	KindAlloc
	// KindInvalidArgument covers malformed caller input, such as an
	// unordered or oversize sparse map.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCorrupt:
		return "corrupt"
	case KindUnsupported:
		return "unsupported"
	case KindSequence:
		return "sequence"
	case KindNoEntry:
		return "no entry"
	case KindAlloc:
		return "alloc"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error makes a Kind usable as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error wraps an underlying cause with a Kind and a short description of
// what was being attempted, so errors.Is/As keep working against both the
// Kind and the legacy sentinel values below.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("squashfs: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("squashfs: %s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, KindCorrupt) work directly against a Kind value in
// addition to the usual sentinel-error comparisons.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return false
}

func wrapErr(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Package-specific error variables that can be used with errors.Is() for
// error handling; kept for backward compatibility with callers matching on
// these sentinels directly.
var (
	// ErrInvalidFile is returned when the file format is not recognized as SquashFS
	ErrInvalidFile = errors.New("invalid file, squashfs signature not found")

	// ErrInvalidSuper is returned when the superblock data is corrupted or invalid
	ErrInvalidSuper = errors.New("invalid squashfs superblock")

	// ErrInvalidVersion is returned when the SquashFS version is not 4.0
	// This library only supports SquashFS 4.0 format
	ErrInvalidVersion = errors.New("invalid file version, expected squashfs 4.0")

	// ErrInodeNotExported is returned when trying to access an inode that isn't in the export table
	ErrInodeNotExported = errors.New("unknown squashfs inode and no NFS export table")

	// ErrNotDirectory is returned when attempting to perform directory operations on a non-directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrTooManySymlinks is returned when symlink resolution exceeds the maximum depth
	ErrTooManySymlinks = errors.New("too many levels of symbolic links")

	// ErrUnsupportedCompressor is returned for a compressor id the core does not recognize.
	ErrUnsupportedCompressor = errors.New("unsupported compressor")

	// ErrSequence is returned when directory-reader methods are called out of order.
	ErrSequence = errors.New("squashfs: directory reader used out of sequence")

	// ErrNoEntry is returned when find() exhausts a directory without a match,
	// or the directory cache is missing a reference it is asked for.
	ErrNoEntry = errors.New("squashfs: no such directory entry")

	// ErrInvalidArgument is returned for malformed caller input such as an
	// unordered or over-sized sparse map.
	ErrInvalidArgument = errors.New("squashfs: invalid argument")
)
