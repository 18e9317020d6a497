package squashfs

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

// squashfs internal modes are based on linux, so UnixToMode/ModeToUnix
// translate against the same S_IF*/S_IS* bit layout the kernel (and
// golang.org/x/sys/unix) uses.

const (
	S_IFMT   = unix.S_IFMT
	S_IFREG  = unix.S_IFREG
	S_IFDIR  = unix.S_IFDIR
	S_IFBLK  = unix.S_IFBLK
	S_IFCHR  = unix.S_IFCHR
	S_IFIFO  = unix.S_IFIFO
	S_IFLNK  = unix.S_IFLNK
	S_IFSOCK = unix.S_IFSOCK

	S_ISVTX = unix.S_ISVTX
	S_ISGID = unix.S_ISGID
	S_ISUID = unix.S_ISUID
)

func UnixToMode(mode uint32) fs.FileMode {
	res := fs.FileMode(mode & 0777)

	switch mode & S_IFMT {
	case S_IFCHR:
		res |= fs.ModeCharDevice | fs.ModeDevice
	case S_IFBLK:
		res |= fs.ModeDevice
	case S_IFDIR:
		res |= fs.ModeDir
	case S_IFIFO:
		res |= fs.ModeNamedPipe
	case S_IFLNK:
		res |= fs.ModeSymlink
	case S_IFSOCK:
		res |= fs.ModeSocket
	}

	// extra flags
	if mode&S_ISGID == S_ISGID {
		res |= fs.ModeSetgid
	}

	if mode&S_ISUID == S_ISUID {
		res |= fs.ModeSetuid
	}

	if mode&S_ISVTX == S_ISVTX {
		res |= fs.ModeSticky
	}

	return res
}

func ModeToUnix(mode fs.FileMode) uint32 {
	res := uint32(mode.Perm())

	// type of file
	switch {
	case mode&fs.ModeCharDevice == fs.ModeCharDevice:
		res |= S_IFCHR
	case mode&fs.ModeDevice == fs.ModeDevice:
		res |= S_IFBLK
	case mode&fs.ModeDir == fs.ModeDir:
		res |= S_IFDIR
	case mode&fs.ModeNamedPipe == fs.ModeNamedPipe:
		res |= S_IFIFO
	case mode&fs.ModeSymlink == fs.ModeSymlink:
		res |= S_IFLNK
	case mode&fs.ModeSocket == fs.ModeSocket:
		res |= S_IFSOCK
	default:
		res |= S_IFREG
	}

	// extra flags
	if mode&fs.ModeSetgid == fs.ModeSetgid {
		res |= S_ISGID
	}

	if mode&fs.ModeSetuid == fs.ModeSetuid {
		res |= S_ISUID
	}

	if mode&fs.ModeSticky == fs.ModeSticky {
		res |= S_ISVTX
	}

	return res
}

// devNumbers splits a device number into Linux-style major/minor numbers,
// and makeDev packs them back, the way a squashfs device inode stores them:
// (major << 8) | minor for the low 20 bits, with the high bits of major in
// the upper part — matching unix.Mkdev's layout so device nodes round-trip
// through os.Stat_t.Rdev.
func devNumbers(rdev uint64) (major, minor uint32) {
	return uint32(unix.Major(rdev)), uint32(unix.Minor(rdev))
}

func makeDev(major, minor uint32) uint64 {
	return unix.Mkdev(major, minor)
}
