package squashfs

import (
	"io"
	"io/fs"
	"path"
	"time"
)

// File adapts a regular-file Inode to fs.File (and io.ReaderAt/io.Seeker
// via the embedded SectionReader), grounded on the teacher's file.go.
type File struct {
	*io.SectionReader
	ino  *Inode
	name string
}

// FileDir adapts a directory Inode to fs.ReadDirFile, lazily creating its
// dirReader on first ReadDir call.
type FileDir struct {
	ino  *Inode
	name string
	r    *dirReader
}

type fileinfo struct {
	ino  *Inode
	name string
}

// direntry implements fs.DirEntry for one entry read from a dirReader.
type direntry struct {
	name string
	typ  Type
	inoR inodeRef
	sb   *Superblock
}

var (
	_ fs.File        = (*File)(nil)
	_ io.ReaderAt    = (*File)(nil)
	_ fs.ReadDirFile = (*FileDir)(nil)
	_ fs.FileInfo    = (*fileinfo)(nil)
	_ fs.DirEntry    = (*direntry)(nil)
)

// OpenFile returns a fs.File for ino. Directories get an fs.ReadDirFile;
// everything else gets a seekable io.ReaderAt-backed File.
func (ino *Inode) OpenFile(name string) fs.File {
	if ino.IsDir() {
		return &FileDir{ino: ino, name: name}
	}
	sec := io.NewSectionReader(ino, 0, int64(ino.Size))
	return &File{SectionReader: sec, ino: ino, name: name}
}

func (f *File) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: path.Base(f.name), ino: f.ino}, nil
}

func (f *File) Sys() any { return f.ino }

func (f *File) Close() error { return nil }

func (d *FileDir) Read(p []byte) (int, error) {
	return 0, wrapErr(KindInvalidArgument, "read directory", fs.ErrInvalid)
}

func (d *FileDir) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: path.Base(d.name), ino: d.ino}, nil
}

func (d *FileDir) Sys() any { return d.ino }

func (d *FileDir) Close() error {
	d.r = nil
	return nil
}

func (d *FileDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.r == nil {
		dr, err := newDirReader(d.ino.sb, d.ino)
		if err != nil {
			return nil, err
		}
		d.r = dr
	}
	return d.r.readDirEntries(d.ino.sb, n)
}

func (fi *fileinfo) Name() string { return fi.name }

func (fi *fileinfo) Size() int64 { return int64(fi.ino.Size) }

func (fi *fileinfo) Mode() fs.FileMode { return fi.ino.Mode() }

// ModTime returns the file's modification time. squashfs stores this as a
// signed 32-bit Unix timestamp, so it stops working after 2038.
func (fi *fileinfo) ModTime() time.Time {
	return time.Unix(int64(fi.ino.ModTime), 0)
}

func (fi *fileinfo) IsDir() bool { return fi.ino.IsDir() }

func (fi *fileinfo) Sys() any { return fi.ino }

func (de *direntry) Name() string { return de.name }

func (de *direntry) IsDir() bool { return de.typ.IsDir() }

func (de *direntry) Type() fs.FileMode { return de.typ.Mode() }

func (de *direntry) Info() (fs.FileInfo, error) {
	ino, err := de.sb.GetInodeRef(de.inoR)
	if err != nil {
		return nil, err
	}
	return &fileinfo{name: de.name, ino: ino}, nil
}
