package squashfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// Open opens name as a SquashFS image and parses its superblock, the
// top-level entry point mirroring the teacher's list_squashfs.go example
// usage (squashfs.Open(path), then walk it as an io/fs.FS). The returned
// Superblock owns the underlying file and must be closed with Close.
func Open(name string, opts ...Option) (*Superblock, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, wrapErr(KindIO, "open", err)
	}
	sb, err := New(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	sb.closer = f
	return sb, nil
}

// Close releases the underlying file, if Superblock was obtained via Open.
// It is a no-op for a Superblock built directly with New over a caller-owned
// io.ReaderAt.
func (s *Superblock) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

var (
	_ fs.FS         = (*Superblock)(nil)
	_ fs.ReadDirFS  = (*Superblock)(nil)
	_ fs.StatFS     = (*Superblock)(nil)
	_ fs.GlobFS     = (*Superblock)(nil)
	_ fs.ReadFileFS = (*Superblock)(nil)
)

// resolve walks name from the root, following symlinks, translating the
// squashfs error taxonomy into the io/fs one the standard library expects
// from an fs.FS implementation.
func (s *Superblock) resolve(op, name string) (*Inode, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	if name == "." {
		return root, nil
	}
	ino, err := root.LookupRelativeInodePath(context.Background(), name)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: toFsError(err)}
	}
	return ino, nil
}

func toFsError(err error) error {
	if e, ok := err.(*Error); ok {
		switch e.Kind {
		case KindNoEntry:
			return fs.ErrNotExist
		case KindInvalidArgument:
			return fs.ErrInvalid
		}
	}
	return err
}

// Open implements io/fs.FS.
func (s *Superblock) Open(name string) (fs.File, error) {
	ino, err := s.resolve("open", name)
	if err != nil {
		return nil, err
	}
	return ino.OpenFile(name), nil
}

// Stat implements io/fs.StatFS.
func (s *Superblock) Stat(name string) (fs.FileInfo, error) {
	ino, err := s.resolve("stat", name)
	if err != nil {
		return nil, err
	}
	return &fileinfo{ino: ino, name: path.Base(name)}, nil
}

// ReadDir implements io/fs.ReadDirFS.
func (s *Superblock) ReadDir(name string) ([]fs.DirEntry, error) {
	ino, err := s.resolve("readdir", name)
	if err != nil {
		return nil, err
	}
	if !ino.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}
	dr, err := newDirReader(s, ino)
	if err != nil {
		return nil, err
	}
	entries, err := dr.readDirEntries(s, -1)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// ReadFile implements io/fs.ReadFileFS.
func (s *Superblock) ReadFile(name string) ([]byte, error) {
	ino, err := s.resolve("read", name)
	if err != nil {
		return nil, err
	}
	if ino.IsDir() {
		return nil, &fs.PathError{Op: "read", Path: name, Err: ErrNotDirectory}
	}
	buf := make([]byte, ino.Size)
	if _, err := io.ReadFull(io.NewSectionReader(ino, 0, int64(ino.Size)), buf); err != nil {
		return nil, wrapErr(KindIO, "read", err)
	}
	return buf, nil
}

// FindInode resolves an inode purely by number via the NFS export table,
// without walking from root. Returns ErrInodeNotExported if the image was
// not built with WithExportTable (§3's export table, gated by EXPORTABLE).
func (s *Superblock) FindInode(ino uint32) (*Inode, error) {
	ref, err := lookupExport(s, ino)
	if err != nil {
		return nil, err
	}
	return s.GetInodeRef(ref)
}

// Glob implements io/fs.GlobFS. Grounded on the standard library's
// path/filepath glob algorithm, simplified to this package's needs: no "**"
// support, and directories are read through ReadDir rather than the OS.
func (s *Superblock) Glob(pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	if !hasMeta(pattern) {
		if _, err := s.Stat(pattern); err != nil {
			return nil, nil
		}
		return []string{pattern}, nil
	}

	dir, file := path.Split(pattern)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "."
	}

	if hasMeta(dir) {
		dirs, err := s.Glob(dir)
		if err != nil {
			return nil, err
		}
		var matches []string
		for _, d := range dirs {
			m, err := s.globDir(d, file)
			if err != nil {
				return nil, err
			}
			matches = append(matches, m...)
		}
		return matches, nil
	}
	return s.globDir(dir, file)
}

func (s *Superblock) globDir(dir, pattern string) ([]string, error) {
	entries, err := s.ReadDir(dir)
	if err != nil {
		return nil, nil
	}
	var matches []string
	for _, e := range entries {
		ok, err := path.Match(pattern, e.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if dir == "." {
			matches = append(matches, e.Name())
		} else {
			matches = append(matches, dir+"/"+e.Name())
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
