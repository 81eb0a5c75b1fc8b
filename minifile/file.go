package minifile

import (
	"errors"
	"io"
)

// ErrBadMode is returned by Open for an unrecognised mode string.
var ErrBadMode = errors.New("minifile: unrecognised mode")

// mode is the parsed form of an fopen-style mode string (spec §4.10:
// "open(path, mode) implements r, w, a, and their + variants").
type mode struct {
	read, write, truncate, appendAt bool
	create                          bool
}

func parseMode(s string) (mode, error) {
	switch s {
	case "r":
		return mode{read: true}, nil
	case "r+":
		return mode{read: true, write: true}, nil
	case "w":
		return mode{write: true, truncate: true, create: true}, nil
	case "w+":
		return mode{read: true, write: true, truncate: true, create: true}, nil
	case "a":
		return mode{write: true, appendAt: true, create: true}, nil
	case "a+":
		return mode{read: true, write: true, appendAt: true, create: true}, nil
	default:
		return mode{}, ErrBadMode
	}
}

// File is an open file handle: a pinned inode reference plus a cursor.
type File struct {
	fs     *FS
	ci     *cachedInode
	num    uint64
	pos    int64
	mode   mode
	closed bool
}

// Creat creates (or truncates) a file at path relative to cwd, returning
// a handle positioned at offset 0 in write mode (spec §4.10).
func (fs *FS) Creat(path string, cwd uint64) (*File, error) {
	parent, name, err := fs.namei2(path, cwd)
	if err != nil {
		return nil, err
	}

	pci, err := fs.iget(parent)
	if err != nil {
		return nil, err
	}
	defer fs.iput(pci)

	pci.mu.Lock()
	if pci.inode.Type != TypeDirectory {
		pci.mu.Unlock()
		return nil, ErrNotDirectory
	}
	existing, lookupErr := fs.dirLookup(pci, name)
	pci.mu.Unlock()

	var num uint64
	if lookupErr == nil {
		num = existing
		ci, err := fs.iget(num)
		if err != nil {
			return nil, err
		}
		ci.mu.Lock()
		if ci.inode.Type == TypeDirectory {
			ci.mu.Unlock()
			fs.iput(ci)
			return nil, ErrIsDirectory
		}
		if err := fs.truncateLocked(ci); err != nil {
			ci.mu.Unlock()
			fs.iput(ci)
			return nil, err
		}
		ci.mu.Unlock()
		return &File{fs: fs, ci: ci, num: num, mode: mode{write: true}}, nil
	}

	num, err = fs.ialloc()
	if err != nil {
		return nil, err
	}
	if err := fs.writeInode(num, &diskInode{Type: TypeFile}); err != nil {
		return nil, err
	}

	pci.mu.Lock()
	insErr := fs.dirInsert(pci, name, num)
	pci.mu.Unlock()
	if insErr != nil {
		return nil, insErr
	}

	ci, err := fs.iget(num)
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, ci: ci, num: num, mode: mode{write: true}}, nil
}

// Open opens path under the given mode string ("r", "w", "a" and their
// "+" variants), relative to cwd.
func (fs *FS) Open(path string, modeStr string, cwd uint64) (*File, error) {
	m, err := parseMode(modeStr)
	if err != nil {
		return nil, err
	}

	num, err := fs.namei(path, cwd)
	if err != nil {
		if !m.create {
			return nil, err
		}
		f, err := fs.Creat(path, cwd)
		if err != nil {
			return nil, err
		}
		f.mode = m
		return f, nil
	}

	ci, err := fs.iget(num)
	if err != nil {
		return nil, err
	}

	ci.mu.Lock()
	if ci.inode.Type == TypeDirectory {
		ci.mu.Unlock()
		fs.iput(ci)
		return nil, ErrIsDirectory
	}
	if m.truncate {
		if err := fs.truncateLocked(ci); err != nil {
			ci.mu.Unlock()
			fs.iput(ci)
			return nil, err
		}
	}
	size := int64(ci.inode.Size)
	ci.mu.Unlock()

	f := &File{fs: fs, ci: ci, num: num, mode: m}
	if m.appendAt {
		f.pos = size
	}
	return f, nil
}

// truncateLocked frees every data block owned by ci and zeroes its size.
// Caller must hold ci.mu.
func (fs *FS) truncateLocked(ci *cachedInode) error {
	in := ci.inode
	if err := fs.freeInodeBlocks(&in); err != nil {
		return err
	}
	ci.inode = diskInode{Type: ci.inode.Type}
	ci.markDirty()
	return nil
}

// Read reads up to len(buf) bytes from the current cursor, returning
// io.EOF once the cursor reaches end-of-file.
func (f *File) Read(buf []byte) (int, error) {
	if f.closed {
		return 0, errors.New("minifile: read on closed file")
	}
	if !f.mode.read {
		return 0, errors.New("minifile: file not open for reading")
	}

	f.ci.mu.Lock()
	defer f.ci.mu.Unlock()

	size := int64(f.ci.inode.Size)
	if f.pos >= size {
		return 0, io.EOF
	}

	remaining := size - f.pos
	want := int64(len(buf))
	if want > remaining {
		want = remaining
	}

	read := int64(0)
	for read < want {
		blockIdx := uint64(f.pos) / BlockSize
		offInBlock := int(uint64(f.pos) % BlockSize)
		phys, ok, err := f.fs.blockmap(&f.ci.inode, blockIdx)
		if err != nil {
			return int(read), err
		}
		n := int64(BlockSize - offInBlock)
		if n > want-read {
			n = want - read
		}
		if ok {
			b, err := f.fs.cache.Bread(phys)
			if err != nil {
				return int(read), err
			}
			copy(buf[read:read+n], b.Data[offInBlock:offInBlock+int(n)])
			f.fs.cache.Brelse(b)
		} else {
			for i := int64(0); i < n; i++ {
				buf[read+i] = 0
			}
		}
		read += n
		f.pos += n
	}
	return int(read), nil
}

// Write writes len(buf) bytes at the current cursor, extending the file
// (and allocating new data/indirect blocks) when the cursor passes
// end-of-file (spec §4.10).
func (f *File) Write(buf []byte) (int, error) {
	if f.closed {
		return 0, errors.New("minifile: write on closed file")
	}
	if !f.mode.write {
		return 0, errors.New("minifile: file not open for writing")
	}

	f.ci.mu.Lock()
	defer f.ci.mu.Unlock()

	written := int64(0)
	total := int64(len(buf))
	for written < total {
		blockIdx := uint64(f.pos) / BlockSize
		offInBlock := int(uint64(f.pos) % BlockSize)
		n := int64(BlockSize - offInBlock)
		if n > total-written {
			n = total - written
		}

		phys, ok, err := f.fs.blockmap(&f.ci.inode, blockIdx)
		if err != nil {
			return int(written), err
		}
		if !ok {
			phys, err = f.fs.iaddBlock(f.ci, blockIdx)
			if err != nil {
				return int(written), err
			}
		}

		b, err := f.fs.cache.Bread(phys)
		if err != nil {
			return int(written), err
		}
		copy(b.Data[offInBlock:offInBlock+int(n)], buf[written:written+n])
		if err := f.fs.cache.Bwrite(b); err != nil {
			return int(written), err
		}

		written += n
		f.pos += n
		if uint64(f.pos) > f.ci.inode.Size {
			f.ci.inode.Size = uint64(f.pos)
			f.ci.markDirty()
		}
	}
	return int(written), nil
}

// Seek repositions the cursor, mirroring io.Seeker semantics.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.ci.mu.Lock()
	size := int64(f.ci.inode.Size)
	f.ci.mu.Unlock()

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = size + offset
	default:
		return 0, errors.New("minifile: bad whence")
	}
	if pos < 0 {
		return 0, errors.New("minifile: negative position")
	}
	f.pos = pos
	return pos, nil
}

// Close decrements the inode's reference count, per spec §4.10.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.fs.iput(f.ci)
}

// Inode returns the inode number backing this handle.
func (f *File) Inode() uint64 { return f.num }
