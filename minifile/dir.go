package minifile

import (
	"encoding/binary"
	"errors"
	"strings"
)

var (
	// ErrNameTooLong is returned when a name is DirNameLen bytes or
	// longer.
	ErrNameTooLong = errors.New("minifile: name too long")
	// ErrNotDirectory is returned when a path component that should be a
	// directory isn't.
	ErrNotDirectory = errors.New("minifile: not a directory")
	// ErrIsDirectory is returned when a file operation targets a
	// directory.
	ErrIsDirectory = errors.New("minifile: is a directory")
	// ErrNotFound is returned by namei/lookup when a path component
	// doesn't exist.
	ErrNotFound = errors.New("minifile: no such file or directory")
	// ErrExists is returned when creating an entry that already exists.
	ErrExists = errors.New("minifile: already exists")
	// ErrNotEmpty is returned by rmdir on a non-empty directory.
	ErrNotEmpty = errors.New("minifile: directory not empty")
	// ErrIsRoot is returned when attempting to remove the root directory.
	ErrIsRoot = errors.New("minifile: cannot remove root")
)

type dirEntry struct {
	Name  string
	Inode uint64
}

func packDirEntry(e dirEntry) []byte {
	buf := make([]byte, DirEntrySize)
	copy(buf[:DirNameLen], e.Name)
	binary.BigEndian.PutUint64(buf[DirNameLen:], e.Inode)
	return buf
}

func unpackDirEntry(buf []byte) dirEntry {
	end := 0
	for end < DirNameLen && buf[end] != 0 {
		end++
	}
	return dirEntry{
		Name:  string(buf[:end]),
		Inode: binary.BigEndian.Uint64(buf[DirNameLen:]),
	}
}

// forEachDirBlock reads every data block belonging to ci's directory
// content and hands it to visit; visit returns true to stop early.
func (fs *FS) forEachDirBlock(ci *cachedInode, visit func(block []byte, blockIdx uint64) bool) error {
	blocks := ci.inode.blockCount()
	for k := uint64(0); k < blocks; k++ {
		phys, ok, err := fs.blockmap(&ci.inode, k)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		buf, err := fs.cache.Bread(phys)
		if err != nil {
			return err
		}
		stop := visit(buf.Data, k)
		fs.cache.Brelse(buf)
		if stop {
			return nil
		}
	}
	return nil
}

func (fs *FS) dirLookup(ci *cachedInode, name string) (uint64, error) {
	var found uint64
	err := fs.forEachDirBlock(ci, func(block []byte, _ uint64) bool {
		for off := 0; off+DirEntrySize <= len(block); off += DirEntrySize {
			e := unpackDirEntry(block[off : off+DirEntrySize])
			if e.Inode != 0 && e.Name == name {
				found = e.Inode
				return true
			}
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, ErrNotFound
	}
	return found, nil
}

// dirInsert writes a new (name, inodeNum) entry into the first free slot,
// extending the directory by one block if every existing block is full.
func (fs *FS) dirInsert(ci *cachedInode, name string, inodeNum uint64) error {
	if len(name) >= DirNameLen {
		return ErrNameTooLong
	}

	placed := false
	var writeErr error
	err := fs.forEachDirBlock(ci, func(block []byte, blockIdx uint64) bool {
		for off := 0; off+DirEntrySize <= len(block); off += DirEntrySize {
			e := unpackDirEntry(block[off : off+DirEntrySize])
			if e.Inode == 0 {
				copy(block[off:off+DirEntrySize], packDirEntry(dirEntry{Name: name, Inode: inodeNum}))
				phys, _, _ := fs.blockmap(&ci.inode, blockIdx)
				writeErr = fs.writeBlockRaw(phys, block)
				placed = true
				return true
			}
		}
		return false
	})
	if err != nil {
		return err
	}
	if placed {
		return writeErr
	}

	k := ci.inode.blockCount()
	phys, err := fs.iaddBlock(ci, k)
	if err != nil {
		return err
	}
	ci.inode.Size = (k + 1) * BlockSize
	ci.markDirty()

	block := make([]byte, BlockSize)
	copy(block[:DirEntrySize], packDirEntry(dirEntry{Name: name, Inode: inodeNum}))
	return fs.writeBlockRaw(phys, block)
}

func (fs *FS) dirRemove(ci *cachedInode, name string) error {
	removed := false
	var writeErr error
	err := fs.forEachDirBlock(ci, func(block []byte, blockIdx uint64) bool {
		for off := 0; off+DirEntrySize <= len(block); off += DirEntrySize {
			e := unpackDirEntry(block[off : off+DirEntrySize])
			if e.Inode != 0 && e.Name == name {
				for i := off; i < off+DirEntrySize; i++ {
					block[i] = 0
				}
				phys, _, _ := fs.blockmap(&ci.inode, blockIdx)
				writeErr = fs.writeBlockRaw(phys, block)
				removed = true
				return true
			}
		}
		return false
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

func (fs *FS) writeBlockRaw(block uint64, data []byte) error {
	buf, err := fs.cache.Bread(block)
	if err != nil {
		return err
	}
	copy(buf.Data, data)
	return fs.cache.Bwrite(buf)
}

// dirInit allocates the first data block of a newly-created directory
// inode and writes the "." and ".." entries (spec §4.10's mkdir
// contract, factored out since the root directory needs the same
// bootstrapping).
func (fs *FS) dirInit(ci *cachedInode, self, parent uint64) error {
	phys, err := fs.iaddBlock(ci, 0)
	if err != nil {
		return err
	}
	ci.inode.Size = BlockSize
	ci.markDirty()

	block := make([]byte, BlockSize)
	copy(block[0:DirEntrySize], packDirEntry(dirEntry{Name: ".", Inode: self}))
	copy(block[DirEntrySize:2*DirEntrySize], packDirEntry(dirEntry{Name: "..", Inode: parent}))
	return fs.writeBlockRaw(phys, block)
}

// dirIsEmpty reports whether ci's directory holds only "." and "..".
func (fs *FS) dirIsEmpty(ci *cachedInode) (bool, error) {
	empty := true
	err := fs.forEachDirBlock(ci, func(block []byte, _ uint64) bool {
		for off := 0; off+DirEntrySize <= len(block); off += DirEntrySize {
			e := unpackDirEntry(block[off : off+DirEntrySize])
			if e.Inode != 0 && e.Name != "." && e.Name != ".." {
				empty = false
				return true
			}
		}
		return false
	})
	return empty, err
}

// dirList returns every entry name in ci's directory, including "." and
// "..".
func (fs *FS) dirList(ci *cachedInode) ([]string, error) {
	entries, err := fs.dirListEntries(ci)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// dirListEntries returns every (name, inode) entry in ci's directory,
// including "." and "..".
func (fs *FS) dirListEntries(ci *cachedInode) ([]dirEntry, error) {
	var entries []dirEntry
	err := fs.forEachDirBlock(ci, func(block []byte, _ uint64) bool {
		for off := 0; off+DirEntrySize <= len(block); off += DirEntrySize {
			e := unpackDirEntry(block[off : off+DirEntrySize])
			if e.Inode != 0 {
				entries = append(entries, e)
			}
		}
		return false
	})
	return entries, err
}

// namei splits path on "/" and walks inodes from root (absolute paths) or
// from cwd (relative paths), per spec §4.10. It returns the resolved
// inode number of the final component and holds no inode reference
// afterwards; a caller that needs the inode takes its own with iget and
// releases it with iput.
func (fs *FS) namei(path string, cwd uint64) (uint64, error) {
	if path == "" {
		return cwd, nil
	}

	current := cwd
	if strings.HasPrefix(path, "/") {
		current = RootInode
	}

	parts := strings.Split(path, "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		ci, err := fs.iget(current)
		if err != nil {
			return 0, err
		}
		ci.mu.Lock()
		if ci.inode.Type != TypeDirectory || ci.toDelete {
			ci.mu.Unlock()
			fs.iput(ci)
			return 0, ErrNotDirectory
		}
		next, lookupErr := fs.dirLookup(ci, part)
		ci.mu.Unlock()
		if err := fs.iput(ci); err != nil {
			return 0, err
		}
		if lookupErr != nil {
			return 0, lookupErr
		}
		current = next
	}
	return current, nil
}

// namei2 resolves path to (parentInode, finalComponentName), for
// operations (mkdir, unlink, creat) that need to insert or remove an
// entry in the parent directory.
func (fs *FS) namei2(path string, cwd uint64) (parent uint64, name string, err error) {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		parent = cwd
		name = path
	} else {
		dir := path[:idx]
		if dir == "" {
			dir = "/"
		}
		parent, err = fs.namei(dir, cwd)
		if err != nil {
			return 0, "", err
		}
		name = path[idx+1:]
	}
	if name == "" {
		return 0, "", ErrNotFound
	}
	return parent, name, nil
}
