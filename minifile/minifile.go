package minifile

import (
	"strings"

	"github.com/joeycumines/minikernel/minithread"
)

// CurrentDir returns the calling thread's current-working-directory
// inode number, defaulting to the root when the thread has never called
// Cd (spec §4.10: "Per-thread current working directory... stored in the
// TCB as an inode number").
func CurrentDir() uint64 {
	th := minithread.Self()
	if th == nil {
		return RootInode
	}
	if v, ok := th.UserData().(uint64); ok && v != 0 {
		return v
	}
	return RootInode
}

func setCurrentDir(n uint64) {
	if th := minithread.Self(); th != nil {
		th.SetUserData(n)
	}
}

// Mkdir creates a directory at path relative to cwd: a new DIRECTORY
// inode with its first data block holding "." and "..", inserted into
// the parent by name (spec §4.10).
func (fs *FS) Mkdir(path string, cwd uint64) error {
	parent, name, err := fs.namei2(path, cwd)
	if err != nil {
		return err
	}

	pci, err := fs.iget(parent)
	if err != nil {
		return err
	}
	defer fs.iput(pci)

	pci.mu.Lock()
	if pci.inode.Type != TypeDirectory {
		pci.mu.Unlock()
		return ErrNotDirectory
	}
	if _, lookupErr := fs.dirLookup(pci, name); lookupErr == nil {
		pci.mu.Unlock()
		return ErrExists
	}
	pci.mu.Unlock()

	num, err := fs.ialloc()
	if err != nil {
		return err
	}
	if err := fs.writeInode(num, &diskInode{Type: TypeDirectory}); err != nil {
		return err
	}

	ci, err := fs.iget(num)
	if err != nil {
		return err
	}
	ci.mu.Lock()
	err = fs.dirInit(ci, num, parent)
	ci.mu.Unlock()
	if err != nil {
		fs.iput(ci)
		return err
	}
	if err := fs.iput(ci); err != nil {
		return err
	}

	pci.mu.Lock()
	err = fs.dirInsert(pci, name, num)
	pci.mu.Unlock()
	return err
}

// Rmdir removes an empty directory (spec §4.10): refuses if non-empty,
// marks the child TO_DELETE, removes the parent entry, and relies on the
// child's final iput to reclaim its blocks and inode.
func (fs *FS) Rmdir(path string, cwd uint64) error {
	num, err := fs.namei(path, cwd)
	if err != nil {
		return err
	}
	if num == RootInode {
		return ErrIsRoot
	}

	ci, err := fs.iget(num)
	if err != nil {
		return err
	}

	ci.mu.Lock()
	if ci.inode.Type != TypeDirectory {
		ci.mu.Unlock()
		fs.iput(ci)
		return ErrNotDirectory
	}
	empty, err := fs.dirIsEmpty(ci)
	ci.mu.Unlock()
	if err != nil {
		fs.iput(ci)
		return err
	}
	if !empty {
		fs.iput(ci)
		return ErrNotEmpty
	}

	parent, name, err := fs.namei2(path, cwd)
	if err != nil {
		fs.iput(ci)
		return err
	}
	pci, err := fs.iget(parent)
	if err != nil {
		fs.iput(ci)
		return err
	}
	pci.mu.Lock()
	err = fs.dirRemove(pci, name)
	pci.mu.Unlock()
	fs.iput(pci)
	if err != nil {
		fs.iput(ci)
		return err
	}

	ci.mu.Lock()
	ci.toDelete = true
	ci.mu.Unlock()
	return fs.iput(ci)
}

// Unlink removes a file: the directory entry is dropped and the inode is
// marked TO_DELETE, reclaimed once its last reference is released (spec
// §4.10).
func (fs *FS) Unlink(path string, cwd uint64) error {
	parent, name, err := fs.namei2(path, cwd)
	if err != nil {
		return err
	}
	pci, err := fs.iget(parent)
	if err != nil {
		return err
	}
	defer fs.iput(pci)

	pci.mu.Lock()
	num, lookupErr := fs.dirLookup(pci, name)
	pci.mu.Unlock()
	if lookupErr != nil {
		return lookupErr
	}

	ci, err := fs.iget(num)
	if err != nil {
		return err
	}
	ci.mu.Lock()
	if ci.inode.Type == TypeDirectory {
		ci.mu.Unlock()
		fs.iput(ci)
		return ErrIsDirectory
	}
	ci.toDelete = true
	ci.mu.Unlock()

	pci.mu.Lock()
	err = fs.dirRemove(pci, name)
	pci.mu.Unlock()
	if err != nil {
		fs.iput(ci)
		return err
	}
	return fs.iput(ci)
}

// Stat returns the size in bytes of the file at path, or ErrIsDirectory
// if it names a directory (spec §7: "stat returns -1 for missing, -2 for
// directories, otherwise byte size" — replaced with explicit errors per
// the error-propagation redesign guidance).
func (fs *FS) Stat(path string, cwd uint64) (int64, error) {
	num, err := fs.namei(path, cwd)
	if err != nil {
		return 0, err
	}
	ci, err := fs.iget(num)
	if err != nil {
		return 0, err
	}
	defer fs.iput(ci)

	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.inode.Type == TypeDirectory {
		return 0, ErrIsDirectory
	}
	return int64(ci.inode.Size), nil
}

// Cd changes the calling thread's current working directory to path.
func (fs *FS) Cd(path string) error {
	num, err := fs.namei(path, CurrentDir())
	if err != nil {
		return err
	}
	ci, err := fs.iget(num)
	if err != nil {
		return err
	}
	defer fs.iput(ci)

	ci.mu.Lock()
	isDir := ci.inode.Type == TypeDirectory
	ci.mu.Unlock()
	if !isDir {
		return ErrNotDirectory
	}

	setCurrentDir(num)
	return nil
}

// Pwd reconstructs the calling thread's current directory path by
// repeatedly visiting ".." (spec §4.10).
func (fs *FS) Pwd() (string, error) {
	var parts []string
	current := CurrentDir()

	for current != RootInode {
		ci, err := fs.iget(current)
		if err != nil {
			return "", err
		}
		ci.mu.Lock()
		parentNum, lookupErr := fs.dirLookup(ci, "..")
		ci.mu.Unlock()
		if lookupErr != nil {
			fs.iput(ci)
			return "", lookupErr
		}

		pci, err := fs.iget(parentNum)
		if err != nil {
			fs.iput(ci)
			return "", err
		}
		pci.mu.Lock()
		entries, listErr := fs.dirListEntries(pci)
		pci.mu.Unlock()
		fs.iput(pci)
		fs.iput(ci)
		if listErr != nil {
			return "", listErr
		}

		name, ok := nameOfChild(entries, current)
		if !ok {
			return "", ErrNotFound
		}
		parts = append([]string{name}, parts...)
		current = parentNum
	}

	return "/" + strings.Join(parts, "/"), nil
}

// nameOfChild finds which entry (excluding "." and "..") refers to child.
func nameOfChild(entries []dirEntry, child uint64) (string, bool) {
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if e.Inode == child {
			return e.Name, true
		}
	}
	return "", false
}

// Ls lists the contents of the directory at path (excluding "." and
// "..").
func (fs *FS) Ls(path string, cwd uint64) ([]string, error) {
	num, err := fs.namei(path, cwd)
	if err != nil {
		return nil, err
	}
	ci, err := fs.iget(num)
	if err != nil {
		return nil, err
	}
	defer fs.iput(ci)

	ci.mu.Lock()
	isDir := ci.inode.Type == TypeDirectory
	names, err := fs.dirList(ci)
	ci.mu.Unlock()
	if !isDir {
		return nil, ErrNotDirectory
	}
	if err != nil {
		return nil, err
	}

	out := names[:0:0]
	for _, n := range names {
		if n != "." && n != ".." {
			out = append(out, n)
		}
	}
	return out, nil
}
