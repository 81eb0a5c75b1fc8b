package minifile

import "errors"

// ErrNoSpace is returned by balloc/ialloc when the respective bitmap has
// no free bit left.
var ErrNoSpace = errors.New("minifile: no free space")

// balloc scans the block bitmap for the first zero bit, sets it, persists
// the affected bitmap block, decrements the free-block counter, and
// returns the allocated block's absolute physical block number. The
// bitmap spans the whole device (0..TotalBlocks-1) with every reserved
// metadata block pre-marked used, so the returned bit is already the
// number Bread/Bwrite expect (spec §4.10).
func (fs *FS) balloc() (uint64, error) {
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()

	bit := fs.bbmap.NextZero()
	if bit < 0 {
		return 0, ErrNoSpace
	}
	fs.bbmap.Set(bit)
	fs.sb.FreeBlocks--
	if err := fs.persistBitmapBlock(fs.bbmap, fs.sb.BlockBitmapStart+uint64(bit)/(BlockSize*8), uint64(bit)/(BlockSize*8)); err != nil {
		return 0, err
	}
	if err := fs.persistSuperblock(); err != nil {
		return 0, err
	}
	return uint64(bit), nil
}

// bfree clears bit n in the block bitmap. Idempotent on an already-free
// bit.
func (fs *FS) bfree(n uint64) error {
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()

	if !fs.bbmap.Get(int(n)) {
		return nil
	}
	fs.bbmap.Clear(int(n))
	fs.sb.FreeBlocks++
	if err := fs.persistBitmapBlock(fs.bbmap, fs.sb.BlockBitmapStart+n/(BlockSize*8), n/(BlockSize*8)); err != nil {
		return err
	}
	return fs.persistSuperblock()
}

// ialloc scans the inode bitmap for the first zero bit, sets it, persists
// the affected bitmap block, decrements the free-inode counter, and
// returns the allocated inode number (1-based).
func (fs *FS) ialloc() (uint64, error) {
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()

	bit := fs.ibmap.NextZero()
	if bit < 0 {
		return 0, ErrNoSpace
	}
	fs.ibmap.Set(bit)
	fs.sb.FreeInodes--
	if err := fs.persistBitmapBlock(fs.ibmap, fs.sb.InodeBitmapStart+uint64(bit)/(BlockSize*8), uint64(bit)/(BlockSize*8)); err != nil {
		return 0, err
	}
	if err := fs.persistSuperblock(); err != nil {
		return 0, err
	}
	return uint64(bit), nil
}

// ifree clears inode n's bit. Idempotent on an already-free bit.
func (fs *FS) ifree(n uint64) error {
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()

	if !fs.ibmap.Get(int(n)) {
		return nil
	}
	fs.ibmap.Clear(int(n))
	fs.sb.FreeInodes++
	if err := fs.persistBitmapBlock(fs.ibmap, fs.sb.InodeBitmapStart+n/(BlockSize*8), n/(BlockSize*8)); err != nil {
		return err
	}
	return fs.persistSuperblock()
}
