package minifile

import (
	"sync"

	"github.com/joeycumines/minikernel/bitmap"
	"github.com/joeycumines/minikernel/bufcache"
	"github.com/joeycumines/minikernel/disk"
	"github.com/joeycumines/minikernel/klog"
)

var log = klog.Default().With("minifile")

// SetLogger overrides the subsystem logger used by minifile.
func SetLogger(l klog.Logger) { log = l.With("minifile") }

// FS is an open filesystem instance: a superblock, its two bitmaps kept
// resident in memory, and an inode cache, all layered over a single
// bufcache.Cache.
//
// Locking follows spec §5's shared-resource policy directly: fsLock
// (filesys_lock) guards the superblock and both bitmaps; the inode table
// carries its own lock (itab); each cached inode carries its own mutex.
type FS struct {
	cache *bufcache.Cache

	fsLock sync.Mutex
	sb     superblock
	ibmap  *bitmap.Bitmap
	bbmap  *bitmap.Bitmap

	itab *inodeTable
}

// Mkfs formats dev with n blocks and returns the freshly-created root
// directory's FS handle, per spec §6's "mkfs n tool formats a disk file
// of n blocks".
func Mkfs(dev *disk.Device, n uint64) (*FS, error) {
	cache := bufcache.New(dev)
	sb := formatSuperblock(n)

	fs := &FS{cache: cache, sb: sb}

	fs.ibmap = bitmap.New(int(sb.TotalInodes))
	fs.bbmap = bitmap.New(int(sb.TotalBlocks))
	// Inode 0 is never handed out (a zero inode number marks an empty
	// directory entry), so its bit is pre-marked used along with the root
	// inode (1) and every reserved/control block.
	fs.ibmap.Set(0)
	fs.sb.FreeInodes--
	fs.ibmap.Set(RootInode)
	for b := uint64(0); b < sb.FirstDataBlock; b++ {
		fs.bbmap.Set(int(b))
	}

	if err := fs.persistSuperblock(); err != nil {
		return nil, err
	}
	if err := fs.persistBitmaps(); err != nil {
		return nil, err
	}

	fs.itab = newInodeTable()

	root := diskInode{Type: TypeDirectory}
	if err := fs.writeInode(RootInode, &root); err != nil {
		return nil, err
	}
	rootIn, err := fs.iget(RootInode)
	if err != nil {
		return nil, err
	}
	defer fs.iput(rootIn)
	if err := fs.dirInit(rootIn, RootInode, RootInode); err != nil {
		return nil, err
	}

	return fs, nil
}

// Open mounts an already-formatted disk.
func Open(dev *disk.Device) (*FS, error) {
	cache := bufcache.New(dev)
	buf, err := cache.Bread(0)
	if err != nil {
		return nil, err
	}
	sb := unpackSuperblock(buf.Data)
	cache.Brelse(buf)
	if err := sb.validate(); err != nil {
		return nil, err
	}

	fs := &FS{cache: cache, sb: sb, itab: newInodeTable()}
	fs.ibmap = bitmap.New(int(sb.TotalInodes))
	fs.bbmap = bitmap.New(int(sb.TotalBlocks))
	if err := fs.loadBitmaps(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FS) persistSuperblock() error {
	buf, err := fs.cache.Bread(0)
	if err != nil {
		return err
	}
	fs.sb.pack(buf.Data)
	return fs.cache.Bwrite(buf)
}

func (fs *FS) persistBitmaps() error {
	for i := uint64(0); i < fs.sb.InodeBitmapCount; i++ {
		if err := fs.persistBitmapBlock(fs.ibmap, fs.sb.InodeBitmapStart+i, i); err != nil {
			return err
		}
	}
	for i := uint64(0); i < fs.sb.BlockBitmapCount; i++ {
		if err := fs.persistBitmapBlock(fs.bbmap, fs.sb.BlockBitmapStart+i, i); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) persistBitmapBlock(b *bitmap.Bitmap, diskBlock, bitmapBlockIdx uint64) error {
	buf, err := fs.cache.Bread(diskBlock)
	if err != nil {
		return err
	}
	lo := int(bitmapBlockIdx) * BlockSize * 8
	hi := lo + BlockSize*8
	if hi > b.Len() {
		hi = b.Len()
	}
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	for bit := lo; bit < hi; bit++ {
		if b.Get(bit) {
			relBit := bit - lo
			buf.Data[relBit>>3] |= 1 << uint(relBit&7)
		}
	}
	return fs.cache.Bwrite(buf)
}

func (fs *FS) loadBitmaps() error {
	if err := fs.loadBitmap(fs.ibmap, fs.sb.InodeBitmapStart, fs.sb.InodeBitmapCount); err != nil {
		return err
	}
	return fs.loadBitmap(fs.bbmap, fs.sb.BlockBitmapStart, fs.sb.BlockBitmapCount)
}

func (fs *FS) loadBitmap(b *bitmap.Bitmap, start, count uint64) error {
	for i := uint64(0); i < count; i++ {
		buf, err := fs.cache.Bread(start + i)
		if err != nil {
			return err
		}
		lo := int(i) * BlockSize * 8
		hi := lo + BlockSize*8
		if hi > b.Len() {
			hi = b.Len()
		}
		for bit := lo; bit < hi; bit++ {
			relBit := bit - lo
			if buf.Data[relBit>>3]&(1<<uint(relBit&7)) != 0 {
				b.Set(bit)
			}
		}
		fs.cache.Brelse(buf)
	}
	return nil
}

// inodeLocation returns the raw on-disk block number containing inode n,
// and n's offset within that block.
func (fs *FS) inodeLocation(n uint64) (block uint64, offset int) {
	idx := n - 1 // inode numbers are 1-based
	block = fs.sb.FirstInodeBlock + idx/uint64(InodesPerBlock)
	offset = int(idx%uint64(InodesPerBlock)) * inodeSize
	return
}

func (fs *FS) readInode(n uint64) (diskInode, error) {
	block, offset := fs.inodeLocation(n)
	buf, err := fs.cache.Bread(block)
	if err != nil {
		return diskInode{}, err
	}
	defer fs.cache.Brelse(buf)
	return unpackInode(buf.Data[offset : offset+inodeSize]), nil
}

// FreeBlocks returns the in-memory free-block counter (spec §8 property
// 13 exercises this against the persisted bitmap).
func (fs *FS) FreeBlocks() uint64 {
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()
	return fs.sb.FreeBlocks
}

// FreeInodes returns the in-memory free-inode counter.
func (fs *FS) FreeInodes() uint64 {
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()
	return fs.sb.FreeInodes
}

// CountZeroBlockBits recomputes the free-block count directly from the
// persisted block-bitmap blocks, independent of the in-memory bitmap or
// the superblock counter.
func (fs *FS) CountZeroBlockBits() (int, error) {
	return fs.countZeroBits(fs.sb.BlockBitmapStart, fs.sb.BlockBitmapCount, int(fs.sb.TotalBlocks))
}

// CountZeroInodeBits is CountZeroBlockBits' inode-bitmap counterpart.
func (fs *FS) CountZeroInodeBits() (int, error) {
	return fs.countZeroBits(fs.sb.InodeBitmapStart, fs.sb.InodeBitmapCount, int(fs.sb.TotalInodes))
}

func (fs *FS) countZeroBits(start, count uint64, totalBits int) (int, error) {
	b := bitmap.New(totalBits)
	if err := fs.loadBitmap(b, start, count); err != nil {
		return 0, err
	}
	return b.CountZero(), nil
}

func (fs *FS) writeInode(n uint64, in *diskInode) error {
	block, offset := fs.inodeLocation(n)
	buf, err := fs.cache.Bread(block)
	if err != nil {
		return err
	}
	in.pack(buf.Data[offset : offset+inodeSize])
	return fs.cache.Bwrite(buf)
}
