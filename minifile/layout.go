// Package minifile implements the on-disk filesystem (spec §4.10): a
// bitmap-allocated superblock layout, a fixed-size in-memory inode cache
// over a bufcache.Cache, direct/indirect block mapping, directories, and
// per-thread current-working-directory path resolution.
//
// Grounded on the original's minifile_fs.h/minifile_inode.h/
// minifile_inodetable.h for the inode cache and block-map shape; the
// original's own allocator used a linked free list rather than a bitmap,
// but spec §4.10 explicitly calls for bitmap-based balloc/ialloc, so the
// bitmap package (itself grounded on the original's bitmap.c) replaces it.
package minifile

import "github.com/joeycumines/minikernel/disk"

const (
	// BlockSize is the filesystem's unit of allocation, matching the
	// underlying disk.
	BlockSize = disk.BlockSize

	// PointersPerBlock is how many 8-byte block numbers a single indirect
	// block holds (spec §4.10: "next 512 blocks... 512² ... 512³").
	PointersPerBlock = BlockSize / 8

	// DirectBlocks is the number of direct block pointers an inode holds
	// (spec §4.10: "0 ≤ k < 11: direct[k]").
	DirectBlocks = 11

	// MaxFileBlocks is the number of blocks an inode can address (offsets
	// 0..MaxFileBlocks-1): direct + single + double + triple indirect.
	MaxFileBlocks = DirectBlocks +
		PointersPerBlock +
		PointersPerBlock*PointersPerBlock +
		PointersPerBlock*PointersPerBlock*PointersPerBlock

	// MaxFileSize is MaxFileBlocks expressed in bytes.
	MaxFileSize = int64(MaxFileBlocks) * int64(BlockSize)

	// DirNameLen is the fixed width of a directory entry's name field.
	DirNameLen = 56

	// DirEntrySize is name bytes followed by an 8-byte inode number,
	// chosen so BlockSize divides evenly (spec §4.10: "Directory entries
	// fit an integral number per block").
	DirEntrySize = DirNameLen + 8

	// DirEntriesPerBlock is how many directory entries fit in one block.
	DirEntriesPerBlock = BlockSize / DirEntrySize

	// RootInode is the inode number of the filesystem root (spec §4.10:
	// "root inode number = 1").
	RootInode = 1

	// inodeSize is the packed on-disk size of one inode record: 1-byte
	// type + 8-byte size + 11 direct + 3 indirect block numbers (8 bytes
	// each), padded so BlockSize divides evenly.
	inodeSize = 128

	// InodesPerBlock is how many on-disk inodes fit in one block (spec
	// §4.10: "Inode size fits an integral number per block").
	InodesPerBlock = BlockSize / inodeSize

	// magic is the superblock's fixed 32-bit identifier (spec §6).
	magic = 0x4d494e49 // "MINI"
)
