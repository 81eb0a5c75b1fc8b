package minifile

import (
	"encoding/binary"
	"errors"
)

// ErrBadMagic is returned by validate when a disk's superblock doesn't
// carry the expected magic number.
var ErrBadMagic = errors.New("minifile: bad superblock magic")

// superblock is the on-disk layout header (spec §6: "Block 0 =
// superblock with magic number... block count, inode count, first-inode
// block, inode-bitmap range, block-bitmap range, first-data block, free
// counters, root inode number").
//
// Open question resolution: spec §4.10's sblock_format(sb, N) computes
// both an inode-block count (from N/INODE_PER_BLOCK) and a bitmap-block
// count (from N/BITS_PER_BLOCK) off the same N, which only holds together
// if total inode budget equals total block count. Format therefore sizes
// the inode bitmap to exactly as many bits as there are blocks on the
// disk (one inode slot budgeted per block) — documented in DESIGN.md.
type superblock struct {
	Magic uint32

	TotalBlocks uint64
	TotalInodes uint64

	InodeBitmapStart uint64
	InodeBitmapCount uint64
	BlockBitmapStart uint64
	BlockBitmapCount uint64

	FirstInodeBlock uint64
	InodeBlockCount uint64

	FirstDataBlock uint64

	FreeInodes uint64
	FreeBlocks uint64

	RootInode uint64
}

const superblockPackedSize = 4 + 8*12

func (sb *superblock) pack(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], sb.Magic)
	fields := []uint64{
		sb.TotalBlocks, sb.TotalInodes,
		sb.InodeBitmapStart, sb.InodeBitmapCount,
		sb.BlockBitmapStart, sb.BlockBitmapCount,
		sb.FirstInodeBlock, sb.InodeBlockCount,
		sb.FirstDataBlock,
		sb.FreeInodes, sb.FreeBlocks,
	}
	off := 4
	for _, f := range fields {
		binary.BigEndian.PutUint64(buf[off:off+8], f)
		off += 8
	}
	binary.BigEndian.PutUint64(buf[off:off+8], sb.RootInode)
}

func unpackSuperblock(buf []byte) superblock {
	var sb superblock
	sb.Magic = binary.BigEndian.Uint32(buf[0:4])
	vals := make([]uint64, 12)
	off := 4
	for i := range vals {
		vals[i] = binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
	}
	sb.TotalBlocks, sb.TotalInodes = vals[0], vals[1]
	sb.InodeBitmapStart, sb.InodeBitmapCount = vals[2], vals[3]
	sb.BlockBitmapStart, sb.BlockBitmapCount = vals[4], vals[5]
	sb.FirstInodeBlock, sb.InodeBlockCount = vals[6], vals[7]
	sb.FirstDataBlock = vals[8]
	sb.FreeInodes, sb.FreeBlocks = vals[9], vals[10]
	sb.RootInode = vals[11]
	return sb
}

func ceilDiv(a, b uint64) uint64 { return (a + b - 1) / b }

// formatSuperblock computes the layout for an n-block disk, per spec
// §4.10's sblock_format.
func formatSuperblock(n uint64) superblock {
	bitsPerBlock := uint64(BlockSize * 8)

	sb := superblock{
		Magic:       magic,
		TotalBlocks: n,
		TotalInodes: n,
		RootInode:   RootInode,
	}

	sb.InodeBitmapStart = 1
	sb.InodeBitmapCount = ceilDiv(sb.TotalInodes, bitsPerBlock)
	sb.BlockBitmapStart = sb.InodeBitmapStart + sb.InodeBitmapCount
	sb.BlockBitmapCount = ceilDiv(sb.TotalBlocks, bitsPerBlock)
	sb.FirstInodeBlock = sb.BlockBitmapStart + sb.BlockBitmapCount
	sb.InodeBlockCount = ceilDiv(sb.TotalInodes, uint64(InodesPerBlock))
	sb.FirstDataBlock = sb.FirstInodeBlock + sb.InodeBlockCount

	sb.FreeInodes = sb.TotalInodes - 1 // root inode is pre-allocated
	sb.FreeBlocks = sb.TotalBlocks - sb.FirstDataBlock

	return sb
}

func (sb *superblock) validate() error {
	if sb.Magic != magic {
		return ErrBadMagic
	}
	return nil
}
