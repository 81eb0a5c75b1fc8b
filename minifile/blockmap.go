package minifile

import "encoding/binary"

// blockmap resolves data-block offset k within an inode to an absolute
// physical block number, walking direct and up to triple-indirect levels
// (spec §4.10). It returns ok=false if k has never been written (a hole).
func (fs *FS) blockmap(in *diskInode, k uint64) (blk uint64, ok bool, err error) {
	if k < DirectBlocks {
		blk = in.Direct[k]
		return blk, blk != 0, nil
	}
	k -= DirectBlocks

	if k < PointersPerBlock {
		return fs.indirectLookup(in.Indirect1, k)
	}
	k -= PointersPerBlock

	if k < PointersPerBlock*PointersPerBlock {
		return fs.doubleIndirectLookup(in.Indirect2, k)
	}
	k -= PointersPerBlock * PointersPerBlock

	return fs.tripleIndirectLookup(in.Indirect3, k)
}

func (fs *FS) indirectLookup(indirectBlock, k uint64) (uint64, bool, error) {
	if indirectBlock == 0 {
		return 0, false, nil
	}
	ptrs, err := fs.readPointerBlock(indirectBlock)
	if err != nil {
		return 0, false, err
	}
	return ptrs[k], ptrs[k] != 0, nil
}

func (fs *FS) doubleIndirectLookup(indirectBlock, k uint64) (uint64, bool, error) {
	if indirectBlock == 0 {
		return 0, false, nil
	}
	ptrs, err := fs.readPointerBlock(indirectBlock)
	if err != nil {
		return 0, false, err
	}
	return fs.indirectLookup(ptrs[k/PointersPerBlock], k%PointersPerBlock)
}

func (fs *FS) tripleIndirectLookup(indirectBlock, k uint64) (uint64, bool, error) {
	if indirectBlock == 0 {
		return 0, false, nil
	}
	ptrs, err := fs.readPointerBlock(indirectBlock)
	if err != nil {
		return 0, false, err
	}
	return fs.doubleIndirectLookup(ptrs[k/(PointersPerBlock*PointersPerBlock)], k%(PointersPerBlock*PointersPerBlock))
}

func (fs *FS) readPointerBlock(block uint64) ([]uint64, error) {
	buf, err := fs.cache.Bread(block)
	if err != nil {
		return nil, err
	}
	defer fs.cache.Brelse(buf)
	return decodePointers(buf.Data), nil
}

func decodePointers(data []byte) []uint64 {
	out := make([]uint64, PointersPerBlock)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(data[i*8 : i*8+8])
	}
	return out
}

func encodePointers(ptrs []uint64) []byte {
	out := make([]byte, BlockSize)
	for i, p := range ptrs {
		binary.BigEndian.PutUint64(out[i*8:i*8+8], p)
	}
	return out
}

// iaddBlock extends inode in with a freshly-allocated data block at
// offset k, allocating whatever indirect blocks are needed along the way,
// and returns the new block's physical number (spec §4.10: "extending a
// file with iadd_block allocates whichever indirect blocks are needed").
// Caller must hold the owning cachedInode's mutex.
func (fs *FS) iaddBlock(ci *cachedInode, k uint64) (uint64, error) {
	in := &ci.inode

	newBlock, err := fs.balloc()
	if err != nil {
		return 0, err
	}

	if k < DirectBlocks {
		in.Direct[k] = newBlock
		ci.markDirty()
		return newBlock, nil
	}
	k -= DirectBlocks

	if k < PointersPerBlock {
		if err := fs.setIndirectSlot(&in.Indirect1, k, newBlock); err != nil {
			return 0, err
		}
		ci.markDirty()
		return newBlock, nil
	}
	k -= PointersPerBlock

	if k < PointersPerBlock*PointersPerBlock {
		if err := fs.setDoubleIndirectSlot(&in.Indirect2, k, newBlock); err != nil {
			return 0, err
		}
		ci.markDirty()
		return newBlock, nil
	}
	k -= PointersPerBlock * PointersPerBlock

	if err := fs.setTripleIndirectSlot(&in.Indirect3, k, newBlock); err != nil {
		return 0, err
	}
	ci.markDirty()
	return newBlock, nil
}

func (fs *FS) setIndirectSlot(indirectBlock *uint64, k, value uint64) error {
	if *indirectBlock == 0 {
		nb, err := fs.balloc()
		if err != nil {
			return err
		}
		*indirectBlock = nb
		if err := fs.writePointerBlock(nb, make([]uint64, PointersPerBlock)); err != nil {
			return err
		}
	}
	ptrs, err := fs.readPointerBlock(*indirectBlock)
	if err != nil {
		return err
	}
	ptrs[k] = value
	return fs.writePointerBlock(*indirectBlock, ptrs)
}

func (fs *FS) setDoubleIndirectSlot(indirectBlock *uint64, k, value uint64) error {
	if *indirectBlock == 0 {
		nb, err := fs.balloc()
		if err != nil {
			return err
		}
		*indirectBlock = nb
		if err := fs.writePointerBlock(nb, make([]uint64, PointersPerBlock)); err != nil {
			return err
		}
	}
	ptrs, err := fs.readPointerBlock(*indirectBlock)
	if err != nil {
		return err
	}
	slot := k / PointersPerBlock
	if err := fs.setIndirectSlot(&ptrs[slot], k%PointersPerBlock, value); err != nil {
		return err
	}
	return fs.writePointerBlock(*indirectBlock, ptrs)
}

func (fs *FS) setTripleIndirectSlot(indirectBlock *uint64, k, value uint64) error {
	if *indirectBlock == 0 {
		nb, err := fs.balloc()
		if err != nil {
			return err
		}
		*indirectBlock = nb
		if err := fs.writePointerBlock(nb, make([]uint64, PointersPerBlock)); err != nil {
			return err
		}
	}
	ptrs, err := fs.readPointerBlock(*indirectBlock)
	if err != nil {
		return err
	}
	slot := k / (PointersPerBlock * PointersPerBlock)
	if err := fs.setDoubleIndirectSlot(&ptrs[slot], k%(PointersPerBlock*PointersPerBlock), value); err != nil {
		return err
	}
	return fs.writePointerBlock(*indirectBlock, ptrs)
}

func (fs *FS) writePointerBlock(block uint64, ptrs []uint64) error {
	buf, err := fs.cache.Bread(block)
	if err != nil {
		return err
	}
	copy(buf.Data, encodePointers(ptrs))
	return fs.cache.Bwrite(buf)
}

// freeInodeBlocks releases every data block (including indirects) owned
// by in, per spec §4.10's iput: "release all data blocks (including
// indirects) and clear the bitmap bit".
func (fs *FS) freeInodeBlocks(in *diskInode) error {
	for _, d := range in.Direct {
		if d != 0 {
			if err := fs.bfree(d); err != nil {
				return err
			}
		}
	}
	if err := fs.freeIndirect(in.Indirect1, 0); err != nil {
		return err
	}
	if err := fs.freeIndirect(in.Indirect2, 1); err != nil {
		return err
	}
	return fs.freeIndirect(in.Indirect3, 2)
}

// freeIndirect recursively frees an indirect block tree depth levels deep
// (0 = leaf pointers to data blocks).
func (fs *FS) freeIndirect(block uint64, depth int) error {
	if block == 0 {
		return nil
	}
	ptrs, err := fs.readPointerBlock(block)
	if err != nil {
		return err
	}
	for _, p := range ptrs {
		if p == 0 {
			continue
		}
		if depth == 0 {
			if err := fs.bfree(p); err != nil {
				return err
			}
		} else if err := fs.freeIndirect(p, depth-1); err != nil {
			return err
		}
	}
	return fs.bfree(block)
}
