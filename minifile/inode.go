package minifile

import "encoding/binary"

// Type distinguishes inode kinds, replacing the original's itype_t union
// tag (spec's Design Notes: "Replace itype_t with a sum type").
type Type byte

const (
	TypeEmpty Type = iota
	TypeFile
	TypeDirectory
)

// diskInode is the on-disk inode record, grounded on the original's
// struct disk_inode (minifile_fs.h), reduced from 12 to 11 direct
// pointers and given an explicit triple-indirect slot per spec §4.10.
type diskInode struct {
	Type      Type
	Size      uint64
	Direct    [DirectBlocks]uint64
	Indirect1 uint64
	Indirect2 uint64
	Indirect3 uint64
}

func (in *diskInode) pack(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	buf[0] = byte(in.Type)
	binary.BigEndian.PutUint64(buf[1:9], in.Size)
	off := 9
	for _, d := range in.Direct {
		binary.BigEndian.PutUint64(buf[off:off+8], d)
		off += 8
	}
	binary.BigEndian.PutUint64(buf[off:off+8], in.Indirect1)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], in.Indirect2)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], in.Indirect3)
}

func unpackInode(buf []byte) diskInode {
	var in diskInode
	in.Type = Type(buf[0])
	in.Size = binary.BigEndian.Uint64(buf[1:9])
	off := 9
	for i := range in.Direct {
		in.Direct[i] = binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
	}
	in.Indirect1 = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	in.Indirect2 = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	in.Indirect3 = binary.BigEndian.Uint64(buf[off : off+8])
	return in
}

// blockCount returns the number of data blocks Size bytes occupies.
func (in *diskInode) blockCount() uint64 {
	return (in.Size + BlockSize - 1) / BlockSize
}
