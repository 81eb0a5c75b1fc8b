package miniroute

import (
	"encoding/binary"
	"errors"

	"github.com/joeycumines/minikernel/netaddr"
)

// PacketType is the 1-byte route header discriminant (spec §4.8).
type PacketType byte

const (
	Data PacketType = iota
	Discovery
	Reply
)

func (t PacketType) String() string {
	switch t {
	case Data:
		return "DATA"
	case Discovery:
		return "DISCOVERY"
	case Reply:
		return "REPLY"
	default:
		return "UNKNOWN"
	}
}

// MaxRouteLength is the initial TTL and the maximum number of hops a path
// may record, per spec §4.8.
const MaxRouteLength = 20

// headerFixedSize is type(1) + dest(8) + id(4) + ttl(4) + pathLen(4).
const headerFixedSize = 1 + netaddr.Size + 4 + 4 + 4

// Header is the route-layer packet header: spec §6 "Route header".
type Header struct {
	Type PacketType
	Dest netaddr.Address
	ID   uint32
	TTL  uint32
	Path []netaddr.Address // self at index 0, destination at the last index
}

// ErrPathTooLong is returned by Pack when Path exceeds MaxRouteLength hops.
var ErrPathTooLong = errors.New("miniroute: path exceeds MaxRouteLength")

// Pack encodes h followed by payload into a single wire buffer.
func Pack(h Header, payload []byte) ([]byte, error) {
	if len(h.Path) > MaxRouteLength {
		return nil, ErrPathTooLong
	}
	size := headerFixedSize + len(h.Path)*netaddr.Size
	buf := make([]byte, size+len(payload))
	buf[0] = byte(h.Type)
	h.Dest.Put(buf[1 : 1+netaddr.Size])
	off := 1 + netaddr.Size
	binary.BigEndian.PutUint32(buf[off:off+4], h.ID)
	off += 4
	binary.BigEndian.PutUint32(buf[off:off+4], h.TTL)
	off += 4
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(h.Path)))
	off += 4
	for _, hop := range h.Path {
		hop.Put(buf[off : off+netaddr.Size])
		off += netaddr.Size
	}
	copy(buf[size:], payload)
	return buf, nil
}

// ErrShortPacket is returned by Unpack when b is too small to hold a valid
// header, or claims a path length that doesn't fit.
var ErrShortPacket = errors.New("miniroute: packet too short for route header")

// Unpack parses a Header plus trailing payload from b.
func Unpack(b []byte) (Header, []byte, error) {
	if len(b) < headerFixedSize {
		return Header{}, nil, ErrShortPacket
	}
	var h Header
	h.Type = PacketType(b[0])
	h.Dest = netaddr.Parse(b[1 : 1+netaddr.Size])
	off := 1 + netaddr.Size
	h.ID = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	h.TTL = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	pathLen := binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	if pathLen > MaxRouteLength || len(b) < off+int(pathLen)*netaddr.Size {
		return Header{}, nil, ErrShortPacket
	}
	h.Path = make([]netaddr.Address, pathLen)
	for i := range h.Path {
		h.Path[i] = netaddr.Parse(b[off : off+netaddr.Size])
		off += netaddr.Size
	}
	return h, b[off:], nil
}
