// Package minimsg implements the unreliable datagram layer from spec §4.6:
// unbounded (listening) and bounded (sending) ports over miniroute.
package minimsg

import (
	"encoding/binary"
	"errors"

	"github.com/joeycumines/minikernel/netaddr"
)

// Protocol is the 1-byte discriminant miniroute uses to dispatch a DATA
// payload to this package instead of minisocket (spec §6, and the
// original's PROTOCOL_MINIDATAGRAM).
//
// The distilled spec claims a 19-byte datagram header, but enumerates five
// fields (1 + 8 + 2 + 8 + 2 = 21); the original mini_header struct
// (miniheader.h) is unambiguous at 21 bytes, and the two application-level
// port fields are load-bearing (they address a specific miniport, distinct
// from the UDP port folded into netaddr.Address), so this implementation
// follows the original's byte count rather than the spec's arithmetic.
// See DESIGN.md.
const Protocol byte = 1

// HeaderSize is the packed wire size of a Header.
const HeaderSize = 1 + netaddr.Size + 2 + netaddr.Size + 2

// MaxMsgSize is the largest payload Send will accept, matching the
// original's MINIMSG_MAX_MSG_SIZE.
const MaxMsgSize = 4096

// Header is the datagram wire header.
type Header struct {
	SrcAddr netaddr.Address
	SrcPort uint16
	DstAddr netaddr.Address
	DstPort uint16
}

// ErrTooLarge is returned by Send when the payload exceeds MaxMsgSize.
var ErrTooLarge = errors.New("minimsg: payload exceeds MaxMsgSize")

// ErrShortPacket is returned by parseHeader when the buffer is too small.
var ErrShortPacket = errors.New("minimsg: packet too short for datagram header")

func (h Header) pack(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = Protocol
	off := 1
	h.SrcAddr.Put(buf[off : off+netaddr.Size])
	off += netaddr.Size
	binary.BigEndian.PutUint16(buf[off:off+2], h.SrcPort)
	off += 2
	h.DstAddr.Put(buf[off : off+netaddr.Size])
	off += netaddr.Size
	binary.BigEndian.PutUint16(buf[off:off+2], h.DstPort)
	off += 2
	copy(buf[off:], payload)
	return buf
}

func parseHeader(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, ErrShortPacket
	}
	var h Header
	off := 1 // skip protocol byte, already matched by the dispatcher
	h.SrcAddr = netaddr.Parse(b[off : off+netaddr.Size])
	off += netaddr.Size
	h.SrcPort = binary.BigEndian.Uint16(b[off : off+2])
	off += 2
	h.DstAddr = netaddr.Parse(b[off : off+netaddr.Size])
	off += netaddr.Size
	h.DstPort = binary.BigEndian.Uint16(b[off : off+2])
	off += 2
	return h, b[off:], nil
}
