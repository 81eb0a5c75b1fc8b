// Package netaddr implements the two-word network address used by every
// wire header in this kernel (spec §6): "addresses are two 32-bit words
// (IPv4 + UDP port) packed big-endian." It is the common currency between
// miniroute, minimsg, and minisocket headers.
package netaddr

import "encoding/binary"

// Size is the packed wire size of an Address, in bytes.
const Size = 8

// Address is a host IPv4 address plus a UDP port, the addressing unit for
// every kernel protocol layered over the host network.
type Address struct {
	IP   [4]byte
	Port uint32
}

// Put writes a packed to b[:Size] in big-endian order.
func (a Address) Put(b []byte) {
	_ = b[Size-1]
	copy(b[0:4], a.IP[:])
	binary.BigEndian.PutUint32(b[4:8], a.Port)
}

// Bytes returns the packed Size-byte encoding of a.
func (a Address) Bytes() []byte {
	b := make([]byte, Size)
	a.Put(b)
	return b
}

// Parse decodes an Address from b[:Size].
func Parse(b []byte) Address {
	_ = b[Size-1]
	var a Address
	copy(a.IP[:], b[0:4])
	a.Port = binary.BigEndian.Uint32(b[4:8])
	return a
}

// Equal reports whether a and other name the same host and port.
func (a Address) Equal(other Address) bool {
	return a.IP == other.IP && a.Port == other.Port
}

func (a Address) String() string {
	return ipString(a.IP) + ":" + uitoa(a.Port)
}

func ipString(ip [4]byte) string {
	b := make([]byte, 0, 15)
	for i, octet := range ip {
		if i > 0 {
			b = append(b, '.')
		}
		b = append(b, []byte(uitoa(uint32(octet)))...)
	}
	return string(b)
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
