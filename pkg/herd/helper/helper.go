package helper

import (
	"encoding/binary"
	"hash/fnv"
	"net"

	"github.com/pborman/uuid"
)

// GenerateUID creates a process unique name, used to register
// endpoints on the underlying transport.
func GenerateUID() string {
	return uuid.New()
}

// AddrBytes packs an address into the 16 byte wire form. IPv6
// addresses are used natively, an IPv4 address is zero padded into
// the last four bytes.
func AddrBytes(ip net.IP) [16]byte {
	var buf [16]byte
	if v4 := ip.To4(); v4 != nil {
		copy(buf[12:], v4)
		return buf
	}
	copy(buf[:], ip.To16())
	return buf
}

// NodeIdFromAddr derives the numeric node id the group layer assigns
// to an address. IPv4 addresses map directly, anything else is
// hashed down to 32 bits.
func NodeIdFromAddr(ip net.IP) uint32 {
	if v4 := ip.To4(); v4 != nil {
		return binary.BigEndian.Uint32(v4)
	}
	h := fnv.New32a()
	h.Write(ip)
	return h.Sum32()
}
