// Package net implements IPv4 prefix arithmetic used by the RIB's
// longest-prefix-match trie. It is named net, like the teacher's package,
// and is imported under the alias tnet where it would otherwise collide
// with the standard library net package.
package net

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Prefix represents an IPv4 prefix as a 32-bit address and a length.
type Prefix struct {
	addr   uint32
	pfxlen uint8
}

// NewPfx creates a new Prefix.
func NewPfx(addr uint32, pfxlen uint8) *Prefix {
	return &Prefix{
		addr:   addr,
		pfxlen: pfxlen,
	}
}

// NewPfxFromBytes creates a Prefix from a 4-byte big-endian address.
func NewPfxFromBytes(addr [4]byte, pfxlen uint8) *Prefix {
	return &Prefix{
		addr:   binary.BigEndian.Uint32(addr[:]),
		pfxlen: pfxlen,
	}
}

// Addr returns the address of the prefix.
func (pfx *Prefix) Addr() uint32 {
	return pfx.addr
}

// Pfxlen returns the length of the prefix.
func (pfx *Prefix) Pfxlen() uint8 {
	return pfx.pfxlen
}

// Bytes returns the address as a 4-byte big-endian array.
func (pfx *Prefix) Bytes() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], pfx.addr)
	return b
}

// String returns a string representation of pfx.
func (pfx *Prefix) String() string {
	b := pfx.Bytes()
	return fmt.Sprintf("%s/%d", net.IP(b[:]), pfx.pfxlen)
}

// Contains checks if x is a strict subnet of pfx (longer prefix, same
// leading pfx.Pfxlen() bits). An equal prefix is not contained.
func (pfx *Prefix) Contains(x *Prefix) bool {
	if x.pfxlen <= pfx.pfxlen {
		return false
	}

	mask := ^uint32(0) << (32 - pfx.pfxlen)
	return (pfx.addr & mask) == (x.addr & mask)
}

// Equal checks if pfx and x are equal.
func (pfx *Prefix) Equal(x *Prefix) bool {
	return *pfx == *x
}

// GetSupernet gets the next common supernet of pfx and x.
func (pfx *Prefix) GetSupernet(x *Prefix) *Prefix {
	maxPfxLen := minU8(pfx.pfxlen, x.pfxlen) - 1
	a := pfx.addr >> (32 - maxPfxLen)
	b := x.addr >> (32 - maxPfxLen)

	for a != b {
		a = a >> 1
		b = b >> 1
		maxPfxLen--
	}

	return &Prefix{
		addr:   a << (32 - maxPfxLen),
		pfxlen: maxPfxLen,
	}
}

func minU8(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}
