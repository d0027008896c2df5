// Package cidr implements IPv4 CIDR arithmetic for split-tunnel routing.
//
// The central operation is Cutouts, which computes the minimal set of
// disjoint blocks covering an included network minus a set of excluded
// sub-networks. Everything in this package is pure computation with no I/O.
package cidr

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/netfence/wifisplit/internal/errors"
)

// Block is an IPv4 CIDR block in canonical form: host bits beyond the
// prefix length are always zero. The zero value is 0.0.0.0/0.
type Block struct {
	addr      uint32
	prefixLen uint8
}

// NewBlock builds a Block from a numeric address and prefix length,
// normalizing host bits rather than rejecting non-canonical input.
// Prefix lengths above 32 are clamped to 32.
func NewBlock(addr uint32, prefixLen uint8) Block {
	if prefixLen > 32 {
		prefixLen = 32
	}
	return Block{addr: addr & maskFor(prefixLen), prefixLen: prefixLen}
}

// Parse parses "a.b.c.d/n" (or a bare "a.b.c.d", treated as /32) into a
// Block. The result is normalized. Returns an INVALID_CIDR error for a
// malformed address or a prefix length outside [0,32].
func Parse(s string) (Block, error) {
	addrPart := s
	prefixLen := 32

	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		addrPart = s[:idx]
		n, err := strconv.Atoi(s[idx+1:])
		if err != nil {
			return Block{}, errors.NewInvalidCIDR(fmt.Sprintf("invalid prefix length in %q", s), err)
		}
		if n < 0 || n > 32 {
			return Block{}, errors.Newf(errors.ErrCodeInvalidCIDR, "prefix length %d out of range [0,32] in %q", n, s)
		}
		prefixLen = n
	}

	ip := net.ParseIP(addrPart)
	if ip == nil || ip.To4() == nil {
		return Block{}, errors.Newf(errors.ErrCodeInvalidCIDR, "invalid IPv4 address in %q", s)
	}

	return NewBlock(ipToUint32(ip.To4()), uint8(prefixLen)), nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// compile-time constants.
func MustParse(s string) Block {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// FromIPNet converts a *net.IPNet (IPv4) into a Block.
func FromIPNet(n *net.IPNet) (Block, error) {
	if n == nil || n.IP.To4() == nil {
		return Block{}, errors.New(errors.ErrCodeInvalidCIDR, "not an IPv4 network")
	}
	ones, bits := n.Mask.Size()
	if bits != 32 {
		return Block{}, errors.Newf(errors.ErrCodeInvalidCIDR, "unexpected mask width %d", bits)
	}
	return NewBlock(ipToUint32(n.IP.To4()), uint8(ones)), nil
}

// Addr returns the network address.
func (b Block) Addr() net.IP {
	return uint32ToIP(b.addr)
}

// PrefixLen returns the prefix length.
func (b Block) PrefixLen() int {
	return int(b.prefixLen)
}

// String returns the canonical "a.b.c.d/n" form.
func (b Block) String() string {
	return fmt.Sprintf("%s/%d", uint32ToIP(b.addr), b.prefixLen)
}

// IPNet converts the block to a *net.IPNet.
func (b Block) IPNet() *net.IPNet {
	return &net.IPNet{
		IP:   uint32ToIP(b.addr),
		Mask: net.CIDRMask(int(b.prefixLen), 32),
	}
}

// Size returns the number of addresses covered by the block.
func (b Block) Size() uint64 {
	return uint64(1) << (32 - b.prefixLen)
}

// First returns the numeric value of the first address in the block.
func (b Block) First() uint32 {
	return b.addr
}

// Last returns the numeric value of the last address in the block.
func (b Block) Last() uint32 {
	return b.addr | ^maskFor(b.prefixLen)
}

// Contains reports whether other lies entirely within b.
func (b Block) Contains(other Block) bool {
	if other.prefixLen < b.prefixLen {
		return false
	}
	return other.addr&maskFor(b.prefixLen) == b.addr
}

// ContainsIP reports whether the given IPv4 address lies within b.
func (b Block) ContainsIP(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return ipToUint32(v4)&maskFor(b.prefixLen) == b.addr
}

// Overlaps reports whether b and other share any address.
func (b Block) Overlaps(other Block) bool {
	return b.Contains(other) || other.Contains(b)
}

// Halves splits the block into its two children of prefixLen+1.
// Splitting a /32 is a programming error and panics.
func (b Block) Halves() (Block, Block) {
	if b.prefixLen >= 32 {
		panic("cidr: cannot split a /32 block")
	}
	child := b.prefixLen + 1
	lo := Block{addr: b.addr, prefixLen: child}
	hi := Block{addr: b.addr | (uint32(1) << (32 - child)), prefixLen: child}
	return lo, hi
}

// Less orders blocks by ascending numeric address, shorter prefixes first
// when the addresses are equal.
func (b Block) Less(other Block) bool {
	if b.addr != other.addr {
		return b.addr < other.addr
	}
	return b.prefixLen < other.prefixLen
}

func maskFor(prefixLen uint8) uint32 {
	if prefixLen == 0 {
		return 0
	}
	return ^uint32(0) << (32 - prefixLen)
}

func ipToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
