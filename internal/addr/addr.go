// Package addr implements MAC/IPv4 text<->binary conversion and CIDR
// range membership tests, grounded in the teacher's (dreadl0ck/netcap)
// use of gopacket's net.HardwareAddr / net.IP for address formatting.
package addr

import (
	"fmt"
	"net"
	"sort"

	"github.com/pkg/errors"
)

// ErrMalformedCIDR is returned when a CIDR string cannot be parsed.
var ErrMalformedCIDR = errors.New("malformed CIDR")

// MACString renders a 6-byte hardware address as the usual colon-hex form.
func MACString(mac [6]byte) string {
	return net.HardwareAddr(mac[:]).String()
}

// ParseMAC parses a colon-hex MAC address into its 6-byte form.
func ParseMAC(s string) ([6]byte, error) {
	var out [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return out, errors.Wrap(ErrMalformedCIDR, "parse mac: "+s)
	}
	copy(out[:], hw)
	return out, nil
}

// IPv4String renders a 4-byte network-order address in dotted-quad form.
func IPv4String(ip [4]byte) string {
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]).String()
}

// ParseIPv4 parses a dotted-quad address into its 4-byte network-order form.
func ParseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, errors.Wrap(ErrMalformedCIDR, "parse ipv4: "+s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return out, errors.Wrap(ErrMalformedCIDR, "not an ipv4 address: "+s)
	}
	copy(out[:], ip4)
	return out, nil
}

// rangeEntry is one CIDR's inclusive [lo, hi] range in host byte order,
// keyed in the set by its upper bound so membership can be resolved
// with a single sort.Search (the Go equivalent of std::map::upper_bound).
type rangeEntry struct {
	lo, hi uint32
}

// CIDRSet is an ordered union of CIDR ranges supporting logarithmic
// membership tests, used by the PPS analyzer to classify addresses as
// "internal".
type CIDRSet struct {
	entries []rangeEntry // sorted, non-overlapping after finalize
}

// NewCIDRSet builds a CIDRSet from a list of CIDR strings such as "10.0.0.0/8".
func NewCIDRSet(cidrs []string) (*CIDRSet, error) {
	set := &CIDRSet{}
	for _, c := range cidrs {
		if err := set.add(c); err != nil {
			return nil, err
		}
	}
	set.finalize()
	return set, nil
}

func (s *CIDRSet) add(cidr string) error {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return errors.Wrap(ErrMalformedCIDR, cidr)
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return errors.Wrap(ErrMalformedCIDR, "not ipv4: "+cidr)
	}

	lo := hostOrderUint32(ipnet.IP.To4())
	size := uint32(1) << uint(32-ones)
	hi := lo + size - 1

	s.entries = append(s.entries, rangeEntry{lo: lo, hi: hi})
	return nil
}

func (s *CIDRSet) finalize() {
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].lo < s.entries[j].lo })
	merged := s.entries[:0]
	for _, e := range s.entries {
		if n := len(merged); n > 0 && e.lo <= merged[n-1].hi {
			if e.hi > merged[n-1].hi {
				merged[n-1].hi = e.hi
			}
			continue
		}
		merged = append(merged, e)
	}
	s.entries = merged
}

func hostOrderUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Contains reports whether ip falls within any configured range; a
// non-IPv4 address is never contained.
func (s *CIDRSet) Contains(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	v := hostOrderUint32(ip4)

	// upper_bound(v) - 1: first entry whose hi is >= v.
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].hi >= v })
	if i == len(s.entries) {
		return false
	}
	return v >= s.entries[i].lo && v <= s.entries[i].hi
}

// String implements fmt.Stringer for diagnostic logging.
func (s *CIDRSet) String() string {
	return fmt.Sprintf("CIDRSet{%d ranges}", len(s.entries))
}
