// Package dnsutil implements the reverse-DNS helper used by the PPS
// analyzer to annotate alert emails with the flagged IP's hostname,
// per spec §4.H/§6.
package dnsutil

import "net"

// ReverseLookup resolves ip to its PTR hostname, returning ("", false)
// on any resolution failure -- the caller (PPS alert composition) must
// treat that as "unknown host" rather than block the alert.
func ReverseLookup(ip string) (string, bool) {
	names, err := net.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return "", false
	}
	return names[0], true
}
