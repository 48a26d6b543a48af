package devices

import (
	"net/netip"
	"strings"
)

// compareHosts orders IP addresses numerically and everything else lexically,
// IPs first.
func compareHosts(a, b string) int {
	ipA, errA := netip.ParseAddr(a)
	ipB, errB := netip.ParseAddr(b)

	switch {
	case errA == nil && errB == nil:
		return ipA.Compare(ipB)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
