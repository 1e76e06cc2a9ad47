// Package policy implements the fixed HardBaseline access checks and the
// per-tool ToolContext that layers origin-specific permissions on top of
// it.
package policy

import (
	"context"
	"net"
	"strings"
	"time"
)

// privateIPv6Prefixes identifies private/link-local IPv6 address
// prefixes, covering the unique-local fc00::/7 range net.IP's own
// predicates miss.
var privateIPv6Prefixes = []string{"fe80:", "fec0:", "fc", "fd"}

// resolveTimeout bounds the DNS lookup IsDeniedHost performs for bare
// hostnames so a slow resolver can't stall a permission check.
const resolveTimeout = 5 * time.Second

// lookupIPAddr is swapped out by tests to avoid real DNS.
var lookupIPAddr = func(ctx context.Context, host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

// IsDeniedHost reports whether host (a hostname or literal IP) falls
// under the hard-baseline network deny list: RFC1918, loopback,
// link-local, multicast, and 0.0.0.0. A bare hostname is resolved and
// every resulting address is checked, so "localhost" or a DNS name
// pointing into a private range is denied the same as the literal IP;
// a hostname that does not resolve at all is denied too.
func IsDeniedHost(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		return isDeniedIP(ip)
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	addrs, err := lookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return true
	}
	for _, addr := range addrs {
		if isDeniedIP(addr.IP) {
			return true
		}
	}
	return false
}

// IsDeniedIP reports whether ip itself falls under the hard-baseline
// network deny list. Callers that resolve a hostname to one or more
// addresses should check every address with this function.
func IsDeniedIP(ip net.IP) bool {
	return isDeniedIP(ip)
}

func isDeniedIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return isDeniedIPv4(ip4)
	}
	if ip.IsMulticast() || ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return true
	}
	s := strings.ToLower(ip.String())
	for _, prefix := range privateIPv6Prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func isDeniedIPv4(ip net.IP) bool {
	o1, o2 := ip[0], ip[1]
	switch {
	case o1 == 0: // 0.0.0.0/8
		return true
	case o1 == 10: // 10.0.0.0/8
		return true
	case o1 == 127: // 127.0.0.0/8 loopback
		return true
	case o1 == 169 && o2 == 254: // 169.254.0.0/16 link-local
		return true
	case o1 == 172 && o2 >= 16 && o2 <= 31: // 172.16.0.0/12
		return true
	case o1 == 192 && o2 == 168: // 192.168.0.0/16
		return true
	case o1 == 100 && o2 >= 64 && o2 <= 127: // 100.64.0.0/10 carrier-grade NAT
		return true
	}
	return ip.IsMulticast()
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	host = strings.TrimSuffix(host, ".")
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return host
}
