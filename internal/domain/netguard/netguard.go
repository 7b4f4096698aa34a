// Package netguard implements the SSRF/DNS-rebinding defense shared by
// every outbound dial the daemon performs on an agent's or caller's behalf:
// the Per-Run Proxy (C7) and the RPC Front End's daemon-side http_request
// fetch (C8) both refuse to connect into a private or reserved address
// range, regardless of policy.
package netguard

import (
	"context"
	"fmt"
	"net"
	"time"
)

// privateNetworks are the CIDR ranges a guarded dial refuses to connect
// into, covering loopback, RFC 1918 private space, link-local (including
// the cloud metadata endpoint range), and their IPv6 equivalents.
var privateNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("netguard: invalid CIDR: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// IsPrivateIP reports whether ip falls within a private or reserved range.
func IsPrivateIP(ip net.IP) bool {
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// SafeDialContext resolves addr, refuses to dial if any resolved IP is
// private or reserved, and then dials the pinned, already-checked IP
// directly — defeating DNS rebinding, since the dial never re-resolves
// after the check.
func SafeDialContext(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("netguard: invalid address %q: %w", addr, err)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("netguard: DNS resolution failed for %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("netguard: no IPs resolved for %q", host)
	}
	for _, ip := range ips {
		if IsPrivateIP(ip.IP) {
			return nil, fmt.Errorf("netguard: blocked connection to private IP %s (resolved from %s)", ip.IP, host)
		}
	}

	pinned := net.JoinHostPort(ips[0].IP.String(), port)
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	}
	return dialer.DialContext(ctx, network, pinned)
}
