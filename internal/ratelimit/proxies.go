package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Proxies is the set of peers allowed to name the client through
// X-Forwarded-For or X-Real-IP. A nil *Proxies trusts no one.
type Proxies struct {
	prefixes []netip.Prefix
}

// ParseProxies parses addresses and CIDRs. A bare address trusts only that host.
func ParseProxies(entries []string) (*Proxies, error) {
	p := &Proxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			p.prefixes = append(p.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q is not an IP address or CIDR", entry)
		}
		addr = addr.Unmap()
		p.prefixes = append(p.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return p, nil
}

func (p *Proxies) trusts(addr netip.Addr) bool {
	if p == nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address a request is attributed to. Forwarding
// headers are read only when the peer itself is a trusted proxy, and
// X-Forwarded-For is walked from the right past any further trusted hops.
func (p *Proxies) ClientIP(r *http.Request) string {
	peer := ClientIP(r)
	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !p.trusts(peerAddr) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		client := peer
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return client
			}
			client = hop.Unmap().String()
			if !p.trusts(hop) {
				return client
			}
		}
		return client
	}

	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}
	return peer
}

// ClientIP returns the host part of the request's peer address. The port is
// dropped so one client maps to one bucket. Forwarding headers are ignored.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
