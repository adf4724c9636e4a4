package uri

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
)

type defaultResolver struct{}

func (defaultResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, network, host)
}

// ParseHostPort parses the authority at the start of in and returns it with
// the number of bytes consumed. A missing port is defaultPort; port 0 is
// invalid. Host names are resolved with r unless r is nil.
func ParseHostPort(ctx context.Context, in string, defaultPort uint16, r sockaddr.Resolver) (HostPort, int, error) {
	return parseHostPort(ctx, in, defaultPort, r)
}

func parseHostPort(ctx context.Context, in string, defaultPort uint16, r sockaddr.Resolver) (HostPort, int, error) {
	var (
		hp      HostPort
		c       int
		host    string
		hasPort bool
		family  sockaddr.Family
	)

	if strings.HasPrefix(in, "[") {
		end := strings.IndexByte(in, ']')
		if end < 0 {
			return HostPort{}, 0, fmt.Errorf("missing ']' in %q", in)
		}
		host = in[1:end]
		c = end + 1
		if c < len(in) && in[c] == ':' {
			hasPort = true
			c++
		}
		family = sockaddr.FamilyInet6
	} else {
		lastDot := -1
		for c < len(in) && in[c] != ':' && in[c] != '/' && (isAlnum(in[c]) || in[c] == '.' || in[c] == '-') {
			if in[c] == '.' {
				lastDot = c
			}
			c++
		}
		host = in[:c]
		if c < len(in) && in[c] == ':' {
			hasPort = true
			c++
		}
		if lastDot >= 0 && lastDot+1 < len(in) && isDigit(in[lastDot+1]) {
			family = sockaddr.FamilyInet
		}
	}
	if host == "" {
		return HostPort{}, 0, fmt.Errorf("empty host in %q", in)
	}

	port := defaultPort
	if hasPort {
		start := c
		for c < len(in) && isDigit(in[c]) {
			c++
		}
		p, err := sockaddr.ToPort(in[start:c])
		if err != nil || p == 0 {
			return HostPort{}, 0, fmt.Errorf("bad port in %q", in)
		}
		port = p
	}

	hp.Text = in[:c]
	hp.Host = host
	switch family {
	case sockaddr.FamilyInet6:
		addr, err := netip.ParseAddr(host)
		if err != nil || !addr.Is6() {
			return HostPort{}, 0, fmt.Errorf("bad IPv6 address %q", host)
		}
		hp.Addr = sockaddr.New(addr, port)
	case sockaddr.FamilyInet:
		addr, err := netip.ParseAddr(host)
		if err != nil || !addr.Is4() {
			return HostPort{}, 0, fmt.Errorf("bad IPv4 address %q", host)
		}
		hp.Addr = sockaddr.New(addr, port)
	default:
		if r == nil {
			hp.Addr.SetPort(port)
			break
		}
		addrs, err := r.LookupNetIP(ctx, "ip", host)
		if err != nil || len(addrs) == 0 {
			return HostPort{}, 0, fmt.Errorf("cannot resolve %q", host)
		}
		hp.Addr = sockaddr.New(addrs[0], port)
	}
	return hp, c, nil
}
