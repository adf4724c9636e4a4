package sockaddr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// SockType selects stream or datagram sockets.
type SockType uint8

const (
	// SockAny accepts any socket type.
	SockAny SockType = 0
	// SockStream is TCP.
	SockStream SockType = 1
	// SockDgram is UDP.
	SockDgram SockType = 2
)

// Flags modify resolution.
type Flags uint8

const (
	// FlagPassive makes an empty node resolve to the unspecified address
	// (for binding) instead of loopback.
	FlagPassive Flags = 1 << iota
	// FlagNumericHost forbids DNS lookups of the node.
	FlagNumericHost
)

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// AddrInfo describes a node and service to resolve.
type AddrInfo struct {
	Node     string
	Service  string
	Family   Family
	Type     SockType
	Flags    Flags
	Resolver Resolver
}

// NewAddrInfo splits a node that may carry a port ("[v6]:port", "host:port")
// into Node and Service.
func NewAddrInfo(node string, family Family, typ SockType, flags Flags) *AddrInfo {
	ai := &AddrInfo{Node: node, Family: family, Type: typ, Flags: flags}
	if len(node) < 4 || (node[0] == '[' && node[len(node)-1] == ']') {
		return ai
	}
	if pos := strings.LastIndex(node, "]:"); pos >= 0 {
		ai.Node, ai.Service = node[:pos+1], node[pos+2:]
		return ai
	}
	if pos := strings.LastIndexByte(node, ']'); pos >= 0 {
		ai.Node, ai.Service = node[:pos+1], node[pos+1:]
		return ai
	}
	if pos := strings.LastIndexByte(node, ':'); pos >= 0 {
		ai.Node, ai.Service = node[:pos], node[pos+1:]
	}
	return ai
}

// IsNetAddr reports the family of a numeric netaddress, or FamilyUnspec when
// node is not numeric. IPv6 must be bracketed; nodes shorter than four
// characters are never numeric.
func IsNetAddr(node string, family Family) Family {
	if len(node) < 4 {
		return FamilyUnspec
	}
	if node[0] == '[' && node[len(node)-1] == ']' {
		if family != FamilyUnspec && family != FamilyInet6 {
			return FamilyUnspec
		}
		if _, err := parseIPv6(node); err != nil {
			return FamilyUnspec
		}
		return FamilyInet6
	}
	if strings.IndexByte(node, ':') >= 0 {
		return FamilyUnspec
	}
	if family == FamilyInet6 {
		return FamilyUnspec
	}
	if _, err := parseIPv4(node); err != nil {
		return FamilyUnspec
	}
	return FamilyInet
}

// Network returns the Go network name ("tcp6", "udp", ...) for the family
// and socket type.
func (ai *AddrInfo) Network() string {
	n := "ip"
	switch ai.Type {
	case SockStream:
		n = "tcp"
	case SockDgram:
		n = "udp"
	}
	switch ai.Family {
	case FamilyInet:
		return n + "4"
	case FamilyInet6:
		return n + "6"
	}
	return n
}

// Load resolves the node and service. Results are filtered by Family and
// are never empty on success.
func (ai *AddrInfo) Load(ctx context.Context) ([]SockAddr, error) {
	port, err := ai.port(ctx)
	if err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	switch fam := IsNetAddr(ai.Node, ai.Family); {
	case ai.Node == "":
		addrs = ai.defaultAddrs()
	case fam == FamilyInet6:
		a, _ := parseIPv6(ai.Node)
		addrs = []netip.Addr{a}
	case fam == FamilyInet:
		a, _ := parseIPv4(ai.Node)
		addrs = []netip.Addr{a}
	case IsNetAddr("["+ai.Node+"]", FamilyInet6) == FamilyInet6:
		// Unbracketed IPv6 is not a valid netaddress.
		return nil, fmt.Errorf("%w: %q (missing brackets)", ErrInvalidAddress, ai.Node)
	case strings.ContainsAny(ai.Node, "[]:") || ai.Flags&FlagNumericHost != 0:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, ai.Node)
	default:
		r := ai.Resolver
		if r == nil {
			r = net.DefaultResolver
		}
		network := "ip"
		switch ai.Family {
		case FamilyInet:
			network = "ip4"
		case FamilyInet6:
			network = "ip6"
		}
		found, err := r.LookupNetIP(ctx, network, ai.Node)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", ai.Node, err)
		}
		addrs = found
	}

	var out []SockAddr
	for _, a := range addrs {
		sa := New(a, port)
		if ai.Family != FamilyUnspec && sa.Family() != ai.Family {
			continue
		}
		out = append(out, sa)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: node %q family %s", ErrNoAddress, ai.Node, ai.Family)
	}
	return out, nil
}

func (ai *AddrInfo) defaultAddrs() []netip.Addr {
	if ai.Flags&FlagPassive != 0 {
		return []netip.Addr{netip.IPv6Unspecified(), netip.IPv4Unspecified()}
	}
	return []netip.Addr{netip.IPv6Loopback(), netip.AddrFrom4([4]byte{127, 0, 0, 1})}
}

func (ai *AddrInfo) port(ctx context.Context) (uint16, error) {
	p, err := ToPort(ai.Service)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrInvalidPort) || ai.Service == "" {
		return 0, err
	}
	// Not numeric: a service name such as "http".
	network := "tcp"
	if ai.Type == SockDgram {
		network = "udp"
	}
	var r net.Resolver
	n, lerr := r.LookupPort(ctx, network, ai.Service)
	if lerr != nil {
		return 0, fmt.Errorf("%w: service %q", ErrInvalidPort, ai.Service)
	}
	return uint16(n), nil
}
