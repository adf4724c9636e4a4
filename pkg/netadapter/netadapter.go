// Package netadapter lists the local network adapters and their addresses.
//
// Each Adapter entry is one address on one interface, so an interface with
// an IPv4 address and two IPv6 addresses yields three entries. The SSDP and
// miniserver layers use this to pick the interface to bind and the address
// to put into LOCATION headers.
package netadapter

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
)

// ErrNotFound is returned when no adapter matches.
var ErrNotFound = errors.New("network adapter not found")

// Adapter is one address of a local network interface.
type Adapter struct {
	Index  int
	Name   string
	Flags  net.Flags
	Addr   sockaddr.SockAddr
	Prefix netip.Prefix
}

// Netmask returns the netmask as a socket address (port 0).
func (a Adapter) Netmask() sockaddr.SockAddr {
	bits := a.Prefix.Addr().BitLen()
	if bits == 0 {
		return sockaddr.SockAddr{}
	}
	mask := net.CIDRMask(a.Prefix.Bits(), bits)
	m, _ := netip.AddrFromSlice(mask)
	return sockaddr.New(m, 0)
}

// BitMask returns the prefix length of the netmask.
func (a Adapter) BitMask() int {
	return a.Prefix.Bits()
}

// Up reports whether the interface is up.
func (a Adapter) Up() bool {
	return a.Flags&net.FlagUp != 0
}

// Multicast reports whether the interface supports multicast.
func (a Adapter) Multicast() bool {
	return a.Flags&net.FlagMulticast != 0
}

// Loopback reports whether this is a loopback interface.
func (a Adapter) Loopback() bool {
	return a.Flags&net.FlagLoopback != 0
}

// Interface returns the net.Interface for the adapter.
func (a Adapter) Interface() *net.Interface {
	return &net.Interface{Index: a.Index, Name: a.Name, Flags: a.Flags}
}

// Source provides interface information. The system source is used by Load.
type Source interface {
	Interfaces() ([]net.Interface, error)
	Addrs(ifi net.Interface) ([]net.Addr, error)
}

type systemSource struct{}

func (systemSource) Interfaces() ([]net.Interface, error) { return net.Interfaces() }

func (systemSource) Addrs(ifi net.Interface) ([]net.Addr, error) { return ifi.Addrs() }

// List is a snapshot of adapters in interface order.
type List []Adapter

// Load reads the adapters of the running system.
func Load() (List, error) {
	return LoadFrom(systemSource{})
}

// LoadFrom reads adapters from src.
func LoadFrom(src Source) (List, error) {
	ifis, err := src.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("load network adapters: %w", err)
	}
	var list List
	for _, ifi := range ifis {
		addrs, err := src.Addrs(ifi)
		if err != nil {
			return nil, fmt.Errorf("load addresses of %s: %w", ifi.Name, err)
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok {
				continue
			}
			ip = ip.Unmap()
			ones, _ := ipnet.Mask.Size()
			if ip.Is6() && ip.IsLinkLocalUnicast() {
				ip = ip.WithZone(ifi.Name)
			}
			list = append(list, Adapter{
				Index:  ifi.Index,
				Name:   ifi.Name,
				Flags:  ifi.Flags,
				Addr:   sockaddr.New(ip, 0),
				Prefix: netip.PrefixFrom(ip.WithZone(""), ones),
			})
		}
	}
	return list, nil
}

// Find returns the first adapter whose name, index or netaddress equals key.
func (l List) Find(key string) (Adapter, error) {
	idx, idxErr := strconv.Atoi(key)
	for _, a := range l {
		if a.Name == key || (idxErr == nil && a.Index == idx) || a.Addr.NetAddr() == key {
			return a, nil
		}
	}
	return Adapter{}, fmt.Errorf("%w: %q", ErrNotFound, key)
}

// ByName returns all adapters of the named interface.
func (l List) ByName(name string) List {
	var out List
	for _, a := range l {
		if a.Name == name {
			out = append(out, a)
		}
	}
	return out
}

// Containing returns the adapter whose subnet contains addr. It is used to
// pick the local address a peer can reach.
func (l List) Containing(addr netip.Addr) (Adapter, error) {
	addr = addr.Unmap().WithZone("")
	for _, a := range l {
		if a.Up() && a.Prefix.Contains(addr) {
			return a, nil
		}
	}
	return Adapter{}, fmt.Errorf("%w: no subnet contains %s", ErrNotFound, addr)
}

// Best picks the preferred up, multicast-capable, non-loopback adapter of
// the family. For IPv6 a GUA beats a ULA, which beats an LLA.
func (l List) Best(family sockaddr.Family) (Adapter, error) {
	var best Adapter
	bestRank := -1
	for _, a := range l {
		if !a.Up() || !a.Multicast() || a.Loopback() {
			continue
		}
		if family != sockaddr.FamilyUnspec && a.Addr.Family() != family {
			continue
		}
		if r := rank(a.Addr); r > bestRank {
			best, bestRank = a, r
		}
	}
	if bestRank < 0 {
		return Adapter{}, fmt.Errorf("%w: no usable %s adapter", ErrNotFound, family)
	}
	return best, nil
}

func rank(sa sockaddr.SockAddr) int {
	switch {
	case sa.IsGUA():
		return 4
	case sa.Family() == sockaddr.FamilyInet:
		return 3
	case sa.IsULA():
		return 2
	case sa.IsLLA():
		return 1
	default:
		return 0
	}
}
