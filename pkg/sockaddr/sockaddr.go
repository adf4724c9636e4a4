package sockaddr

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Family is an address family.
type Family uint8

const (
	// FamilyUnspec is no particular family.
	FamilyUnspec Family = 0
	// FamilyInet is IPv4.
	FamilyInet Family = 4
	// FamilyInet6 is IPv6.
	FamilyInet6 Family = 6
)

// String returns the family name.
func (f Family) String() string {
	switch f {
	case FamilyUnspec:
		return "AF_UNSPEC"
	case FamilyInet:
		return "AF_INET"
	case FamilyInet6:
		return "AF_INET6"
	default:
		return "UNKNOWN"
	}
}

// SockAddr is an IP socket address. The zero value has no family and port 0.
type SockAddr struct {
	addr netip.Addr
	port uint16
}

// New returns a SockAddr for addr and port. IPv4-mapped IPv6 addresses are
// unmapped.
func New(addr netip.Addr, port uint16) SockAddr {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	return SockAddr{addr: addr, port: port}
}

// FromAddrPort converts a netip.AddrPort.
func FromAddrPort(ap netip.AddrPort) SockAddr {
	return New(ap.Addr(), ap.Port())
}

// FromNetAddr converts a *net.UDPAddr, *net.TCPAddr or *net.IPAddr.
func FromNetAddr(a net.Addr) (SockAddr, error) {
	switch v := a.(type) {
	case *net.UDPAddr:
		return FromAddrPort(v.AddrPort()), nil
	case *net.TCPAddr:
		return FromAddrPort(v.AddrPort()), nil
	case *net.IPAddr:
		ip, ok := netip.AddrFromSlice(v.IP)
		if !ok {
			return SockAddr{}, fmt.Errorf("%w: %v", ErrInvalidAddress, a)
		}
		return New(ip.WithZone(v.Zone), 0), nil
	case nil:
		return SockAddr{}, ErrUnsupportedAddr
	default:
		return SockAddr{}, fmt.Errorf("%w: %T", ErrUnsupportedAddr, a)
	}
}

// Parse returns the SockAddr described by s. See SetString.
func Parse(s string) (SockAddr, error) {
	var sa SockAddr
	if err := sa.SetString(s); err != nil {
		return SockAddr{}, err
	}
	return sa, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(s string) SockAddr {
	sa, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sa
}

// SetString assigns from text. An empty string resets to the zero value.
// On error the receiver is left unchanged.
func (s *SockAddr) SetString(str string) error {
	if str == "" {
		*s = SockAddr{}
		return nil
	}
	next := *s

	if str[0] == '[' {
		host, portStr := str, ""
		if str[len(str)-1] != ']' {
			pos := strings.Index(str, "]:")
			if pos < 0 {
				return fmt.Errorf("%w: %q", ErrInvalidAddress, str)
			}
			host, portStr = str[:pos+1], str[pos+2:]
		}
		addr, err := parseIPv6(host)
		if err != nil {
			return err
		}
		next.addr = addr
		if portStr != "" || host != str {
			p, err := ToPort(portStr)
			if err != nil {
				return err
			}
			next.port = p
		}
		*s = next
		return nil
	}

	pos := strings.IndexByte(str, ':')
	switch {
	case pos == 0 && len(str) > 1 && s.addr.IsValid():
		p, err := ToPort(str[1:])
		if err != nil {
			return err
		}
		next.port = p
	case pos >= 0:
		addr, err := parseIPv4(str[:pos])
		if err != nil {
			return err
		}
		p, err := ToPort(str[pos+1:])
		if err != nil {
			return err
		}
		next.addr, next.port = addr, p
	case strings.IndexByte(str, '.') >= 0:
		addr, err := parseIPv4(str)
		if err != nil {
			return err
		}
		next.addr = addr
	default:
		p, err := ToPort(str)
		if err != nil {
			return err
		}
		next.port = p
	}
	*s = next
	return nil
}

func parseIPv6(bracketed string) (netip.Addr, error) {
	if len(bracketed) < 2 || bracketed[0] != '[' || bracketed[len(bracketed)-1] != ']' {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, bracketed)
	}
	addr, err := netip.ParseAddr(bracketed[1 : len(bracketed)-1])
	if err != nil || !addr.Is6() {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, bracketed)
	}
	return addr, nil
}

func parseIPv4(str string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(str)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, str)
	}
	return addr, nil
}

// SetPort replaces the port.
func (s *SockAddr) SetPort(port uint16) {
	s.port = port
}

// Addr returns the IP address. It is invalid when the family is unspecified.
func (s SockAddr) Addr() netip.Addr {
	return s.addr
}

// Port returns the port.
func (s SockAddr) Port() uint16 {
	return s.port
}

// AddrPort returns the address as a netip.AddrPort.
func (s SockAddr) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(s.addr, s.port)
}

// Family returns the address family.
func (s SockAddr) Family() Family {
	switch {
	case s.addr.Is4():
		return FamilyInet
	case s.addr.Is6():
		return FamilyInet6
	default:
		return FamilyUnspec
	}
}

// NetAddr returns the address without port: "" when the family is
// unspecified, "[v6]" or "[v6%zone]" for IPv6, dotted quad for IPv4.
func (s SockAddr) NetAddr() string {
	switch s.Family() {
	case FamilyInet6:
		return "[" + s.addr.String() + "]"
	case FamilyInet:
		return s.addr.String()
	default:
		return ""
	}
}

// NetAddrP returns NetAddr followed by ":port". It is "" when the family is
// unspecified.
func (s SockAddr) NetAddrP() string {
	if s.Family() == FamilyUnspec {
		return ""
	}
	return s.NetAddr() + ":" + strconv.Itoa(int(s.port))
}

// String implements fmt.Stringer using NetAddrP.
func (s SockAddr) String() string {
	return s.NetAddrP()
}

// IsUnspecified reports whether the family is unspecified or the address is
// "::" or "0.0.0.0".
func (s SockAddr) IsUnspecified() bool {
	return !s.addr.IsValid() || s.addr.IsUnspecified()
}

// IsLoopback reports whether the address is a loopback address.
func (s SockAddr) IsLoopback() bool {
	return s.addr.IsLoopback()
}

// IsLLA reports whether the address is an IPv6 link-local unicast address.
func (s SockAddr) IsLLA() bool {
	return s.addr.Is6() && s.addr.IsLinkLocalUnicast()
}

// IsULA reports whether the address is an IPv6 unique local address (fc00::/7).
func (s SockAddr) IsULA() bool {
	return s.addr.Is6() && s.addr.IsPrivate()
}

// IsGUA reports whether the address is an IPv6 global unicast address that
// is not a unique local address.
func (s SockAddr) IsGUA() bool {
	return s.addr.Is6() && s.addr.IsGlobalUnicast() && !s.addr.IsPrivate()
}

// UDPAddr returns the address as a *net.UDPAddr.
func (s SockAddr) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(s.AddrPort())
}

// TCPAddr returns the address as a *net.TCPAddr.
func (s SockAddr) TCPAddr() *net.TCPAddr {
	return net.TCPAddrFromAddrPort(s.AddrPort())
}

// Equal reports whether a and b have the same family, address, zone and port.
func Equal(a, b SockAddr) bool {
	return a.addr == b.addr && a.port == b.port
}
