package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
)

// ErrUnsupportedConn is returned by Info for connections without IP addresses.
var ErrUnsupportedConn = errors.New("unsupported connection type")

// Options are applied to a socket before it is bound.
type Options struct {
	// ReuseAddr sets SO_REUSEADDR.
	ReuseAddr bool

	// ReusePort sets SO_REUSEPORT where the platform has it.
	ReusePort bool

	// V6Only sets IPV6_V6ONLY on IPv6 sockets.
	V6Only bool
}

// SSDPOptions are the options for the shared SSDP port.
func SSDPOptions() Options {
	return Options{ReuseAddr: true, ReusePort: true, V6Only: true}
}

func (o Options) listenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = applyOptions(fd, network, o)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
}

// Listen opens a TCP listener on addr.
func Listen(ctx context.Context, addr sockaddr.SockAddr, opts Options) (net.Listener, error) {
	network := networkFor("tcp", addr)
	ln, err := opts.listenConfig().Listen(ctx, network, bindString(addr))
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}
	return ln, nil
}

// ListenPacket opens a UDP socket on addr.
func ListenPacket(ctx context.Context, addr sockaddr.SockAddr, opts Options) (net.PacketConn, error) {
	network := networkFor("udp", addr)
	pc, err := opts.listenConfig().ListenPacket(ctx, network, bindString(addr))
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}
	return pc, nil
}

func networkFor(proto string, addr sockaddr.SockAddr) string {
	switch addr.Family() {
	case sockaddr.FamilyInet:
		return proto + "4"
	case sockaddr.FamilyInet6:
		return proto + "6"
	default:
		return proto
	}
}

func bindString(addr sockaddr.SockAddr) string {
	if addr.Family() == sockaddr.FamilyUnspec {
		return fmt.Sprintf(":%d", addr.Port())
	}
	return addr.NetAddrP()
}

// Info describes a connected or bound socket.
type Info struct {
	Network string
	Local   sockaddr.SockAddr
	Remote  sockaddr.SockAddr
}

// InfoOf returns the addresses of a TCP or UDP connection. Remote is the zero
// value for unconnected packet sockets.
func InfoOf(c interface{ LocalAddr() net.Addr }) (Info, error) {
	local, err := sockaddr.FromNetAddr(c.LocalAddr())
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedConn, err)
	}
	info := Info{Network: c.LocalAddr().Network(), Local: local}
	if rc, ok := c.(interface{ RemoteAddr() net.Addr }); ok && rc.RemoteAddr() != nil {
		if remote, err := sockaddr.FromNetAddr(rc.RemoteAddr()); err == nil {
			info.Remote = remote
		}
	}
	return info, nil
}

// ListenerAddr returns the bound address of a listener.
func ListenerAddr(ln net.Listener) (sockaddr.SockAddr, error) {
	return sockaddr.FromNetAddr(ln.Addr())
}
