package ssdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sync/errgroup"

	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
	"github.com/upnpsdk/upnpsdk-go/pkg/socket"
)

// Socket errors.
var (
	ErrNoSocket          = errors.New("no SSDP socket")
	ErrFamilyUnsupported = errors.New("address family not enabled")
)

// BufSize is the receive buffer size for one datagram.
const BufSize = 2500

// Handler receives parsed datagrams.
type Handler interface {
	HandleDatagram(m *httpmsg.Message, src netip.AddrPort)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(m *httpmsg.Message, src netip.AddrPort)

// HandleDatagram calls f.
func (f HandlerFunc) HandleDatagram(m *httpmsg.Message, src netip.AddrPort) { f(m, src) }

// Mux routes M-SEARCH requests to the device engine and NOTIFY messages
// and responses to the control point engine. Either may be nil.
type Mux struct {
	Device       *Device
	ControlPoint *ControlPoint
}

// HandleDatagram implements Handler.
func (m *Mux) HandleDatagram(msg *httpmsg.Message, src netip.AddrPort) {
	switch {
	case msg.Request && msg.Method == httpmsg.MethodMSearch:
		if m.Device != nil {
			m.Device.HandleSearch(msg, src)
		}
	case msg.Request && msg.Method != httpmsg.MethodNotify:
	default:
		if m.ControlPoint != nil {
			m.ControlPoint.HandleMessage(msg, src)
		}
	}
}

// SocketConfig configures a Socket.
type SocketConfig struct {
	// Interface joins the groups on this interface; nil lets the system
	// choose.
	Interface *net.Interface

	// Port of the multicast sockets.
	Port int

	DisableIPv4 bool
	DisableIPv6 bool

	// TTL of IPv4 multicast datagrams.
	TTL int
	// HopLimit of IPv6 multicast datagrams.
	HopLimit int

	// DisableRequestSockets skips the ephemeral sockets used for M-SEARCH.
	DisableRequestSockets bool

	Role           log.Role
	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// DefaultSocketConfig returns the default socket configuration.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{Port: Port, TTL: 4, HopLimit: 1}
}

// Socket owns the SSDP multicast and request sockets.
type Socket struct {
	config SocketConfig
	logger *slog.Logger
	plog   log.Logger

	p4, r4 *ipv4.PacketConn
	p6, r6 *ipv6.PacketConn
	conns  []net.PacketConn

	closeOnce sync.Once
}

var (
	_ Sender        = (*Socket)(nil)
	_ FamilySupport = (*Socket)(nil)
)

// Listen opens the SSDP sockets and joins the multicast groups.
func Listen(ctx context.Context, config SocketConfig) (*Socket, error) {
	def := DefaultSocketConfig()
	if config.Port <= 0 {
		config.Port = def.Port
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.HopLimit <= 0 {
		config.HopLimit = def.HopLimit
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	s := &Socket{config: config, logger: config.Logger, plog: log.OrNoop(config.ProtocolLogger)}

	var errs []error
	if !config.DisableIPv4 {
		if err := s.open4(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if !config.DisableIPv6 {
		if err := s.open6(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.p4 == nil && s.p6 == nil {
		s.Close()
		if len(errs) == 0 {
			return nil, fmt.Errorf("%w: IPv4 and IPv6 disabled", ErrNoSocket)
		}
		return nil, fmt.Errorf("%w: %w", ErrNoSocket, errors.Join(errs...))
	}
	for _, err := range errs {
		s.logger.Warn("ssdp socket unavailable", "error", err)
	}
	return s, nil
}

func (s *Socket) open4(ctx context.Context) error {
	c, err := socket.ListenPacket(ctx, sockaddr.New(netip.IPv4Unspecified(), uint16(s.config.Port)), socket.SSDPOptions())
	if err != nil {
		return err
	}
	s.conns = append(s.conns, c)
	p := ipv4.NewPacketConn(c)
	if err := p.JoinGroup(s.config.Interface, &net.UDPAddr{IP: GroupIPv4.AsSlice()}); err != nil {
		return fmt.Errorf("join %s: %w", GroupIPv4, err)
	}
	if err := s.setup4(p); err != nil {
		return err
	}
	s.p4 = p

	if s.config.DisableRequestSockets {
		return nil
	}
	rc, err := socket.ListenPacket(ctx, sockaddr.New(netip.IPv4Unspecified(), 0), socket.Options{})
	if err != nil {
		return err
	}
	s.conns = append(s.conns, rc)
	r := ipv4.NewPacketConn(rc)
	if err := s.setup4(r); err != nil {
		return err
	}
	s.r4 = r
	return nil
}

func (s *Socket) setup4(p *ipv4.PacketConn) error {
	if s.config.Interface != nil {
		if err := p.SetMulticastInterface(s.config.Interface); err != nil {
			return fmt.Errorf("IPv4 multicast interface: %w", err)
		}
	}
	if err := p.SetMulticastTTL(s.config.TTL); err != nil {
		return fmt.Errorf("IPv4 multicast TTL: %w", err)
	}
	_ = p.SetMulticastLoopback(true)
	_ = p.SetControlMessage(ipv4.FlagDst, true)
	return nil
}

func (s *Socket) open6(ctx context.Context) error {
	c, err := socket.ListenPacket(ctx, sockaddr.New(netip.IPv6Unspecified(), uint16(s.config.Port)), socket.SSDPOptions())
	if err != nil {
		return err
	}
	s.conns = append(s.conns, c)
	p := ipv6.NewPacketConn(c)
	joined := 0
	for _, g := range []netip.Addr{GroupIPv6LinkLocal, GroupIPv6SiteLocal} {
		if err := p.JoinGroup(s.config.Interface, &net.UDPAddr{IP: g.AsSlice()}); err != nil {
			s.logger.Debug("ssdp join failed", "group", g, "error", err)
			continue
		}
		joined++
	}
	if joined == 0 {
		return fmt.Errorf("join %s: no IPv6 group joined", GroupIPv6LinkLocal)
	}
	if err := s.setup6(p); err != nil {
		return err
	}
	s.p6 = p

	if s.config.DisableRequestSockets {
		return nil
	}
	rc, err := socket.ListenPacket(ctx, sockaddr.New(netip.IPv6Unspecified(), 0), socket.Options{V6Only: true})
	if err != nil {
		return err
	}
	s.conns = append(s.conns, rc)
	r := ipv6.NewPacketConn(rc)
	if err := s.setup6(r); err != nil {
		return err
	}
	s.r6 = r
	return nil
}

func (s *Socket) setup6(p *ipv6.PacketConn) error {
	if s.config.Interface != nil {
		if err := p.SetMulticastInterface(s.config.Interface); err != nil {
			return fmt.Errorf("IPv6 multicast interface: %w", err)
		}
	}
	if err := p.SetMulticastHopLimit(s.config.HopLimit); err != nil {
		return fmt.Errorf("IPv6 multicast hop limit: %w", err)
	}
	_ = p.SetMulticastLoopback(true)
	_ = p.SetControlMessage(ipv6.FlagDst, true)
	return nil
}

// Supports reports whether the family has an open socket.
func (s *Socket) Supports(f sockaddr.Family) bool {
	switch f {
	case sockaddr.FamilyInet:
		return s.p4 != nil
	case sockaddr.FamilyInet6:
		return s.p6 != nil
	default:
		return false
	}
}

// Send transmits b from the multicast socket of dst's family. Device
// advertisements and search replies use it.
func (s *Socket) Send(b []byte, dst netip.AddrPort) error {
	return s.send(b, dst, s.p4, s.p6)
}

// Requester returns a sender using the request sockets, whose responses
// arrive on the ephemeral port. It falls back to the multicast sockets.
func (s *Socket) Requester() Sender {
	return requester{s}
}

type requester struct{ s *Socket }

func (r requester) Send(b []byte, dst netip.AddrPort) error {
	p4, p6 := r.s.r4, r.s.r6
	if p4 == nil {
		p4 = r.s.p4
	}
	if p6 == nil {
		p6 = r.s.p6
	}
	return r.s.send(b, dst, p4, p6)
}

func (r requester) Supports(f sockaddr.Family) bool { return r.s.Supports(f) }

func (s *Socket) send(b []byte, dst netip.AddrPort, p4 *ipv4.PacketConn, p6 *ipv6.PacketConn) error {
	addr := dst.Addr()
	var err error
	switch {
	case addr.Is4() || addr.Is4In6():
		if p4 == nil {
			return fmt.Errorf("%w: IPv4", ErrFamilyUnsupported)
		}
		_, err = p4.WriteTo(b, nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr.Unmap(), dst.Port())))
	default:
		if p6 == nil {
			return fmt.Errorf("%w: IPv6", ErrFamilyUnsupported)
		}
		if addr.IsMulticast() && addr.Zone() == "" && s.config.Interface != nil {
			addr = addr.WithZone(s.config.Interface.Name)
		}
		_, err = p6.WriteTo(b, nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, dst.Port())))
	}
	if err != nil {
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	s.capture(log.DirectionOut, dst, b, dst.Addr().IsMulticast())
	return nil
}

// Serve reads datagrams from all sockets and passes them to h until ctx is
// canceled or a socket fails. The sockets are closed on return.
func (s *Socket) Serve(ctx context.Context, h Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.p4 != nil {
		g.Go(func() error { return s.read4(s.p4, h) })
	}
	if s.r4 != nil {
		g.Go(func() error { return s.read4(s.r4, h) })
	}
	if s.p6 != nil {
		g.Go(func() error { return s.read6(s.p6, h) })
	}
	if s.r6 != nil {
		g.Go(func() error { return s.read6(s.r6, h) })
	}
	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		return nil
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Socket) read4(p *ipv4.PacketConn, h Handler) error {
	buf := make([]byte, BufSize)
	for {
		n, cm, src, err := p.ReadFrom(buf)
		if err != nil {
			return err
		}
		multicast := cm != nil && cm.Dst.IsMulticast()
		s.deliver(buf[:n], src, multicast, h)
	}
}

func (s *Socket) read6(p *ipv6.PacketConn, h Handler) error {
	buf := make([]byte, BufSize)
	for {
		n, cm, src, err := p.ReadFrom(buf)
		if err != nil {
			return err
		}
		multicast := cm != nil && cm.Dst.IsMulticast()
		s.deliver(buf[:n], src, multicast, h)
	}
}

func (s *Socket) deliver(b []byte, src net.Addr, multicast bool, h Handler) {
	udp, ok := src.(*net.UDPAddr)
	if !ok {
		return
	}
	from := udp.AddrPort()
	s.capture(log.DirectionIn, from, b, multicast)
	m, err := httpmsg.ParseDatagram(b)
	if err != nil {
		s.logger.Debug("ssdp datagram dropped", "from", from, "error", err)
		return
	}
	h.HandleDatagram(m, from)
}

// Close closes all sockets.
func (s *Socket) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		for _, c := range s.conns {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (s *Socket) capture(dir log.Direction, remote netip.AddrPort, b []byte, multicast bool) {
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: uuid.New().String(),
		Direction:    dir,
		Layer:        log.LayerUDP,
		Category:     log.CategorySSDP,
		LocalRole:    s.config.Role,
		RemoteAddr:   remote.String(),
		Datagram:     log.NewDatagramEvent(b, multicast),
	})
}
