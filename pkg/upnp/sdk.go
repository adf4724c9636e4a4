package upnp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/upnpsdk/upnpsdk-go/pkg/discovery"
	"github.com/upnpsdk/upnpsdk-go/pkg/gena"
	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/metrics"
	"github.com/upnpsdk/upnpsdk-go/pkg/miniserver"
	"github.com/upnpsdk/upnpsdk-go/pkg/netadapter"
	"github.com/upnpsdk/upnpsdk-go/pkg/soap"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
	"github.com/upnpsdk/upnpsdk-go/pkg/ssdp"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
	"github.com/upnpsdk/upnpsdk-go/pkg/version"
	"github.com/upnpsdk/upnpsdk-go/pkg/webserver"
)

// MaxDescriptionSize bounds downloaded description documents.
const MaxDescriptionSize = 1 << 20

// State is the lifecycle state of an SDK.
type State uint8

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures an SDK.
type Config struct {
	// Interface is the adapter name to use. Empty picks the best
	// multicast capable adapter; a named adapter may be a loopback.
	Interface string

	// Port is the first HTTP port tried; 0 lets the system choose.
	Port int

	DisableIPv6 bool

	// WebDir is served by the internal web server. Empty serves only
	// the alias documents of registered devices.
	WebDir string

	// StateDir keeps BOOTID and CONFIGID across restarts. Empty derives
	// BOOTID from the start time.
	StateDir string

	// DNSSD also announces registered devices through mDNS.
	DNSSD bool

	// UDA is the UPnP architecture version announced in SERVER and
	// USER-AGENT. Empty uses version.Current.
	UDA string

	// RateLimit caps HTTP requests per client address and minute. 0
	// disables limiting.
	RateLimit int

	// Pool configures the worker pool. Zero fields get defaults.
	Pool threadpool.Attr

	MaxSubscriptions       int
	MaxSubscriptionTimeout time.Duration

	// AutoRenewMargin renews client subscriptions this long before they
	// expire. Zero reports EventSubscriptionExpired instead.
	AutoRenewMargin time.Duration

	// SSDPPort is the SSDP multicast port. 0 uses 1900.
	SSDPPort int
	// SSDPTTL is the IPv4 multicast TTL. 0 uses the SSDP default.
	SSDPTTL int

	// Registry receives the SDK metrics. When it is also a
	// prometheus.Gatherer the miniserver serves /metrics.
	Registry prometheus.Registerer

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default SDK configuration.
func DefaultConfig() Config {
	return Config{
		Port:                   miniserver.DefaultPort,
		UDA:                    version.Current,
		Pool:                   threadpool.DefaultAttr(),
		MaxSubscriptions:       gena.DefaultMaxSubscriptions,
		MaxSubscriptionTimeout: gena.DefaultMaxSubscriptionTimeout,
		AutoRenewMargin:        gena.DefaultAutoRenewMargin,
		SSDPPort:               ssdp.Port,
	}
}

// SDK is one instance of the UPnP stack.
type SDK struct {
	config Config
	logger *slog.Logger
	token  string

	mu      sync.RWMutex
	state   State
	cancel  context.CancelFunc
	group   *errgroup.Group
	addr4   netip.Addr
	addr6   netip.Addr
	adapter string

	pool       *threadpool.Pool
	timer      *timer.Thread
	http       *httpmsg.Client
	web        *webserver.Server
	mini       *miniserver.Server
	sock       *ssdp.Socket
	ssdpDevice *ssdp.Device
	publisher  *gena.Publisher
	dispatcher *soap.Dispatcher
	metrics    *metrics.Metrics
	collector  *metrics.PoolCollector
	advertiser discovery.Advertiser

	devices []*Device
	client  *Client
}

var (
	_ ssdp.Handler = (*SDK)(nil)
	_ http.Handler = genaRouter{}
)

// New creates an SDK. Nothing is opened until Start.
func New(config Config) (*SDK, error) {
	if config.Port < 0 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidParam, config.Port)
	}
	if config.UDA == "" {
		config.UDA = version.Current
	}
	if _, err := version.Parse(config.UDA); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Pool.Logger == nil {
		config.Pool.Logger = config.Logger
	}
	s := &SDK{
		config: config,
		logger: config.Logger,
		token:  version.ProductToken(config.UDA),
	}
	if config.Registry != nil {
		s.metrics = metrics.New(config.Registry)
	}
	return s, nil
}

// State returns the lifecycle state.
func (s *SDK) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start brings up the pool, the timer, the miniserver and the SSDP
// sockets. ctx bounds the start only.
func (s *SDK) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrInit
	}
	s.state = StateStarting
	s.mu.Unlock()

	defer func() {
		if err != nil {
			s.teardown()
			s.mu.Lock()
			s.state = StateIdle
			s.mu.Unlock()
		}
	}()

	ifi, err := s.selectAdapters()
	if err != nil {
		return err
	}

	if s.pool, err = threadpool.New(s.config.Pool); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	if s.config.Registry != nil {
		c := metrics.NewPoolCollector("sdk", s.pool)
		if err := s.config.Registry.Register(c); err != nil {
			s.logger.Warn("pool collector not registered", "error", err)
		} else {
			s.collector = c
		}
	}
	if s.timer, err = timer.New(s.pool, s.logger); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	s.http = httpmsg.NewClient(httpmsg.ClientConfig{
		UserAgent:      s.token,
		Role:           log.RoleControlPoint,
		Logger:         s.logger,
		ProtocolLogger: s.config.ProtocolLogger,
	})
	s.web = webserver.New(webserver.Config{
		ServerHeader:   s.token,
		Logger:         s.logger,
		ProtocolLogger: s.config.ProtocolLogger,
	})
	if s.config.WebDir != "" {
		if err := s.web.SetRootDir(s.config.WebDir); err != nil {
			return fmt.Errorf("%w: web dir: %w", ErrInvalidParam, err)
		}
	}
	s.publisher = gena.NewPublisher(gena.PublisherConfig{
		Server:                 s.token,
		MaxSubscriptions:       s.config.MaxSubscriptions,
		MaxSubscriptionTimeout: s.config.MaxSubscriptionTimeout,
		Logger:                 s.logger,
		ProtocolLogger:         s.config.ProtocolLogger,
		Metrics:                s.metrics,
	}, s.http, s.timer, s.pool, s.onSubscribe)
	s.dispatcher = soap.NewDispatcher(soap.DispatcherConfig{
		Server:         s.token,
		Logger:         s.logger,
		ProtocolLogger: s.config.ProtocolLogger,
	}, s.handleAction)

	mcfg := miniserver.DefaultConfig()
	mcfg.Port = s.config.Port
	mcfg.DisableIPv4 = !s.addr4.IsValid()
	mcfg.DisableIPv6 = !s.addr6.IsValid()
	if s.config.Interface != "" {
		mcfg.Addr4, mcfg.Addr6 = s.addr4, s.addr6
	}
	mcfg.RateLimit = s.config.RateLimit
	mcfg.Metrics = s.metrics
	if g, ok := s.config.Registry.(prometheus.Gatherer); ok {
		mcfg.MetricsHandler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	mcfg.Logger = s.logger
	mcfg.ProtocolLogger = s.config.ProtocolLogger
	mcfg.OnError = func(err error) { s.logger.Warn("miniserver error", "error", err) }
	s.mini = miniserver.New(mcfg, miniserver.Handlers{
		SOAP: s.dispatcher,
		GENA: genaRouter{s},
		Web:  s.web,
	})
	if err := s.mini.Start(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	s.sock, err = ssdp.Listen(ctx, ssdp.SocketConfig{
		Interface:      ifi,
		Port:           s.config.SSDPPort,
		DisableIPv4:    !s.addr4.IsValid(),
		DisableIPv6:    !s.addr6.IsValid(),
		TTL:            s.config.SSDPTTL,
		Role:           log.RoleDevice,
		Logger:         s.logger,
		ProtocolLogger: s.config.ProtocolLogger,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	s.ssdpDevice = ssdp.NewDevice(ssdp.DeviceConfig{
		Server:         s.token,
		Logger:         s.logger,
		ProtocolLogger: s.config.ProtocolLogger,
		Metrics:        s.metrics,
	}, s.sock, s.timer)

	if s.config.DNSSD {
		adv, err := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: s.adapter,
			Logger:    s.logger,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInitFailed, err)
		}
		s.advertiser = adv
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	sock := s.sock
	g.Go(func() error {
		err := sock.Serve(gctx, s)
		if err != nil {
			s.logger.Error("ssdp receive stopped", "error", err)
		}
		return err
	})

	s.mu.Lock()
	s.cancel, s.group = cancel, g
	s.state = StateRunning
	s.mu.Unlock()

	v4, v6 := s.mini.Ports()
	s.logger.Info("upnp sdk started",
		"interface", s.adapter, "ipv4", s.addr4, "ipv6", s.addr6,
		"port4", v4, "port6", v6, "server", s.token)
	return nil
}

// selectAdapters picks the IPv4 and IPv6 addresses of the SDK and
// returns the interface for multicast membership.
func (s *SDK) selectAdapters() (*net.Interface, error) {
	list, err := netadapter.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInterface, err)
	}

	var a4, a6 netadapter.Adapter
	var ok4, ok6 bool
	if s.config.Interface != "" {
		for _, a := range list.ByName(s.config.Interface) {
			if !a.Up() {
				continue
			}
			switch {
			case a.Addr.Family() == sockaddr.FamilyInet && !ok4:
				a4, ok4 = a, true
			case a.Addr.Family() == sockaddr.FamilyInet6 && !ok6:
				a6, ok6 = a, true
			}
		}
	} else {
		a4, err = list.Best(sockaddr.FamilyInet)
		ok4 = err == nil
		a6, err = list.Best(sockaddr.FamilyInet6)
		ok6 = err == nil
	}
	if s.config.DisableIPv6 {
		ok6 = false
	}
	if !ok4 && !ok6 {
		return nil, fmt.Errorf("%w: %q has no usable address", ErrInvalidInterface, s.config.Interface)
	}

	var chosen netadapter.Adapter
	if ok4 {
		s.addr4 = a4.Addr.Addr()
		chosen = a4
	}
	if ok6 {
		s.addr6 = a6.Addr.Addr()
		if !ok4 {
			chosen = a6
		}
	}
	s.adapter = chosen.Name
	return chosen.Interface(), nil
}

// teardown stops every component that was created, in reverse order.
func (s *SDK) teardown() {
	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()

	if s.advertiser != nil {
		s.advertiser.StopAll()
	}
	if cancel != nil {
		cancel()
		_ = g.Wait()
	} else if s.sock != nil {
		_ = s.sock.Close()
	}
	if s.mini != nil {
		if err := s.mini.Stop(); err != nil {
			s.logger.Debug("miniserver stop", "error", err)
		}
	}
	if s.timer != nil {
		s.timer.Shutdown()
	}
	if s.http != nil {
		s.http.HTTP().CloseIdleConnections()
	}
	if s.pool != nil {
		s.pool.Shutdown()
	}
	if s.collector != nil {
		s.config.Registry.Unregister(s.collector)
	}
	s.mu.Lock()
	s.advertiser = nil
	s.sock, s.ssdpDevice = nil, nil
	s.mini, s.web, s.http = nil, nil, nil
	s.publisher, s.dispatcher = nil, nil
	s.timer, s.pool, s.collector = nil, nil, nil
	s.addr4, s.addr6 = netip.Addr{}, netip.Addr{}
	s.mu.Unlock()
}

// Finish unregisters all devices and the client and stops the SDK.
func (s *SDK) Finish() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrFinish
	}
	s.state = StateStopping
	devices := append([]*Device(nil), s.devices...)
	client := s.client
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, d := range devices {
		if err := d.Unregister(ctx); err != nil {
			s.logger.Debug("device unregister", "udn", d.UDN(), "error", err)
		}
	}
	if client != nil {
		if err := client.Unregister(ctx); err != nil {
			s.logger.Debug("client unregister", "error", err)
		}
	}

	s.teardown()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Info("upnp sdk finished")
	return nil
}

// Ports returns the bound HTTP ports; 0 when a family is not served.
func (s *SDK) Ports() (v4, v6 uint16) {
	s.mu.RLock()
	mini := s.mini
	s.mu.RUnlock()
	if mini == nil {
		return 0, 0
	}
	return mini.Ports()
}

// Addr returns the addresses used in LOCATION and CALLBACK URLs. An
// address is invalid when the family is not served.
func (s *SDK) Addr() (v4, v6 netip.Addr) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr4, s.addr6
}

// Interface returns the name of the selected adapter.
func (s *SDK) Interface() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adapter
}

// ServerToken returns the SERVER and USER-AGENT value.
func (s *SDK) ServerToken() string {
	return s.token
}

// SetWebDir changes the directory served by the web server.
func (s *SDK) SetWebDir(dir string) error {
	s.mu.RLock()
	web := s.web
	s.mu.RUnlock()
	if web == nil {
		return ErrFinish
	}
	if err := web.SetRootDir(dir); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParam, err)
	}
	return nil
}

// AddVirtualDir serves vd below prefix.
func (s *SDK) AddVirtualDir(prefix string, vd webserver.VirtualDir) error {
	s.mu.RLock()
	web := s.web
	s.mu.RUnlock()
	if web == nil {
		return ErrFinish
	}
	return web.AddVirtualDir(prefix, vd)
}

// RemoveVirtualDir stops serving prefix.
func (s *SDK) RemoveVirtualDir(prefix string) error {
	s.mu.RLock()
	web := s.web
	s.mu.RUnlock()
	if web == nil {
		return ErrFinish
	}
	return web.RemoveVirtualDir(prefix)
}

// baseURLLocked returns "http://addr:port" for the family, or "" when
// the family is not served. Zones are left out.
func (s *SDK) baseURLLocked(f sockaddr.Family) string {
	v4, v6 := s.mini.Ports()
	switch {
	case f != sockaddr.FamilyInet6 && s.addr4.IsValid() && v4 != 0:
		return "http://" + net.JoinHostPort(s.addr4.String(), strconv.Itoa(int(v4)))
	case f != sockaddr.FamilyInet && s.addr6.IsValid() && v6 != 0:
		return "http://" + net.JoinHostPort(s.addr6.WithZone("").String(), strconv.Itoa(int(v6)))
	}
	return ""
}

// runningLocked returns ErrFinish unless the SDK is running.
func (s *SDK) runningLocked() error {
	if s.state != StateRunning {
		return ErrFinish
	}
	return nil
}

// HandleDatagram routes SSDP datagrams to the device engine and to the
// client's control point.
func (s *SDK) HandleDatagram(m *httpmsg.Message, src netip.AddrPort) {
	s.mu.RLock()
	mux := ssdp.Mux{Device: s.ssdpDevice}
	if s.client != nil {
		mux.ControlPoint = s.client.cp
	}
	s.mu.RUnlock()
	mux.HandleDatagram(m, src)
}

// genaRouter serves SUBSCRIBE and UNSUBSCRIBE for the devices and NOTIFY
// for the client.
type genaRouter struct{ s *SDK }

func (g genaRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.s.mu.RLock()
	h := gena.Handler{Publisher: g.s.publisher}
	if g.s.client != nil {
		h.Subscriber = g.s.client.sub
	}
	g.s.mu.RUnlock()
	h.ServeHTTP(w, r)
}

func (s *SDK) findDevice(udn string) *Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if _, err := d.root.FindDevice(udn); err == nil {
			return d
		}
	}
	return nil
}

func (s *SDK) handleAction(ctx context.Context, req *soap.ActionRequest) ([]soap.Argument, error) {
	d := s.findDevice(req.UDN)
	if d == nil || d.callback == nil {
		return nil, soap.NewError(soap.CodeInvalidAction)
	}
	ar := &ActionRequest{ActionRequest: req}
	d.callback(EventControlActionRequest, ar)
	if ar.Err != nil {
		return nil, ar.Err
	}
	return ar.Result, nil
}

func (s *SDK) onSubscribe(req gena.SubscriptionRequest) {
	d := s.findDevice(req.UDN)
	if d == nil || d.callback == nil {
		return
	}
	d.callback(EventSubscriptionRequest, &req)
}

// submit runs fn on a medium priority pool job.
func (s *SDK) submit(fn func(ctx context.Context)) error {
	s.mu.RLock()
	pool := s.pool
	s.mu.RUnlock()
	if pool == nil {
		return ErrFinish
	}
	if _, err := pool.Add(threadpool.Job{Func: fn, Priority: threadpool.PriorityMed}); err != nil {
		if errors.Is(err, threadpool.ErrShutdown) {
			return ErrFinish
		}
		return err
	}
	return nil
}
