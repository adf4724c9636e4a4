package miniserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/metrics"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
	"github.com/upnpsdk/upnpsdk-go/pkg/socket"
)

// Defaults.
const (
	DefaultPort              = 49152
	DefaultPortWalk          = 100
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultMaxHeaderBytes    = 16 << 10
)

// Server errors.
var (
	ErrAlreadyRunning = errors.New("miniserver already running")
	ErrNoListener     = errors.New("no listener could be opened")
)

func init() {
	for _, m := range []string{"M-POST", "NOTIFY", "SUBSCRIBE", "UNSUBSCRIBE"} {
		chi.RegisterMethod(m)
	}
}

// Config configures a Server.
type Config struct {
	// Port is the first port tried. 0 lets the system choose.
	Port int

	// PortWalk is the number of successive ports tried after Port.
	PortWalk int

	// Addr4 and Addr6 are the bind addresses. Unset binds to all
	// addresses of the family.
	Addr4 netip.Addr
	Addr6 netip.Addr

	// DisableIPv4 and DisableIPv6 skip a listener.
	DisableIPv4 bool
	DisableIPv6 bool

	// HostValidator replaces the numeric host check when set. It receives
	// the Host header and reports whether the request may proceed.
	HostValidator func(host string) bool

	// AllowLiteralHostRedirection answers non-numeric hosts with a 307 to
	// the local numeric address instead of 400.
	AllowLiteralHostRedirection bool

	// RateLimit is the number of requests one client address may send per
	// RateWindow. 0 disables limiting.
	RateLimit  int
	RateWindow time.Duration

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	Metrics        *metrics.Metrics

	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// OnError is called for accept and serve errors.
	OnError func(err error)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Port:              DefaultPort,
		PortWalk:          DefaultPortWalk,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		RateWindow:        time.Minute,
	}
}

// Handlers are the request handlers by protocol. A nil handler answers 501.
type Handlers struct {
	SOAP http.Handler
	GENA http.Handler
	Web  http.Handler
}

// Server is the miniserver.
type Server struct {
	config Config
	logger *slog.Logger
	plog   log.Logger

	mu        sync.RWMutex
	handlers  Handlers
	listeners []net.Listener
	http      *http.Server

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a server. Handlers may be set before or after Start.
func New(config Config, handlers Handlers) *Server {
	if config.Port < 0 {
		config.Port = DefaultPort
	}
	if config.PortWalk < 0 {
		config.PortWalk = 0
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.RateWindow <= 0 {
		config.RateWindow = time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		config:   config,
		logger:   config.Logger,
		plog:     log.OrNoop(config.ProtocolLogger),
		handlers: handlers,
	}
}

// SetHandlers replaces the protocol handlers.
func (s *Server) SetHandlers(h Handlers) {
	s.mu.Lock()
	s.handlers = h
	s.mu.Unlock()
}

// Start opens the listeners and starts serving.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	listeners, err := s.listen(ctx)
	if err != nil {
		s.running.Store(false)
		return err
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}

	s.mu.Lock()
	s.listeners = listeners
	s.http = srv
	s.mu.Unlock()

	for _, ln := range listeners {
		s.wg.Add(1)
		go s.serve(srv, ln)
		s.logger.Info("miniserver listening", "addr", ln.Addr().String())
		s.captureState("", "LISTENING", ln.Addr().String())
	}
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener) {
	defer s.wg.Done()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if s.config.OnError != nil {
			s.config.OnError(fmt.Errorf("serve %s: %w", ln.Addr(), err))
		}
	}
}

// listen opens the IPv4 and IPv6 listeners.
func (s *Server) listen(ctx context.Context) ([]net.Listener, error) {
	var listeners []net.Listener
	port := s.config.Port
	var errs []error

	if !s.config.DisableIPv4 {
		addr := s.config.Addr4
		if !addr.IsValid() {
			addr = netip.IPv4Unspecified()
		}
		ln, err := s.listenWalk(ctx, addr, port)
		if err != nil {
			errs = append(errs, err)
		} else {
			listeners = append(listeners, ln)
			if sa, err := socket.ListenerAddr(ln); err == nil {
				port = int(sa.Port())
			}
		}
	}
	if !s.config.DisableIPv6 {
		addr := s.config.Addr6
		if !addr.IsValid() {
			addr = netip.IPv6Unspecified()
		}
		ln, err := s.listenWalk(ctx, addr, port)
		if err != nil {
			errs = append(errs, err)
		} else {
			listeners = append(listeners, ln)
		}
	}
	if len(listeners) == 0 {
		if len(errs) == 0 {
			return nil, fmt.Errorf("%w: IPv4 and IPv6 disabled", ErrNoListener)
		}
		return nil, fmt.Errorf("%w: %w", ErrNoListener, errors.Join(errs...))
	}
	for _, err := range errs {
		s.logger.Warn("miniserver listener unavailable", "error", err)
	}
	return listeners, nil
}

func (s *Server) listenWalk(ctx context.Context, addr netip.Addr, port int) (net.Listener, error) {
	opts := socket.Options{ReuseAddr: true, V6Only: addr.Is6()}
	if port == 0 {
		return socket.Listen(ctx, sockaddr.New(addr, 0), opts)
	}
	var lastErr error
	for p := port; p <= port+s.config.PortWalk && p <= 65535; p++ {
		ln, err := socket.Listen(ctx, sockaddr.New(addr, uint16(p)), opts)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			break
		}
	}
	return nil, lastErr
}

// Stop closes the listeners and waits for the serve loops.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.Lock()
	srv := s.http
	listeners := s.listeners
	s.http = nil
	s.listeners = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	s.wg.Wait()
	for _, ln := range listeners {
		s.captureState("LISTENING", "STOPPED", ln.Addr().String())
	}
	return err
}

// Addrs returns the bound listener addresses.
func (s *Server) Addrs() []sockaddr.SockAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sockaddr.SockAddr
	for _, ln := range s.listeners {
		if sa, err := socket.ListenerAddr(ln); err == nil {
			out = append(out, sa)
		}
	}
	return out
}

// Ports returns the bound IPv4 and IPv6 ports; 0 if not listening.
func (s *Server) Ports() (v4, v6 uint16) {
	for _, sa := range s.Addrs() {
		switch sa.Family() {
		case sockaddr.FamilyInet:
			v4 = sa.Port()
		case sockaddr.FamilyInet6:
			v6 = sa.Port()
		}
	}
	return v4, v6
}

// Router builds the request router. Start serves it; tests may call it
// directly.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.instrument)
	r.Use(s.validateHost)
	if s.config.RateLimit > 0 {
		r.Use(httprate.Limit(
			s.config.RateLimit,
			s.config.RateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
	}

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	})

	if s.config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.config.MetricsHandler)
	}

	r.Method(http.MethodPost, "/*", http.HandlerFunc(s.servePost))
	r.Method("M-POST", "/*", s.route(kindSOAP))
	r.Method("NOTIFY", "/*", s.route(kindGENA))
	r.Method("SUBSCRIBE", "/*", s.route(kindGENA))
	r.Method("UNSUBSCRIBE", "/*", s.route(kindGENA))
	r.Method(http.MethodGet, "/*", s.route(kindWeb))
	r.Method(http.MethodHead, "/*", s.route(kindWeb))
	return r
}

type handlerKind int

const (
	kindWeb handlerKind = iota
	kindSOAP
	kindGENA
)

func (k handlerKind) String() string {
	switch k {
	case kindSOAP:
		return "soap"
	case kindGENA:
		return "gena"
	default:
		return "web"
	}
}

type kindKey struct{}

func (s *Server) handler(k handlerKind) http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch k {
	case kindSOAP:
		return s.handlers.SOAP
	case kindGENA:
		return s.handlers.GENA
	default:
		return s.handlers.Web
	}
}

func (s *Server) route(k handlerKind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.dispatch(k, w, r)
	})
}

func (s *Server) servePost(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("SOAPACTION") != "" {
		s.dispatch(kindSOAP, w, r)
		return
	}
	s.dispatch(kindWeb, w, r)
}

func (s *Server) dispatch(k handlerKind, w http.ResponseWriter, r *http.Request) {
	if rk, ok := r.Context().Value(kindKey{}).(*handlerKind); ok {
		*rk = k
	}
	h := s.handler(k)
	if h == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	h.ServeHTTP(w, r)
}

// validateHost enforces the Host header rules.
func (s *Server) validateHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			http.Error(w, "missing Host header", http.StatusBadRequest)
			return
		}
		if s.config.HostValidator != nil {
			if !s.config.HostValidator(host) {
				http.Error(w, "host refused", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if IsNumericHost(host) {
			next.ServeHTTP(w, r)
			return
		}
		if s.config.AllowLiteralHostRedirection {
			if local, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
				if sa, err := sockaddr.FromNetAddr(local); err == nil {
					target := "http://" + sa.NetAddrP() + r.URL.RequestURI()
					http.Redirect(w, r, target, http.StatusTemporaryRedirect)
					return
				}
			}
		}
		s.logger.Debug("request with non-numeric host refused", "host", host, "remote", r.RemoteAddr)
		http.Error(w, "host must be a numeric address", http.StatusBadRequest)
	})
}

// IsNumericHost reports whether host ("addr", "addr:port", "[v6]" or
// "[v6]:port") is a numeric address other than the unspecified ones.
func IsNumericHost(host string) bool {
	var sa sockaddr.SockAddr
	if err := sa.SetString(host); err != nil {
		return false
	}
	if sa.IsUnspecified() {
		return false
	}
	// SetString accepts a bare port; that is not a host.
	return strings.ContainsAny(host, ".:[")
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		kind := kindWeb
		r = r.WithContext(context.WithValue(r.Context(), kindKey{}, &kind))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		s.config.Metrics.HTTPRequest(kind.String(), rec.status, elapsed.Seconds())
		if rec.status >= 400 {
			code := rec.status
			s.plog.Log(log.Event{
				Timestamp:  time.Now(),
				Direction:  log.DirectionOut,
				Layer:      log.LayerHTTP,
				Category:   log.CategoryError,
				RemoteAddr: r.RemoteAddr,
				Error: &log.ErrorEventData{
					Layer:   log.LayerHTTP,
					Message: http.StatusText(code),
					Code:    &code,
					Context: r.Method + " " + r.URL.RequestURI(),
				},
			})
		}
	})
}

func (s *Server) captureState(oldState, newState, addr string) {
	s.plog.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerService,
		Category:   log.CategoryState,
		RemoteAddr: addr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityServer,
			OldState: oldState,
			NewState: newState,
		},
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
