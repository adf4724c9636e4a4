package ssdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/metrics"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
)

// Device errors.
var (
	ErrNotRegistered     = errors.New("device not registered")
	ErrAlreadyRegistered = errors.New("device already registered")
	ErrInvalidRequest    = errors.New("invalid M-SEARCH request")
)

// Registration is one root device announced through SSDP.
type Registration struct {
	Root *description.Root

	// Location is the URL of the description document.
	Location string
	// LowerLocation is served to searches for a lower device or service
	// version. Empty uses Location.
	LowerLocation string

	// Family selects the multicast group; FamilyUnspec answers searches
	// of both families and advertises on IPv4.
	Family sockaddr.Family

	// MaxAge is the advertisement lifetime in seconds.
	MaxAge int

	BootID   uint32
	ConfigID uint32
}

func (r *Registration) lowerLocation() string {
	if r.LowerLocation != "" {
		return r.LowerLocation
	}
	return r.Location
}

func (r *Registration) maxAge() int {
	if r.MaxAge <= 0 {
		return DefaultMaxAge
	}
	return r.MaxAge
}

// DeviceConfig configures a Device.
type DeviceConfig struct {
	// Server is the SERVER header value.
	Server string
	// NLS is the 01-NLS value, empty to omit it.
	NLS string

	NumCopy int
	Pause   time.Duration

	// SearchRate and SearchBurst limit the searches answered per source
	// address.
	SearchRate  rate.Limit
	SearchBurst int

	// Rand returns a value in [0, n); nil uses math/rand.
	Rand func(n int) int

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        *metrics.Metrics
}

// DefaultDeviceConfig returns the default device configuration.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		NumCopy:     NumCopy,
		Pause:       Pause,
		SearchRate:  5,
		SearchBurst: 10,
	}
}

const maxLimiters = 1024

// Device answers searches and sends advertisements for registered root
// devices.
type Device struct {
	config DeviceConfig
	sender Sender
	sched  Scheduler
	logger *slog.Logger
	plog   log.Logger

	mu       sync.RWMutex
	regs     []*Registration
	limiters map[netip.Addr]*rate.Limiter
}

// NewDevice creates the device side engine.
func NewDevice(config DeviceConfig, sender Sender, sched Scheduler) *Device {
	def := DefaultDeviceConfig()
	if config.NumCopy <= 0 {
		config.NumCopy = def.NumCopy
	}
	if config.Pause <= 0 {
		config.Pause = def.Pause
	}
	if config.SearchRate <= 0 {
		config.SearchRate = def.SearchRate
	}
	if config.SearchBurst <= 0 {
		config.SearchBurst = def.SearchBurst
	}
	if config.Rand == nil {
		config.Rand = rand.IntN
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Device{
		config:   config,
		sender:   sender,
		sched:    sched,
		logger:   config.Logger,
		plog:     log.OrNoop(config.ProtocolLogger),
		limiters: make(map[netip.Addr]*rate.Limiter),
	}
}

// Register adds r to the set of devices answering searches.
func (d *Device) Register(r *Registration) error {
	if r == nil || r.Root == nil {
		return fmt.Errorf("%w: missing description", ErrInvalidRequest)
	}
	if r.Location == "" {
		return fmt.Errorf("%w: missing location", ErrInvalidRequest)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, have := range d.regs {
		if have == r {
			return ErrAlreadyRegistered
		}
	}
	d.regs = append(d.regs, r)
	return nil
}

// Unregister removes r. It does not send byebye messages.
func (d *Device) Unregister(r *Registration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, have := range d.regs {
		if have == r {
			d.regs = append(d.regs[:i], d.regs[i+1:]...)
			return nil
		}
	}
	return ErrNotRegistered
}

// Replace swaps old for next in one step, so searches see exactly one of
// them.
func (d *Device) Replace(old, next *Registration) error {
	if next == nil || next.Root == nil || next.Location == "" {
		return fmt.Errorf("%w: invalid replacement", ErrInvalidRequest)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, have := range d.regs {
		if have == old {
			d.regs[i] = next
			return nil
		}
	}
	return ErrNotRegistered
}

// Registrations returns the number of registered root devices.
func (d *Device) Registrations() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}

// Advertise multicasts ssdp:alive for every device and service of r.
func (d *Device) Advertise(ctx context.Context, r *Registration) error {
	return d.announce(ctx, r, KindAlive)
}

// Byebye multicasts ssdp:byebye for every device and service of r.
func (d *Device) Byebye(ctx context.Context, r *Registration) error {
	return d.announce(ctx, r, KindByebye)
}

func (d *Device) announce(ctx context.Context, r *Registration, kind Kind) error {
	if !d.registered(r) {
		return ErrNotRegistered
	}
	family := r.Family
	if family == sockaddr.FamilyUnspec {
		family = sockaddr.FamilyInet
	}
	group := Group(family, r.Location)
	dst := netip.AddrPortFrom(group, Port)
	packets := d.advertisements(r, kind, HostHeader(group))

	var errs []error
	for round := 0; round < d.config.NumCopy; round++ {
		if round > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.config.Pause):
			}
		}
		for _, p := range packets {
			if err := d.sender.Send(p.Build().Bytes(), dst); err != nil {
				errs = append(errs, err)
				continue
			}
			d.config.Metrics.SSDPMessage("out", strings.ToLower(kind.String()))
		}
	}
	d.captureState(r, kind)
	if len(errs) > 0 {
		return fmt.Errorf("send %s: %w", kind, errors.Join(errs...))
	}
	d.logger.Debug("ssdp announce", "kind", kind, "udn", r.Root.Device.UDN, "packets", len(packets))
	return nil
}

func (d *Device) registered(r *Registration) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, have := range d.regs {
		if have == r {
			return true
		}
	}
	return false
}

// advertisements lists the NOTIFY packets of one round: rootdevice, UDN
// and device type for each device followed by its service types.
func (d *Device) advertisements(r *Registration, kind Kind, host string) []*Packet {
	var out []*Packet
	add := func(nt, usn string) {
		out = append(out, d.packet(r, kind, nt, usn, r.Location, host))
	}
	for i, dev := range r.Root.Walk() {
		if i == 0 {
			add(TargetRootDevice, dev.UDN+"::"+TargetRootDevice)
		}
		add(dev.UDN, dev.UDN)
		add(dev.DeviceType, dev.UDN+"::"+dev.DeviceType)
		for _, s := range dev.Services {
			add(s.ServiceType, dev.UDN+"::"+s.ServiceType)
		}
	}
	return out
}

func (d *Device) packet(r *Registration, kind Kind, nt, usn, location, host string) *Packet {
	return &Packet{
		Kind:     kind,
		NT:       nt,
		USN:      usn,
		Location: location,
		MaxAge:   r.maxAge(),
		Server:   d.config.Server,
		NLS:      d.config.NLS,
		BootID:   r.BootID,
		ConfigID: r.ConfigID,
		Host:     host,
	}
}

// Replies returns the replies r sends for target.
func (d *Device) Replies(r *Registration, target Target) []*Packet {
	var out []*Packet
	add := func(nt, usn, location string) {
		out = append(out, d.packet(r, KindReply, nt, usn, location, ""))
	}
	for i, dev := range r.Root.Walk() {
		root := i == 0
		switch target.Type {
		case SearchAll:
			if root {
				add(TargetRootDevice, dev.UDN+"::"+TargetRootDevice, r.Location)
			}
			add(dev.UDN, dev.UDN, r.Location)
			add(dev.DeviceType, dev.UDN+"::"+dev.DeviceType, r.Location)
		case SearchRootDevice:
			if root {
				add(TargetRootDevice, dev.UDN+"::"+TargetRootDevice, r.Location)
			}
		case SearchDeviceUDN:
			if strings.EqualFold(target.UDN, dev.UDN) {
				add(dev.UDN, dev.UDN, r.Location)
			}
		case SearchDeviceType:
			if match, lower := matchVersioned(target.DeviceType, dev.DeviceType); match {
				loc := r.Location
				if lower {
					loc = r.lowerLocation()
				}
				add(target.DeviceType, dev.UDN+"::"+target.DeviceType, loc)
			}
		}
		for _, s := range dev.Services {
			switch target.Type {
			case SearchAll:
				add(s.ServiceType, dev.UDN+"::"+s.ServiceType, r.Location)
			case SearchService:
				if match, lower := matchVersioned(target.ServiceType, s.ServiceType); match {
					loc := r.Location
					if lower {
						loc = r.lowerLocation()
					}
					add(target.ServiceType, dev.UDN+"::"+target.ServiceType, loc)
				}
			}
		}
	}
	return out
}

// ParseSearch validates an M-SEARCH request and returns its MX and target.
func ParseSearch(m *httpmsg.Message) (int, Target, error) {
	if !m.Request || m.Method != httpmsg.MethodMSearch {
		return 0, Target{}, fmt.Errorf("%w: not an M-SEARCH", ErrInvalidRequest)
	}
	if man, ok := m.Header.Lookup("MAN"); !ok || man != manValue {
		return 0, Target{}, fmt.Errorf("%w: bad MAN", ErrInvalidRequest)
	}
	mxText, ok := m.Header.Lookup("MX")
	if !ok {
		return 0, Target{}, fmt.Errorf("%w: missing MX", ErrInvalidRequest)
	}
	mx, err := strconv.Atoi(mxText)
	if err != nil || mx < 0 {
		return 0, Target{}, fmt.Errorf("%w: bad MX %q", ErrInvalidRequest, mxText)
	}
	st, ok := m.Header.Lookup("ST")
	if !ok {
		return 0, Target{}, fmt.Errorf("%w: missing ST", ErrInvalidRequest)
	}
	target, err := ParseTarget(st)
	if err != nil {
		return 0, Target{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return mx, target, nil
}

// HandleSearch answers an M-SEARCH received from src. Every matching
// registration replies after its own random delay.
func (d *Device) HandleSearch(m *httpmsg.Message, src netip.AddrPort) {
	mx, target, err := ParseSearch(m)
	if err != nil {
		d.logger.Debug("ssdp search dropped", "from", src, "error", err)
		d.config.Metrics.SSDPMessage("in", "invalid")
		return
	}
	d.config.Metrics.SSDPMessage("in", "msearch")
	if !d.allow(src.Addr()) {
		d.logger.Debug("ssdp search rate limited", "from", src)
		return
	}

	family := sockaddr.FamilyInet
	if src.Addr().Is6() && !src.Addr().Is4In6() {
		family = sockaddr.FamilyInet6
	}
	d.mu.RLock()
	var regs []*Registration
	for _, r := range d.regs {
		if r.Family == sockaddr.FamilyUnspec || r.Family == family {
			regs = append(regs, r)
		}
	}
	d.mu.RUnlock()

	window := adjustMX(mx)
	for _, r := range regs {
		delay := time.Duration(d.config.Rand(window)) * time.Second
		job := threadpool.Job{Func: func(context.Context) { d.sendReplies(r, target, src) }}
		if _, err := d.sched.Schedule(timer.After(delay), job, timer.ShortTerm); err != nil {
			d.logger.Warn("ssdp reply not scheduled", "to", src, "error", err)
		}
	}
}

func (d *Device) sendReplies(r *Registration, target Target, dst netip.AddrPort) {
	if !d.registered(r) {
		return
	}
	for _, p := range d.Replies(r, target) {
		if err := d.sender.Send(p.Build().Bytes(), dst); err != nil {
			d.logger.Debug("ssdp reply failed", "to", dst, "error", err)
			return
		}
		d.config.Metrics.SSDPMessage("out", "response")
	}
}

func (d *Device) allow(addr netip.Addr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[addr]
	if !ok {
		if len(d.limiters) >= maxLimiters {
			clear(d.limiters)
		}
		l = rate.NewLimiter(d.config.SearchRate, d.config.SearchBurst)
		d.limiters[addr] = l
	}
	return l.Allow()
}

func (d *Device) captureState(r *Registration, kind Kind) {
	d.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		LocalRole: log.RoleDevice,
		UDN:       r.Root.Device.UDN,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityAdvertisement,
			NewState: kind.String(),
			Reason:   r.Location,
		},
	})
}
