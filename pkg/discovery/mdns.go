package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mdnsServer is the part of *zeroconf.Server the advertiser drives.
type mdnsServer interface {
	SetText(text []string)
	Shutdown()
}

// record is one browse answer, decoupled from zeroconf's entry type.
type record struct {
	instance string
	host     string
	port     int
	text     []string
	addrs    []net.IP
}

type registerFunc func(instance string, port int, text []string, ifaces []net.Interface, ttl time.Duration) (mdnsServer, error)

type browseFunc func(ctx context.Context, ifaces []net.Interface, added, removed chan<- record) error

func zeroconfRegister(instance string, port int, text []string, ifaces []net.Interface, ttl time.Duration) (mdnsServer, error) {
	var opts []zeroconf.ServerOption
	if ttl > 0 {
		opts = append(opts, zeroconf.TTL(uint32(ttl.Seconds())))
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, text, ifaces, opts...)
	if err != nil {
		return nil, err
	}
	return server, nil
}

func zeroconfBrowse(ctx context.Context, ifaces []net.Interface, added, removed chan<- record) error {
	var opts []zeroconf.ClientOption
	if len(ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	entries := make(chan *zeroconf.ServiceEntry)
	gone := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			var (
				e   *zeroconf.ServiceEntry
				ok  bool
				out chan<- record
			)
			select {
			case e, ok = <-entries:
				out = added
			case e, ok = <-gone:
				out = removed
			case <-ctx.Done():
				return
			}
			if !ok {
				return
			}
			if e == nil {
				continue
			}
			addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			addrs = append(addrs, e.AddrIPv4...)
			addrs = append(addrs, e.AddrIPv6...)
			r := record{instance: e.Instance, host: e.HostName, port: e.Port, text: e.Text, addrs: addrs}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return zeroconf.Browse(ctx, ServiceType, Domain, entries, gone, opts...)
}

// interfaces resolves a configured interface name. Empty or unknown names
// select all interfaces.
func interfaces(name string, logger *slog.Logger) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		logger.Warn("mdns interface not found, using all", "interface", name, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

// MDNSAdvertiser implements the Advertiser interface using zeroconf.
type MDNSAdvertiser struct {
	config   AdvertiserConfig
	logger   *slog.Logger
	register registerFunc

	mu      sync.Mutex
	servers map[string]mdnsServer // keyed by UDN
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) (*MDNSAdvertiser, error) {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &MDNSAdvertiser{
		config:   config,
		logger:   config.Logger,
		register: zeroconfRegister,
		servers:  make(map[string]mdnsServer),
	}, nil
}

// Advertise starts advertising a root device.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if server, exists := a.servers[info.UDN]; exists {
		server.Shutdown()
		delete(a.servers, info.UDN)
	}

	text := TXTRecordsToStrings(EncodeTXT(info))
	server, err := a.register(info.InstanceName(), int(info.Port), text,
		interfaces(a.config.Interface, a.logger), a.config.TTL)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", info.UDN, err)
	}
	a.servers[info.UDN] = server
	a.logger.Debug("mdns advertisement started", "udn", info.UDN, "instance", info.InstanceName(), "port", info.Port)
	return nil
}

// Update replaces the TXT records of an advertised device.
func (a *MDNSAdvertiser) Update(info *Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	server, exists := a.servers[info.UDN]
	if !exists {
		return ErrNotFound
	}
	server.SetText(TXTRecordsToStrings(EncodeTXT(info)))
	return nil
}

// StopAdvertising withdraws the advertisement for udn.
func (a *MDNSAdvertiser) StopAdvertising(udn string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	server, exists := a.servers[udn]
	if !exists {
		return ErrNotFound
	}
	server.Shutdown()
	delete(a.servers, udn)
	return nil
}

// StopAll stops all advertisements.
func (a *MDNSAdvertiser) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for udn, server := range a.servers {
		server.Shutdown()
		delete(a.servers, udn)
	}
}

// MDNSBrowser implements the Browser interface using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	logger *slog.Logger
	browse browseFunc

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	next    int
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) (*MDNSBrowser, error) {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &MDNSBrowser{
		config:  config,
		logger:  config.Logger,
		browse:  zeroconfBrowse,
		cancels: make(map[int]context.CancelFunc),
	}, nil
}

// Browse searches for UPnP root devices.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	id := b.next
	b.next++
	b.cancels[id] = cancel
	b.mu.Unlock()

	out := make(chan *Service)
	added := make(chan record)
	removed := make(chan record)

	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.cancels, id)
			b.mu.Unlock()
			cancel()
		}()

		services := make(map[string]*Service)
		for {
			select {
			case r := <-added:
				svc := b.recordToService(r)
				if svc == nil {
					continue
				}
				if existing, found := services[svc.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				services[svc.InstanceName] = svc
				emitted := *svc
				emitted.Addresses = slices.Clone(svc.Addresses)
				select {
				case out <- &emitted:
				case <-ctx.Done():
					return
				}

			case r := <-removed:
				if existing, found := services[r.instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, r.addrs)
					if len(existing.Addresses) == 0 {
						delete(services, r.instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := b.browse(ctx, interfaces(b.config.Interface, b.logger), added, removed); err != nil && ctx.Err() == nil {
			b.logger.Warn("mdns browse failed", "error", err)
			cancel()
		}
	}()

	return out, nil
}

// Find searches for the device with the given UDN.
func (b *MDNSBrowser) Find(ctx context.Context, udn string) (*Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range results {
		if svc.UDN == udn {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, udn)
}

// Stop stops all active browsing operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancels {
		cancel()
	}
}

func (b *MDNSBrowser) recordToService(r record) *Service {
	info, err := DecodeTXT(StringsToTXTRecords(r.text))
	if err != nil {
		b.logger.Debug("ignoring mdns entry", "instance", r.instance, "error", err)
		return nil
	}

	addrs := make([]string, 0, len(r.addrs))
	for _, ip := range r.addrs {
		addrs = append(addrs, ip.String())
	}

	return &Service{
		InstanceName: r.instance,
		Host:         r.host,
		Port:         uint16(r.port),
		Addresses:    addrs,
		UDN:          info.UDN,
		Location:     info.Location,
		Path:         info.Path,
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses removes the given IPs from the list.
func removeAddresses(addresses []string, ips []net.IP) []string {
	toRemove := make(map[string]bool, len(ips))
	for _, ip := range ips {
		toRemove[ip.String()] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

// Ensure MDNSAdvertiser implements Advertiser interface.
var _ Advertiser = (*MDNSAdvertiser)(nil)

// Ensure MDNSBrowser implements Browser interface.
var _ Browser = (*MDNSBrowser)(nil)
