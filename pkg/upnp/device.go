package upnp

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/discovery"
	"github.com/upnpsdk/upnpsdk-go/pkg/gena"
	"github.com/upnpsdk/upnpsdk-go/pkg/persistence"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
	"github.com/upnpsdk/upnpsdk-go/pkg/ssdp"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
	"github.com/upnpsdk/upnpsdk-go/pkg/uri"
)

// DefaultDocName is the alias path of a description passed as Doc.
const DefaultDocName = "description.xml"

// DeviceDesc says where the description document of a root device comes
// from. Exactly one of URL, File or Doc is set.
type DeviceDesc struct {
	// URL of a description document served elsewhere, for example from
	// the SDK's WebDir.
	URL string

	// File is read and served by the internal web server.
	File string

	// Doc is served by the internal web server as DocName.
	Doc     []byte
	DocName string

	// LowerURL is served to searches for a lower device or service
	// version. Empty uses the description URL.
	LowerURL string

	// Family selects the multicast group advertised on. FamilyUnspec
	// uses IPv4 when available.
	Family sockaddr.Family

	// MaxAge is the advertisement lifetime in seconds. 0 uses the SSDP
	// default.
	MaxAge int
}

// Device is a registered root device.
type Device struct {
	sdk      *SDK
	callback Callback
	root     *description.Root
	location string
	// alias is the web server path of a served description, or "".
	alias    string

	mu           sync.Mutex
	reg          *ssdp.Registration
	readvertise  timer.EventID
	scheduled    bool
	unregistered bool
}

// RegisterRootDevice loads the description of a root device and makes it
// reachable through SOAP, GENA and SSDP searches. Advertisements start
// with SendAdvertisement.
func (s *SDK) RegisterRootDevice(ctx context.Context, desc DeviceDesc, cb Callback) (*Device, error) {
	s.mu.RLock()
	err := s.runningLocked()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, fmt.Errorf("%w: nil callback", ErrInvalidParam)
	}

	doc, location, alias, err := s.loadDescription(ctx, desc)
	if err != nil {
		return nil, err
	}
	root, err := description.ParseBytes(doc)
	if err != nil {
		return nil, err
	}
	if err := root.ResolveURLs(location); err != nil {
		return nil, fmt.Errorf("%w: %w", description.ErrInvalid, err)
	}

	udn := root.Device.UDN
	bootID, configID, err := s.bootIDs(udn, root.ConfigID)
	if err != nil {
		return nil, err
	}

	family := desc.Family
	if family == sockaddr.FamilyUnspec {
		family = s.familyFor(location)
	}
	d := &Device{
		sdk:      s,
		callback: cb,
		root:     root,
		location: location,
		alias:    alias,
		reg: &ssdp.Registration{
			Root:          root,
			Location:      location,
			LowerLocation: desc.LowerURL,
			Family:        family,
			MaxAge:        desc.MaxAge,
			BootID:        bootID,
			ConfigID:      configID,
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.runningLocked(); err != nil {
		return nil, err
	}
	for _, have := range s.devices {
		if have.UDN() == udn {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, udn)
		}
	}
	if alias != "" {
		if s.web.HasAlias(alias) {
			return nil, fmt.Errorf("%w: description path %s", ErrAlreadyRegistered, alias)
		}
		if err := s.web.SetAlias(alias, doc, time.Now()); err != nil {
			return nil, err
		}
	}
	if err := s.ssdpDevice.Register(d.reg); err != nil {
		if alias != "" {
			s.web.RemoveAlias(alias)
		}
		return nil, err
	}
	s.publisher.AddRoot(root)
	s.dispatcher.AddRoot(root)
	s.devices = append(s.devices, d)

	s.logger.Info("root device registered", "udn", udn, "location", location,
		"bootid", bootID, "configid", configID)
	return d, nil
}

// loadDescription returns the document, its URL and the path the web
// server serves it under, or "" when it is served elsewhere.
func (s *SDK) loadDescription(ctx context.Context, desc DeviceDesc) ([]byte, string, string, error) {
	set := 0
	for _, b := range []bool{desc.URL != "", desc.File != "", desc.Doc != nil} {
		if b {
			set++
		}
	}
	if set != 1 {
		return nil, "", "", fmt.Errorf("%w: exactly one of URL, File or Doc", ErrInvalidParam)
	}

	if desc.URL != "" {
		if _, err := uri.Parse(desc.URL); err != nil {
			return nil, "", "", err
		}
		doc, _, err := s.http.Download(ctx, desc.URL, MaxDescriptionSize)
		if err != nil {
			return nil, "", "", err
		}
		return doc, desc.URL, "", nil
	}

	doc := desc.Doc
	if desc.File != "" {
		b, err := os.ReadFile(desc.File)
		if err != nil {
			return nil, "", "", err
		}
		doc = b
	}
	name := desc.DocName
	if name == "" {
		name = DefaultDocName
		if desc.File != "" {
			name = path.Base(desc.File)
		}
	}
	s.mu.RLock()
	base := s.baseURLLocked(desc.Family)
	s.mu.RUnlock()
	if base == "" {
		return nil, "", "", fmt.Errorf("%w: no %s listener", ErrInvalidInterface, desc.Family)
	}
	return doc, base + "/" + name, "/" + name, nil
}

// bootIDs returns BOOTID.UPNP.ORG and CONFIGID.UPNP.ORG for udn.
func (s *SDK) bootIDs(udn, docConfigID string) (uint32, uint32, error) {
	var configID uint32
	if docConfigID != "" {
		v, err := strconv.ParseUint(docConfigID, 10, 24)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: configId %q", description.ErrInvalid, docConfigID)
		}
		configID = uint32(v)
	}
	if s.config.StateDir == "" {
		return uint32(time.Now().Unix() & persistence.MaxBootID), configID, nil
	}

	store := persistence.NewDeviceStateStore(persistence.DeviceStatePath(s.config.StateDir, udn))
	state, err := store.NextBoot(udn)
	if err != nil {
		return 0, 0, fmt.Errorf("load device state: %w", err)
	}
	if docConfigID != "" && int32(configID) != state.ConfigID {
		if err := store.SetConfigID(int32(configID)); err != nil {
			return 0, 0, fmt.Errorf("save device state: %w", err)
		}
	} else if docConfigID == "" {
		configID = uint32(state.ConfigID)
	}
	return uint32(state.BootID), configID, nil
}

func (s *SDK) familyFor(location string) sockaddr.Family {
	u, err := uri.Parse(location)
	if err == nil && u.HostPort.Addr.Family() == sockaddr.FamilyInet6 {
		return sockaddr.FamilyInet6
	}
	return sockaddr.FamilyInet
}

// UDN returns the UDN of the root device.
func (d *Device) UDN() string { return d.root.Device.UDN }

// Root returns the parsed description with absolute URLs.
func (d *Device) Root() *description.Root { return d.root }

// Location returns the description URL.
func (d *Device) Location() string { return d.location }

// BootID returns the BOOTID.UPNP.ORG value.
func (d *Device) BootID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.BootID
}

// SendAdvertisement multicasts ssdp:alive and repeats it every maxAge/2
// seconds until Unregister. maxAge <= 0 keeps the registered lifetime.
func (d *Device) SendAdvertisement(ctx context.Context, maxAge int) error {
	d.mu.Lock()
	if d.unregistered {
		d.mu.Unlock()
		return ErrInvalidHandle
	}
	if maxAge > 0 && maxAge != d.reg.MaxAge {
		if err := d.replaceRegistrationLocked(maxAge); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	reg := d.reg
	d.mu.Unlock()

	s := d.sdk
	s.mu.RLock()
	dev, adv := s.ssdpDevice, s.advertiser
	s.mu.RUnlock()
	if dev == nil {
		return ErrFinish
	}
	if err := dev.Advertise(ctx, reg); err != nil {
		return err
	}
	if adv != nil {
		if err := adv.Advertise(ctx, d.dnssdInfo()); err != nil {
			s.logger.Warn("dns-sd advertisement failed", "udn", d.UDN(), "error", err)
		}
	}
	return d.scheduleReadvertise(reg)
}

// replaceRegistrationLocked swaps the SSDP registration for one with a new
// max-age. Registrations are read concurrently and never modified.
func (d *Device) replaceRegistrationLocked(maxAge int) error {
	s := d.sdk
	s.mu.RLock()
	dev := s.ssdpDevice
	s.mu.RUnlock()
	if dev == nil {
		return ErrFinish
	}
	next := *d.reg
	next.MaxAge = maxAge
	if err := dev.Replace(d.reg, &next); err != nil {
		return err
	}
	d.reg = &next
	return nil
}

func (d *Device) scheduleReadvertise(reg *ssdp.Registration) error {
	s := d.sdk
	s.mu.RLock()
	sched := s.timer
	s.mu.RUnlock()
	if sched == nil {
		return ErrFinish
	}

	maxAge := reg.MaxAge
	if maxAge <= 0 {
		maxAge = ssdp.DefaultMaxAge
	}
	interval := time.Duration(maxAge) * time.Second / 2

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unregistered {
		return nil
	}
	if d.scheduled {
		_, _ = sched.Remove(d.readvertise)
	}
	id, err := sched.Schedule(timer.After(interval), threadpool.Job{
		Func: func(ctx context.Context) {
			d.mu.Lock()
			d.scheduled = false
			current := d.reg
			d.mu.Unlock()
			if err := d.SendAdvertisement(ctx, current.MaxAge); err != nil {
				s.logger.Debug("re-advertisement failed", "udn", d.UDN(), "error", err)
			}
		},
		Priority: threadpool.PriorityMed,
	}, timer.ShortTerm)
	if err != nil {
		return err
	}
	d.readvertise, d.scheduled = id, true
	return nil
}

func (d *Device) dnssdInfo() *discovery.Info {
	v4, v6 := d.sdk.Ports()
	port := v4
	if port == 0 {
		port = v6
	}
	info := &discovery.Info{
		FriendlyName: d.root.Device.FriendlyName,
		Port:         port,
		UDN:          d.UDN(),
		Location:     d.location,
	}
	if u, err := uri.Parse(d.location); err == nil {
		info.Path = u.PathQuery
	}
	return info
}

// Unregister sends ssdp:byebye and removes the device from the SDK.
func (d *Device) Unregister(ctx context.Context) error {
	d.mu.Lock()
	if d.unregistered {
		d.mu.Unlock()
		return ErrInvalidHandle
	}
	d.unregistered = true
	reg := d.reg
	scheduled, id := d.scheduled, d.readvertise
	d.scheduled = false
	d.mu.Unlock()

	s := d.sdk
	s.mu.Lock()
	for i, have := range s.devices {
		if have == d {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			break
		}
	}
	sched, dev, adv := s.timer, s.ssdpDevice, s.advertiser
	publisher, dispatcher, web := s.publisher, s.dispatcher, s.web
	s.mu.Unlock()

	if scheduled && sched != nil {
		_, _ = sched.Remove(id)
	}
	if adv != nil {
		if err := adv.StopAdvertising(d.UDN()); err != nil && err != discovery.ErrNotFound {
			s.logger.Debug("dns-sd withdraw failed", "udn", d.UDN(), "error", err)
		}
	}
	if publisher != nil {
		publisher.RemoveRoot(d.root)
	}
	if dispatcher != nil {
		dispatcher.RemoveRoot(d.root)
	}
	if d.alias != "" && web != nil {
		web.RemoveAlias(d.alias)
	}
	if dev == nil {
		return nil
	}
	err := dev.Byebye(ctx, reg)
	if uerr := dev.Unregister(reg); err == nil {
		err = uerr
	}
	s.logger.Info("root device unregistered", "udn", d.UDN())
	return err
}

// AcceptSubscription sends the initial event of subscription sid of the
// service. It is usually called from the EVENT_SUBSCRIPTION_REQUEST
// callback.
func (d *Device) AcceptSubscription(udn, serviceID, sid string, props []gena.Property) error {
	publisher, err := d.publisher()
	if err != nil {
		return err
	}
	if err := d.checkService(udn, serviceID); err != nil {
		return err
	}
	return publisher.Accept(udn, serviceID, sid, props)
}

// Notify sends changed state variables to every subscriber of the
// service.
func (d *Device) Notify(udn, serviceID string, props []gena.Property) error {
	publisher, err := d.publisher()
	if err != nil {
		return err
	}
	if err := d.checkService(udn, serviceID); err != nil {
		return err
	}
	return publisher.Notify(udn, serviceID, props)
}

// Subscriptions returns the SIDs of the active subscriptions of the
// service.
func (d *Device) Subscriptions(udn, serviceID string) []string {
	publisher, err := d.publisher()
	if err != nil {
		return nil
	}
	return publisher.Subscriptions(udn, serviceID)
}

func (d *Device) publisher() (*gena.Publisher, error) {
	d.mu.Lock()
	gone := d.unregistered
	d.mu.Unlock()
	if gone {
		return nil, ErrInvalidHandle
	}
	d.sdk.mu.RLock()
	defer d.sdk.mu.RUnlock()
	if d.sdk.publisher == nil {
		return nil, ErrFinish
	}
	return d.sdk.publisher, nil
}

func (d *Device) checkService(udn, serviceID string) error {
	if _, err := d.root.FindDevice(udn); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDevice, udn)
	}
	if _, err := d.root.FindService(udn, serviceID); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidService, serviceID)
	}
	return nil
}
