package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/gena"
	"github.com/upnpsdk/upnpsdk-go/pkg/persistence"
	"github.com/upnpsdk/upnpsdk-go/pkg/soap"
	"github.com/upnpsdk/upnpsdk-go/pkg/upnp"
)

// Types of the emulated television.
const (
	TVDeviceType       = "urn:schemas-upnp-org:device:tvdevice:1"
	ControlServiceType = "urn:schemas-upnp-org:service:tvcontrol:1"
	PictureServiceType = "urn:schemas-upnp-org:service:tvpicture:1"
)

// ServiceIndex selects one of the television services.
type ServiceIndex int

const (
	ServiceControl ServiceIndex = iota
	ServicePicture
	serviceCount
)

func (i ServiceIndex) String() string {
	switch i {
	case ServiceControl:
		return "Control"
	case ServicePicture:
		return "Picture"
	default:
		return "Unknown"
	}
}

var serviceTypes = [serviceCount]string{ControlServiceType, PictureServiceType}

// ServiceVars lists the evented variables of each service.
var ServiceVars = [serviceCount][]string{
	{"Power", "Channel", "Volume"},
	{"Color", "Tint", "Contrast", "Brightness"},
}

// Control point errors.
var (
	ErrNoDevice   = errors.New("no such device")
	ErrNoService  = errors.New("service not offered")
	ErrNoVariable = errors.New("no such variable")
	ErrDetached   = errors.New("control point not attached")
)

// Client is the part of the SDK client the control point drives.
type Client interface {
	SearchAsync(ctx context.Context, mx int, target string, cookie any) error
	Subscribe(ctx context.Context, publisherURL string, timeout time.Duration) (string, time.Duration, error)
	Unsubscribe(ctx context.Context, sid string) error
	SendActionAsync(controlURL, serviceType, action string, args []soap.Argument, cookie any) error
	DownloadDescription(ctx context.Context, url string) (*description.Root, error)
}

var _ Client = (*upnp.Client)(nil)

// TVService is one service of a discovered television.
type TVService struct {
	ServiceID  string
	ControlURL string
	EventURL   string
	SID        string
	Vars       map[string]string
}

// TVDevice is a discovered television.
type TVDevice struct {
	UDN          string
	FriendlyName string
	Location     string
	// Expires is zero when the advertisement carried no max-age.
	Expires  time.Time
	Services [serviceCount]*TVService
}

func (d *TVDevice) clone() TVDevice {
	c := *d
	for i, s := range d.Services {
		if s == nil {
			continue
		}
		sc := *s
		sc.Vars = make(map[string]string, len(s.Vars))
		for k, v := range s.Vars {
			sc.Vars[k] = v
		}
		c.Services[i] = &sc
	}
	return c
}

// ControlPointConfig configures a ControlPoint.
type ControlPointConfig struct {
	Target           string
	MX               int
	SubscribeTimeout time.Duration
	// Store keeps the known devices across restarts. May be nil.
	Store  *persistence.ControlPointStateStore
	Logger *slog.Logger
	// OnChange is called after the device list or a variable changed.
	OnChange func()
}

// ControlPoint tracks the televisions on the network, subscribes to
// their services and sends actions.
type ControlPoint struct {
	config ControlPointConfig
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	client   Client
	devices  []*TVDevice
	fetching map[string]bool
	verbose  bool
	wg       sync.WaitGroup

	now func() time.Time
}

// NewControlPoint creates a control point. It handles events once
// Attach has been called.
func NewControlPoint(config ControlPointConfig) *ControlPoint {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MX <= 0 {
		config.MX = 5
	}
	if config.Target == "" {
		config.Target = TVDeviceType
	}
	if config.SubscribeTimeout == 0 {
		config.SubscribeTimeout = 30 * time.Minute
	}
	return &ControlPoint{
		config:   config,
		logger:   config.Logger,
		fetching: make(map[string]bool),
		now:      time.Now,
	}
}

// Attach binds the SDK client and reconnects to the devices of the
// store. ctx bounds all background work.
func (c *ControlPoint) Attach(ctx context.Context, client Client) {
	c.mu.Lock()
	c.ctx = ctx
	c.client = client
	c.mu.Unlock()

	if c.config.Store == nil {
		return
	}
	state, err := c.config.Store.Load()
	if err != nil {
		c.logger.Warn("load known devices failed", "error", err)
		return
	}
	if state == nil {
		return
	}
	for _, d := range state.Devices {
		c.fetch(d.Location, time.Time{})
	}
}

// SetVerbose switches logging of every received event.
func (c *ControlPoint) SetVerbose(v bool) {
	c.mu.Lock()
	c.verbose = v
	c.mu.Unlock()
}

// Verbose reports whether every event is logged.
func (c *ControlPoint) Verbose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verbose
}

// Refresh forgets all devices and searches again.
func (c *ControlPoint) Refresh(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	old := c.devices
	c.devices = nil
	c.mu.Unlock()
	if client == nil {
		return ErrDetached
	}
	for _, d := range old {
		c.unsubscribe(ctx, client, d)
	}
	c.changed()
	return client.SearchAsync(ctx, c.config.MX, c.config.Target, nil)
}

// Devices returns a snapshot of the known televisions in discovery order.
func (c *ControlPoint) Devices() []TVDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TVDevice, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d.clone())
	}
	return out
}

// Device returns television n, counting from 1.
func (c *ControlPoint) Device(n int) (TVDevice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.devices) {
		return TVDevice{}, fmt.Errorf("%w: %d", ErrNoDevice, n)
	}
	return c.devices[n-1].clone(), nil
}

// Var returns the last evented value of a variable of television n.
func (c *ControlPoint) Var(n int, svc ServiceIndex, name string) (string, error) {
	d, err := c.Device(n)
	if err != nil {
		return "", err
	}
	s := d.Services[svc]
	if s == nil {
		return "", fmt.Errorf("%w: %s", ErrNoService, svc)
	}
	v, ok := s.Vars[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoVariable, name)
	}
	return v, nil
}

// SendAction invokes action on service svc of television n. The result
// is logged when it arrives.
func (c *ControlPoint) SendAction(n int, svc ServiceIndex, action string, args ...soap.Argument) error {
	d, err := c.Device(n)
	if err != nil {
		return err
	}
	s := d.Services[svc]
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoService, svc)
	}
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return ErrDetached
	}
	return client.SendActionAsync(s.ControlURL, serviceTypes[svc], action, args, d.UDN)
}

// Prune drops devices whose advertisement expired.
func (c *ControlPoint) Prune(ctx context.Context) {
	now := c.now()
	c.mu.Lock()
	client := c.client
	var kept, expired []*TVDevice
	for _, d := range c.devices {
		if !d.Expires.IsZero() && now.After(d.Expires) {
			expired = append(expired, d)
			continue
		}
		kept = append(kept, d)
	}
	c.devices = kept
	c.mu.Unlock()

	for _, d := range expired {
		c.logger.Info("device expired", "udn", d.UDN)
		if client != nil {
			c.unsubscribe(ctx, client, d)
		}
	}
	if len(expired) > 0 {
		c.changed()
	}
}

// Close unsubscribes from every device, saves the known devices and
// waits for background work.
func (c *ControlPoint) Close(ctx context.Context) {
	c.mu.Lock()
	client := c.client
	devices := c.devices
	c.mu.Unlock()
	if client != nil {
		for _, d := range devices {
			c.unsubscribe(ctx, client, d)
		}
	}
	c.save()
	c.wg.Wait()
}

// HandleEvent is the client callback passed to RegisterClient.
func (c *ControlPoint) HandleEvent(event upnp.EventType, data any) {
	if c.Verbose() {
		c.logger.Info("event", "type", event)
	}
	switch event {
	case upnp.EventDiscoveryAlive, upnp.EventDiscoverySearchResult:
		de := data.(*upnp.DiscoveryEvent)
		d := de.Discovery
		if d == nil || d.ErrCode != 0 {
			return
		}
		var expires time.Time
		if d.Expires > 0 {
			expires = c.now().Add(time.Duration(d.Expires) * time.Second)
		}
		if c.touch(d.DeviceID, expires) {
			return
		}
		c.fetch(d.Location, expires)

	case upnp.EventDiscoveryByebye:
		de := data.(*upnp.DiscoveryEvent)
		if de.Discovery != nil {
			c.remove(de.Discovery.DeviceID)
		}

	case upnp.EventDiscoverySearchTimeout:
		c.logger.Info("search finished", "devices", len(c.Devices()))

	case upnp.EventReceived:
		c.onEvent(data.(*gena.Event))

	case upnp.EventControlActionComplete:
		ac := data.(*upnp.ActionComplete)
		if ac.Err != nil {
			c.logger.Warn("action failed", "action", ac.ActionName, "device", ac.Cookie, "error", ac.Err)
			return
		}
		c.logger.Info("action complete", "action", ac.ActionName, "device", ac.Cookie, "result", ac.Result)

	case upnp.EventAutoRenewalFailed, upnp.EventSubscriptionExpired:
		se := data.(*upnp.SubscriptionEvent)
		c.logger.Warn("subscription lost", "sid", se.SID, "event", event)
		c.resubscribe(se.SID)
	}
}

// touch extends the lifetime of a known device.
func (c *ControlPoint) touch(udn string, expires time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.devices {
		if d.UDN == udn {
			d.Expires = expires
			return true
		}
	}
	return false
}

// fetch downloads the description at location in the background and
// adds the television it describes.
func (c *ControlPoint) fetch(location string, expires time.Time) {
	c.mu.Lock()
	if location == "" || c.client == nil || c.fetching[location] {
		c.mu.Unlock()
		return
	}
	c.fetching[location] = true
	ctx, client := c.ctx, c.client
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.fetching, location)
			c.mu.Unlock()
		}()
		if err := c.add(ctx, client, location, expires); err != nil {
			c.logger.Debug("device not added", "location", location, "error", err)
		}
	}()
}

func (c *ControlPoint) add(ctx context.Context, client Client, location string, expires time.Time) error {
	root, err := client.DownloadDescription(ctx, location)
	if err != nil {
		return err
	}
	if root.Device.DeviceType != TVDeviceType {
		return fmt.Errorf("not a television: %s", root.Device.DeviceType)
	}
	d := &TVDevice{
		UDN:          root.Device.UDN,
		FriendlyName: root.Device.FriendlyName,
		Location:     location,
		Expires:      expires,
	}
	for _, svc := range root.Device.Services {
		for i, typ := range serviceTypes {
			if svc.ServiceType != typ {
				continue
			}
			d.Services[i] = &TVService{
				ServiceID:  svc.ServiceID,
				ControlURL: svc.ControlURL,
				EventURL:   svc.EventSubURL,
				Vars:       make(map[string]string),
			}
		}
	}

	c.mu.Lock()
	for _, known := range c.devices {
		if known.UDN == d.UDN {
			c.mu.Unlock()
			return nil
		}
	}
	c.devices = append(c.devices, d)
	c.mu.Unlock()
	c.logger.Info("device added", "udn", d.UDN, "name", d.FriendlyName, "location", location)

	for i := range d.Services {
		c.subscribe(ctx, client, d.UDN, ServiceIndex(i))
	}
	c.save()
	c.changed()
	return nil
}

func (c *ControlPoint) subscribe(ctx context.Context, client Client, udn string, svc ServiceIndex) {
	c.mu.Lock()
	var url string
	for _, d := range c.devices {
		if d.UDN == udn && d.Services[svc] != nil {
			url = d.Services[svc].EventURL
		}
	}
	c.mu.Unlock()
	if url == "" {
		return
	}

	sid, timeout, err := client.Subscribe(ctx, url, c.config.SubscribeTimeout)
	if err != nil {
		c.logger.Warn("subscribe failed", "udn", udn, "service", svc, "error", err)
		return
	}
	c.mu.Lock()
	for _, d := range c.devices {
		if d.UDN == udn && d.Services[svc] != nil {
			d.Services[svc].SID = sid
		}
	}
	c.mu.Unlock()
	c.logger.Debug("subscribed", "udn", udn, "service", svc, "sid", sid, "timeout", timeout)
}

func (c *ControlPoint) resubscribe(sid string) {
	c.mu.Lock()
	ctx, client := c.ctx, c.client
	var udn string
	var svc ServiceIndex
	for _, d := range c.devices {
		for i, s := range d.Services {
			if s != nil && s.SID == sid {
				s.SID = ""
				udn, svc = d.UDN, ServiceIndex(i)
			}
		}
	}
	if udn == "" || client == nil {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.subscribe(ctx, client, udn, svc)
	}()
}

func (c *ControlPoint) unsubscribe(ctx context.Context, client Client, d *TVDevice) {
	for _, s := range d.Services {
		if s == nil || s.SID == "" {
			continue
		}
		if err := client.Unsubscribe(ctx, s.SID); err != nil {
			c.logger.Debug("unsubscribe failed", "sid", s.SID, "error", err)
		}
	}
}

func (c *ControlPoint) remove(udn string) {
	c.mu.Lock()
	removed := false
	for i, d := range c.devices {
		if d.UDN == udn {
			c.devices = append(c.devices[:i], c.devices[i+1:]...)
			removed = true
			break
		}
	}
	c.mu.Unlock()
	if removed {
		c.logger.Info("device removed", "udn", udn)
		c.changed()
	}
}

func (c *ControlPoint) onEvent(e *gena.Event) {
	c.mu.Lock()
	found := false
	for _, d := range c.devices {
		for _, s := range d.Services {
			if s == nil || s.SID != e.SID {
				continue
			}
			for _, p := range e.Changed {
				s.Vars[p.Name] = p.Value
			}
			found = true
		}
	}
	c.mu.Unlock()
	if !found {
		c.logger.Debug("event for unknown subscription", "sid", e.SID, "seq", e.EventKey)
		return
	}
	c.logger.Debug("event", "sid", e.SID, "seq", e.EventKey, "changed", len(e.Changed))
	c.changed()
}

func (c *ControlPoint) changed() {
	if c.config.OnChange != nil {
		c.config.OnChange()
	}
}

func (c *ControlPoint) save() {
	if c.config.Store == nil {
		return
	}
	state, err := c.config.Store.Load()
	if err != nil || state == nil {
		state = &persistence.ControlPointState{}
	}
	now := c.now()
	for _, d := range c.Devices() {
		state.Upsert(persistence.KnownDevice{
			UDN:        d.UDN,
			DeviceType: TVDeviceType,
			Location:   d.Location,
			LastSeenAt: now,
		})
	}
	sort.Slice(state.Devices, func(i, j int) bool { return state.Devices[i].UDN < state.Devices[j].UDN })
	if err := c.config.Store.Save(state); err != nil {
		c.logger.Warn("save known devices failed", "error", err)
	}
}
