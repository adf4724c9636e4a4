package ssdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/metrics"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
)

// ErrClosed is returned after the control point was closed.
var ErrClosed = errors.New("control point closed")

// EventKind is the type of a discovery callback.
type EventKind uint8

const (
	// EventAlive reports an ssdp:alive advertisement.
	EventAlive EventKind = iota
	// EventByebye reports an ssdp:byebye advertisement.
	EventByebye
	// EventSearchResult reports a response to an active search.
	EventSearchResult
	// EventSearchTimeout reports the end of a search window.
	EventSearchTimeout
)

// String returns the event name.
func (e EventKind) String() string {
	switch e {
	case EventAlive:
		return "DISCOVERY_ADVERTISEMENT_ALIVE"
	case EventByebye:
		return "DISCOVERY_ADVERTISEMENT_BYEBYE"
	case EventSearchResult:
		return "DISCOVERY_SEARCH_RESULT"
	case EventSearchTimeout:
		return "DISCOVERY_SEARCH_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Discovery describes an advertisement or search response.
type Discovery struct {
	// ErrCode is 0 for valid messages.
	ErrCode int
	// Expires is the max-age in seconds, -1 when absent.
	Expires     int
	DeviceID    string
	DeviceType  string
	ServiceType string
	ServiceVer  string
	Location    string
	// Os is the SERVER or USER-AGENT header.
	Os       string
	Date     string
	Ext      string
	USN      string
	BootID   string
	ConfigID string
	DestAddr netip.AddrPort
}

// Callback receives discovery events. d is nil for EventSearchTimeout.
type Callback func(kind EventKind, d *Discovery, cookie any)

// ControlPointConfig configures a ControlPoint.
type ControlPointConfig struct {
	// UserAgent is sent with M-SEARCH requests.
	UserAgent string

	NumCopy int
	Pause   time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        *metrics.Metrics
}

// DefaultControlPointConfig returns the default control point configuration.
func DefaultControlPointConfig() ControlPointConfig {
	return ControlPointConfig{NumCopy: NumCopy, Pause: Pause}
}

type search struct {
	target string
	typ    SearchType
	cookie any
	event  timer.EventID
}

// ControlPoint sends searches and reports advertisements and search
// results.
type ControlPoint struct {
	config   ControlPointConfig
	sender   Sender
	sched    Scheduler
	jobs     JobQueue
	callback Callback
	logger   *slog.Logger
	plog     log.Logger

	mu       sync.Mutex
	searches []*search
	closed   bool
}

// NewControlPoint creates the control point engine. Callbacks run as
// medium priority jobs on jobs.
func NewControlPoint(config ControlPointConfig, sender Sender, sched Scheduler, jobs JobQueue, cb Callback) *ControlPoint {
	def := DefaultControlPointConfig()
	if config.NumCopy <= 0 {
		config.NumCopy = def.NumCopy
	}
	if config.Pause <= 0 {
		config.Pause = def.Pause
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ControlPoint{
		config:   config,
		sender:   sender,
		sched:    sched,
		jobs:     jobs,
		callback: cb,
		logger:   config.Logger,
		plog:     log.OrNoop(config.ProtocolLogger),
	}
}

// Search sends an M-SEARCH for target. mx is clamped to
// [MinSearchTime, MaxSearchTime]; results arrive until then, followed by
// EventSearchTimeout with cookie.
func (c *ControlPoint) Search(ctx context.Context, mx int, target string, cookie any) error {
	typ := ClassifyTarget(target)
	if typ == SearchUnknown {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	mx = clampMX(mx)

	s := &search{target: target, typ: typ, cookie: cookie}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	id, err := c.sched.Schedule(timer.After(time.Duration(mx)*time.Second), threadpool.Job{
		Priority: threadpool.PriorityMed,
		Func:     func(context.Context) { c.expire(s) },
	}, timer.ShortTerm)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("schedule search timeout: %w", err)
	}
	s.event = id
	c.searches = append(c.searches, s)
	c.mu.Unlock()
	c.captureState("STARTED", target)

	var dsts []netip.Addr
	if c.supports(sockaddr.FamilyInet6) {
		dsts = append(dsts, GroupIPv6SiteLocal, GroupIPv6LinkLocal)
	}
	if c.supports(sockaddr.FamilyInet) {
		dsts = append(dsts, GroupIPv4)
	}
	var errs []error
	sent := 0
	for _, group := range dsts {
		b := BuildSearch(HostHeader(group), mx, target, c.config.UserAgent).Bytes()
		dst := netip.AddrPortFrom(group, Port)
		for i := 0; i < c.config.NumCopy; i++ {
			if sent > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.config.Pause):
				}
			}
			sent++
			if err := c.sender.Send(b, dst); err != nil {
				errs = append(errs, err)
				continue
			}
			c.config.Metrics.SSDPMessage("out", "msearch")
		}
	}
	if len(errs) == sent && sent > 0 {
		return fmt.Errorf("send M-SEARCH: %w", errors.Join(errs...))
	}
	return nil
}

func (c *ControlPoint) supports(f sockaddr.Family) bool {
	if fs, ok := c.sender.(FamilySupport); ok {
		return fs.Supports(f)
	}
	return f == sockaddr.FamilyInet
}

// Searches returns the number of active searches.
func (c *ControlPoint) Searches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.searches)
}

func (c *ControlPoint) expire(s *search) {
	c.mu.Lock()
	found := false
	for i, have := range c.searches {
		if have == s {
			c.searches = append(c.searches[:i], c.searches[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.captureState("TIMEOUT", s.target)
	if c.callback != nil {
		c.callback(EventSearchTimeout, nil, s.cookie)
	}
}

// Close cancels the active searches without reporting their timeout.
func (c *ControlPoint) Close() {
	c.mu.Lock()
	searches := c.searches
	c.searches = nil
	c.closed = true
	c.mu.Unlock()
	for _, s := range searches {
		_, _ = c.sched.Remove(s.event)
	}
}

// HandleMessage processes a NOTIFY or a search response received from src.
func (c *ControlPoint) HandleMessage(m *httpmsg.Message, src netip.AddrPort) {
	d, ok := parseDiscovery(m, src)
	if !ok {
		c.logger.Debug("ssdp message dropped", "from", src)
		c.config.Metrics.SSDPMessage("in", "invalid")
		return
	}

	if m.Request {
		if m.Method != httpmsg.MethodNotify {
			return
		}
		kind, ok := c.classifyNotify(m, d)
		if !ok {
			c.config.Metrics.SSDPMessage("in", "invalid")
			return
		}
		c.config.Metrics.SSDPMessage("in", "notify")
		c.dispatch(kind, d, nil)
		return
	}

	st := m.Header.Get("ST")
	stType := ClassifyTarget(st)
	if m.StatusCode != 200 || d.Expires <= 0 || d.Location == "" || d.USN == "" || stType == SearchUnknown {
		c.config.Metrics.SSDPMessage("in", "invalid")
		return
	}
	if _, err := ParseUSN(d.USN); err != nil {
		c.config.Metrics.SSDPMessage("in", "invalid")
		return
	}
	c.config.Metrics.SSDPMessage("in", "response")

	c.mu.Lock()
	var cookies []any
	for _, s := range c.searches {
		if s.matches(st, stType) {
			cookies = append(cookies, s.cookie)
		}
	}
	c.mu.Unlock()
	for _, cookie := range cookies {
		c.dispatch(EventSearchResult, d, cookie)
	}
}

func (c *ControlPoint) classifyNotify(m *httpmsg.Message, d *Discovery) (EventKind, bool) {
	ntFound := ClassifyTarget(m.Header.Get("NT")) != SearchUnknown
	_, usnErr := ParseUSN(d.USN)
	usnFound := d.USN != "" && usnErr == nil
	switch m.Header.Get("NTS") {
	case NTSAlive:
		if !ntFound || !usnFound || d.Location == "" || d.Expires <= 0 {
			return 0, false
		}
		return EventAlive, true
	case NTSByebye:
		if !ntFound || !usnFound {
			return 0, false
		}
		return EventByebye, true
	default:
		return 0, false
	}
}

// matches reports whether a response with search target st belongs to s.
func (s *search) matches(st string, stType SearchType) bool {
	switch s.typ {
	case SearchAll:
		return true
	case SearchRootDevice:
		return stType == SearchRootDevice
	case SearchDeviceUDN:
		return stType == SearchDeviceUDN && st == s.target
	case SearchDeviceType, SearchService:
		n := min(len(st), len(s.target))
		return s.target[:n] == st[:n]
	default:
		return false
	}
}

func (c *ControlPoint) dispatch(kind EventKind, d *Discovery, cookie any) {
	if c.callback == nil {
		return
	}
	_, err := c.jobs.Add(threadpool.Job{
		Priority: threadpool.PriorityMed,
		Func:     func(context.Context) { c.callback(kind, d, cookie) },
	})
	if err != nil {
		c.logger.Warn("ssdp callback dropped", "event", kind, "error", err)
	}
}

// parseDiscovery extracts the discovery fields. It fails when
// CACHE-CONTROL is present but carries no valid max-age.
func parseDiscovery(m *httpmsg.Message, src netip.AddrPort) (*Discovery, bool) {
	d := &Discovery{Expires: -1, DestAddr: src}
	if cc, ok := m.Header.Lookup("CACHE-CONTROL"); ok {
		d.Expires = parseMaxAge(cc)
		if d.Expires < 0 {
			return nil, false
		}
	}
	d.Date = m.Header.Get("DATE")
	d.Ext = m.Header.Get("EXT")
	d.Location = m.Header.Get("LOCATION")
	if server, ok := m.Header.Lookup("SERVER"); ok {
		d.Os = server
	} else {
		d.Os = m.Header.Get("USER-AGENT")
	}
	d.USN = m.Header.Get("USN")
	d.BootID = m.Header.Get("BOOTID.UPNP.ORG")
	d.ConfigID = m.Header.Get("CONFIGID.UPNP.ORG")

	nt := m.Header.Get("NT")
	if !m.Request {
		nt = m.Header.Get("ST")
	}
	var merged USN
	if u, err := ParseUSN(nt); err == nil {
		merged = u
	}
	if u, err := ParseUSN(d.USN); err == nil {
		if u.UDN != "" {
			merged.UDN = u.UDN
		}
		if u.DeviceType != "" {
			merged.DeviceType = u.DeviceType
		}
		if u.ServiceType != "" {
			merged.ServiceType = u.ServiceType
			merged.ServiceVersion = u.ServiceVersion
		}
	}
	d.DeviceID = merged.UDN
	d.DeviceType = merged.DeviceType
	d.ServiceType = merged.ServiceType
	if merged.ServiceVersion > 0 {
		d.ServiceVer = strconv.Itoa(merged.ServiceVersion)
	}
	return d, true
}

func (c *ControlPoint) captureState(state, target string) {
	c.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		LocalRole: log.RoleControlPoint,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySearch,
			NewState: state,
			Reason:   strings.TrimSpace(target),
		},
	})
}
