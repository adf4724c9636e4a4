package gena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/metrics"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
)

// Publisher errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAlreadyAccepted      = errors.New("subscription already accepted")
)

// Publisher defaults.
const (
	DefaultTimeout                = 1801 * time.Second
	DefaultMaxSubscriptionTimeout = 1800 * time.Second
	DefaultMaxSubscriptions       = 100
	DefaultMaxQueued              = 10
	DefaultMaxEventAge            = 30 * time.Second
)

const contentTypeXML = `text/xml; charset="utf-8"`

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Server is sent as SERVER on subscription responses.
	Server string

	// MaxSubscriptions limits the subscriptions per service.
	MaxSubscriptions int

	// MaxSubscriptionTimeout caps granted timeouts. Infinite grants what
	// the subscriber asks for.
	MaxSubscriptionTimeout time.Duration

	// MaxQueued limits the notifications waiting per subscription.
	MaxQueued int

	// MaxEventAge drops queued notifications older than this.
	MaxEventAge time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        *metrics.Metrics
}

// DefaultPublisherConfig returns the default publisher configuration.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MaxSubscriptions:       DefaultMaxSubscriptions,
		MaxSubscriptionTimeout: DefaultMaxSubscriptionTimeout,
		MaxQueued:              DefaultMaxQueued,
		MaxEventAge:            DefaultMaxEventAge,
	}
}

// SubscriptionRequest reports a new subscription to the device
// application.
type SubscriptionRequest struct {
	UDN       string
	ServiceID string
	SID       string
}

type serviceKey struct {
	udn       string
	serviceID string
}

type notification struct {
	seq    uint32
	body   []byte
	queued time.Time
}

type subscription struct {
	sid       string
	key       serviceKey
	callbacks []string
	timeout   time.Duration

	expiry    timer.EventID
	hasExpiry bool

	active  bool
	removed bool
	seq     uint32
	queue   []*notification
	sending bool
}

// Publisher manages the subscriptions of the device side.
type Publisher struct {
	mu     sync.Mutex
	config PublisherConfig
	client Requester
	sched  Scheduler
	jobs   JobQueue

	onSubscribe func(SubscriptionRequest)

	roots []*description.Root
	subs  map[string]*subscription

	logger *slog.Logger
	plog   log.Logger
	now    func() time.Time
}

var _ http.Handler = (*Publisher)(nil)

// NewPublisher creates a publisher. onSubscribe runs on a pool job for
// every new subscription and may be nil.
func NewPublisher(config PublisherConfig, client Requester, sched Scheduler, jobs JobQueue, onSubscribe func(SubscriptionRequest)) *Publisher {
	def := DefaultPublisherConfig()
	if config.MaxSubscriptions <= 0 {
		config.MaxSubscriptions = def.MaxSubscriptions
	}
	if config.MaxSubscriptionTimeout == 0 {
		config.MaxSubscriptionTimeout = def.MaxSubscriptionTimeout
	}
	if config.MaxQueued <= 0 {
		config.MaxQueued = def.MaxQueued
	}
	if config.MaxEventAge <= 0 {
		config.MaxEventAge = def.MaxEventAge
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Publisher{
		config:      config,
		client:      client,
		sched:       sched,
		jobs:        jobs,
		onSubscribe: onSubscribe,
		subs:        make(map[string]*subscription),
		logger:      config.Logger,
		plog:        log.OrNoop(config.ProtocolLogger),
		now:         time.Now,
	}
}

// AddRoot serves the event URLs of root.
func (p *Publisher) AddRoot(root *description.Root) {
	p.mu.Lock()
	p.roots = append(p.roots, root)
	p.mu.Unlock()
}

// RemoveRoot stops serving root and drops the subscriptions of its
// devices.
func (p *Publisher) RemoveRoot(root *description.Root) {
	udns := make(map[string]bool)
	for _, d := range root.Walk() {
		udns[d.UDN] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.roots {
		if r == root {
			p.roots = append(p.roots[:i], p.roots[i+1:]...)
			break
		}
	}
	for _, sub := range p.subs {
		if udns[sub.key.udn] {
			p.removeLocked(sub, "DEVICE_REMOVED")
		}
	}
}

// Subscriptions returns the SIDs of the subscriptions to a service.
func (p *Publisher) Subscriptions(udn, serviceID string) []string {
	key := serviceKey{udn: udn, serviceID: serviceID}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for sid, sub := range p.subs {
		if sub.key == key {
			out = append(out, sid)
		}
	}
	return out
}

// ServeHTTP handles SUBSCRIBE and UNSUBSCRIBE requests.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "SUBSCRIBE":
		if r.Header.Get("NT") != "" {
			p.subscribe(w, r)
		} else {
			p.renew(w, r)
		}
	case "UNSUBSCRIBE":
		p.unsubscribe(w, r)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (p *Publisher) subscribe(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("SID") != "" {
		p.fail(w, r, http.StatusBadRequest, "SID with NT")
		return
	}
	if r.Header.Get("NT") != NTEvent {
		p.fail(w, r, http.StatusPreconditionFailed, "bad NT")
		return
	}
	callbacks, err := ParseCallback(r.Header.Get("CALLBACK"))
	if err != nil {
		p.fail(w, r, http.StatusPreconditionFailed, "bad CALLBACK")
		return
	}
	timeout := p.grant(r.Header.Get("TIMEOUT"))

	p.mu.Lock()
	key, ok := p.findServiceLocked(r.URL.Path)
	if !ok {
		p.mu.Unlock()
		p.fail(w, r, http.StatusPreconditionFailed, "unknown event URL")
		return
	}
	if p.countLocked(key) >= p.config.MaxSubscriptions {
		p.mu.Unlock()
		p.fail(w, r, http.StatusInternalServerError, "too many subscriptions")
		return
	}
	sub := &subscription{
		sid:       "uuid:" + uuid.New().String(),
		key:       key,
		callbacks: callbacks,
		timeout:   timeout,
	}
	if err := p.scheduleExpiryLocked(sub); err != nil {
		p.mu.Unlock()
		p.logger.Warn("gena expiry not scheduled", "error", err)
		p.fail(w, r, http.StatusInternalServerError, "timer")
		return
	}
	p.subs[sub.sid] = sub
	n := len(p.subs)
	p.mu.Unlock()

	p.config.Metrics.GENASubscriptions(n)
	p.captureState(sub.sid, "", "SUBSCRIBED")
	p.reply(w, sub.sid, timeout)

	if p.onSubscribe == nil {
		return
	}
	req := SubscriptionRequest{UDN: key.udn, ServiceID: key.serviceID, SID: sub.sid}
	if _, err := p.jobs.Add(threadpool.Job{
		Priority: threadpool.PriorityMed,
		Func:     func(context.Context) { p.onSubscribe(req) },
	}); err != nil {
		p.logger.Warn("subscription request dropped", "sid", sub.sid, "error", err)
	}
}

func (p *Publisher) renew(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("CALLBACK") != "" {
		p.fail(w, r, http.StatusBadRequest, "CALLBACK on renewal")
		return
	}
	sid := r.Header.Get("SID")
	if sid == "" {
		p.fail(w, r, http.StatusPreconditionFailed, "missing SID")
		return
	}
	timeout := p.grant(r.Header.Get("TIMEOUT"))

	p.mu.Lock()
	sub, ok := p.subs[sid]
	key, found := p.findServiceLocked(r.URL.Path)
	if !ok || !found || key != sub.key {
		p.mu.Unlock()
		p.fail(w, r, http.StatusPreconditionFailed, "unknown SID")
		return
	}
	p.cancelExpiryLocked(sub)
	sub.timeout = timeout
	if err := p.scheduleExpiryLocked(sub); err != nil {
		p.removeLocked(sub, "TIMER_FAILED")
		p.mu.Unlock()
		p.fail(w, r, http.StatusInternalServerError, "timer")
		return
	}
	p.mu.Unlock()

	p.captureState(sid, "SUBSCRIBED", "RENEWED")
	p.reply(w, sid, timeout)
}

func (p *Publisher) unsubscribe(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get("SID")
	if sid == "" {
		p.fail(w, r, http.StatusPreconditionFailed, "missing SID")
		return
	}
	if r.Header.Get("NT") != "" || r.Header.Get("CALLBACK") != "" {
		p.fail(w, r, http.StatusBadRequest, "NT or CALLBACK on unsubscribe")
		return
	}
	p.mu.Lock()
	sub, ok := p.subs[sid]
	if !ok {
		p.mu.Unlock()
		p.fail(w, r, http.StatusPreconditionFailed, "unknown SID")
		return
	}
	p.removeLocked(sub, "UNSUBSCRIBED")
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// grant turns a TIMEOUT header into the granted timeout.
func (p *Publisher) grant(header string) time.Duration {
	timeout, err := ParseTimeout(header)
	if err != nil {
		timeout = DefaultTimeout
	}
	limit := p.config.MaxSubscriptionTimeout
	if limit < 0 {
		return timeout
	}
	if timeout < 0 || timeout > limit {
		return limit
	}
	return timeout
}

func (p *Publisher) reply(w http.ResponseWriter, sid string, timeout time.Duration) {
	h := w.Header()
	h.Set("SID", sid)
	h.Set("TIMEOUT", FormatTimeout(timeout))
	if p.config.Server != "" {
		h.Set("Server", p.config.Server)
	}
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

func (p *Publisher) fail(w http.ResponseWriter, r *http.Request, code int, reason string) {
	p.logger.Debug("gena request refused", "method", r.Method, "path", r.URL.Path, "status", code, "reason", reason)
	w.WriteHeader(code)
}

func (p *Publisher) findServiceLocked(path string) (serviceKey, bool) {
	for _, root := range p.roots {
		if d, s, err := root.FindServiceByURL(path, true); err == nil {
			return serviceKey{udn: d.UDN, serviceID: s.ServiceID}, true
		}
	}
	return serviceKey{}, false
}

func (p *Publisher) hasServiceLocked(key serviceKey) bool {
	for _, root := range p.roots {
		if _, err := root.FindService(key.udn, key.serviceID); err == nil {
			return true
		}
	}
	return false
}

func (p *Publisher) countLocked(key serviceKey) int {
	n := 0
	for _, sub := range p.subs {
		if sub.key == key {
			n++
		}
	}
	return n
}

func (p *Publisher) scheduleExpiryLocked(sub *subscription) error {
	if sub.timeout < 0 {
		return nil
	}
	id, err := p.sched.Schedule(timer.After(sub.timeout), threadpool.Job{
		Priority: threadpool.PriorityMed,
		Func:     func(context.Context) { p.expire(sub) },
	}, timer.ShortTerm)
	if err != nil {
		return err
	}
	sub.expiry, sub.hasExpiry = id, true
	return nil
}

func (p *Publisher) cancelExpiryLocked(sub *subscription) {
	if sub.hasExpiry {
		_, _ = p.sched.Remove(sub.expiry)
		sub.hasExpiry = false
	}
}

func (p *Publisher) expire(sub *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs[sub.sid] != sub {
		return
	}
	sub.hasExpiry = false
	p.removeLocked(sub, "EXPIRED")
}

func (p *Publisher) removeLocked(sub *subscription, state string) {
	p.cancelExpiryLocked(sub)
	sub.removed = true
	sub.queue = nil
	delete(p.subs, sub.sid)
	p.config.Metrics.GENASubscriptions(len(p.subs))
	p.captureState(sub.sid, "", state)
}

// Accept activates a subscription and queues its initial event with
// SEQ 0.
func (p *Publisher) Accept(udn, serviceID, sid string, props []Property) error {
	body, err := BuildPropertySet(props)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[sid]
	if !ok || sub.key != (serviceKey{udn: udn, serviceID: serviceID}) {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, sid)
	}
	if sub.active {
		return fmt.Errorf("%w: %s", ErrAlreadyAccepted, sid)
	}
	sub.active = true
	sub.seq = 1
	p.enqueueLocked(sub, &notification{seq: 0, body: body, queued: p.now()})
	return nil
}

// Notify queues an event for every accepted subscription to a service.
func (p *Publisher) Notify(udn, serviceID string, props []Property) error {
	body, err := BuildPropertySet(props)
	if err != nil {
		return err
	}
	key := serviceKey{udn: udn, serviceID: serviceID}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasServiceLocked(key) {
		return fmt.Errorf("%w: %s %s", description.ErrServiceNotFound, udn, serviceID)
	}
	now := p.now()
	for _, sub := range p.subs {
		if sub.key != key || !sub.active {
			continue
		}
		seq := sub.seq
		sub.seq = nextSEQ(seq)
		p.enqueueLocked(sub, &notification{seq: seq, body: body, queued: now})
	}
	return nil
}

func (p *Publisher) enqueueLocked(sub *subscription, n *notification) {
	sub.queue = append(sub.queue, n)
	p.discardLocked(sub)
	if sub.sending {
		return
	}
	sub.sending = true
	if _, err := p.jobs.Add(threadpool.Job{
		Priority: threadpool.PriorityMed,
		Func:     func(ctx context.Context) { p.drain(ctx, sub) },
	}); err != nil {
		sub.sending = false
		p.logger.Warn("gena notify not queued", "sid", sub.sid, "error", err)
	}
}

// discardLocked drops the oldest events beyond MaxQueued or MaxEventAge.
// The newest event always stays.
func (p *Publisher) discardLocked(sub *subscription) {
	now := p.now()
	for len(sub.queue) > 1 {
		head := sub.queue[0]
		if len(sub.queue) <= p.config.MaxQueued && now.Sub(head.queued) <= p.config.MaxEventAge {
			return
		}
		sub.queue = sub.queue[1:]
		p.config.Metrics.GENANotification("dropped")
		p.logger.Debug("gena event dropped", "sid", sub.sid, "seq", head.seq)
	}
}

func (p *Publisher) drain(ctx context.Context, sub *subscription) {
	for {
		p.mu.Lock()
		if sub.removed || len(sub.queue) == 0 {
			sub.sending = false
			p.mu.Unlock()
			return
		}
		p.discardLocked(sub)
		n := sub.queue[0]
		sub.queue = sub.queue[1:]
		callbacks := sub.callbacks
		p.mu.Unlock()

		code, err := p.send(ctx, sub.sid, callbacks, n)
		switch {
		case err == nil:
			p.config.Metrics.GENANotification("ok")
		case code == http.StatusPreconditionFailed:
			p.config.Metrics.GENANotification("failed")
			p.mu.Lock()
			if p.subs[sub.sid] == sub {
				p.removeLocked(sub, "REJECTED")
			}
			p.mu.Unlock()
		default:
			p.config.Metrics.GENANotification("failed")
			p.logger.Debug("gena notify failed", "sid", sub.sid, "seq", n.seq, "error", err)
		}
	}
}

// send tries the callback URLs in order until one accepts the event. It
// returns the last status code received.
func (p *Publisher) send(ctx context.Context, sid string, callbacks []string, n *notification) (int, error) {
	var header httpmsg.Header
	header.Add("CONTENT-TYPE", contentTypeXML)
	header.Add("NT", NTEvent)
	header.Add("NTS", NTSPropChange)
	header.Add("SID", sid)
	header.Add("SEQ", strconv.FormatUint(uint64(n.seq), 10))

	var errs []error
	code := 0
	for _, url := range callbacks {
		resp, err := p.client.Do(ctx, "NOTIFY", url, header, n.body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		code = resp.StatusCode
		if code == http.StatusOK {
			return code, nil
		}
		errs = append(errs, fmt.Errorf("%s: status %d", url, code))
	}
	return code, errors.Join(errs...)
}

func (p *Publisher) captureState(sid, old, state string) {
	p.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryGENA,
		LocalRole: log.RoleDevice,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: old,
			NewState: state,
			Reason:   sid,
		},
	})
}
