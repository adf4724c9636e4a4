package gena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
)

// Subscriber errors.
var (
	ErrSubscribeFailed = errors.New("subscription request failed")
	ErrClosed          = errors.New("subscriber closed")
)

// Subscriber defaults.
const (
	// MinimumTimeout is the shortest timeout a subscriber asks for.
	MinimumTimeout = 15 * time.Second

	DefaultAutoRenewMargin = 10 * time.Second
	DefaultSubscribeWait   = 2 * time.Second

	maxNotifyBody = 1 << 20
)

// EventKind identifies a subscriber callback.
type EventKind uint8

const (
	EventReceived EventKind = iota
	EventRenewalComplete
	EventSubscribeComplete
	EventUnsubscribeComplete
	EventAutoRenewalFailed
	EventSubscriptionExpired
)

// String returns the event name.
func (e EventKind) String() string {
	switch e {
	case EventReceived:
		return "EVENT_RECEIVED"
	case EventRenewalComplete:
		return "EVENT_RENEWAL_COMPLETE"
	case EventSubscribeComplete:
		return "EVENT_SUBSCRIBE_COMPLETE"
	case EventUnsubscribeComplete:
		return "EVENT_UNSUBSCRIBE_COMPLETE"
	case EventAutoRenewalFailed:
		return "EVENT_AUTORENEWAL_FAILED"
	case EventSubscriptionExpired:
		return "EVENT_SUBSCRIPTION_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Event is a received property change notification.
type Event struct {
	SID      string
	EventKey uint32
	Changed  []Property
}

// SubscriptionEvent reports the outcome of a subscription operation.
type SubscriptionEvent struct {
	Err          error
	Timeout      time.Duration
	SID          string
	PublisherURL string
}

// Callback receives *Event for EventReceived and *SubscriptionEvent for
// the other kinds.
type Callback func(kind EventKind, data any)

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	// CallbackURL is sent in CALLBACK, e.g. "http://192.168.1.2:49152/".
	CallbackURL string

	// AutoRenewMargin renews subscriptions this long before they expire.
	// Zero turns renewal off: EventSubscriptionExpired is reported when
	// the subscription times out.
	AutoRenewMargin time.Duration

	// SubscribeWait bounds how long an initial event for an unknown SID
	// waits for a subscription in flight.
	SubscribeWait time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// DefaultSubscriberConfig returns the default subscriber configuration.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		AutoRenewMargin: DefaultAutoRenewMargin,
		SubscribeWait:   DefaultSubscribeWait,
	}
}

type clientSubscription struct {
	sid       string
	url       string
	requested time.Duration
	timeout   time.Duration

	renew    timer.EventID
	hasRenew bool
}

// Subscriber manages the subscriptions of a control point.
type Subscriber struct {
	mu     sync.Mutex
	config SubscriberConfig
	client Requester
	sched  Scheduler
	jobs   JobQueue
	cb     Callback

	subs     map[string]*clientSubscription
	inflight int
	changed  chan struct{}
	closed   bool

	logger *slog.Logger
	plog   log.Logger
}

// NewSubscriber creates a subscriber.
func NewSubscriber(config SubscriberConfig, client Requester, sched Scheduler, jobs JobQueue, cb Callback) *Subscriber {
	def := DefaultSubscriberConfig()
	config.AutoRenewMargin = max(config.AutoRenewMargin, 0)
	if config.SubscribeWait <= 0 {
		config.SubscribeWait = def.SubscribeWait
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Subscriber{
		config:  config,
		client:  client,
		sched:   sched,
		jobs:    jobs,
		cb:      cb,
		subs:    make(map[string]*clientSubscription),
		changed: make(chan struct{}),
		logger:  config.Logger,
		plog:    log.OrNoop(config.ProtocolLogger),
	}
}

// SetCallbackURL changes the CALLBACK sent with new subscriptions.
func (s *Subscriber) SetCallbackURL(url string) {
	s.mu.Lock()
	s.config.CallbackURL = url
	s.mu.Unlock()
}

// requestTimeout applies the minimum; negative means infinite.
func requestTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return Infinite
	}
	return max(d, MinimumTimeout)
}

// Subscribe subscribes to the event URL publisherURL and returns the SID
// and the granted timeout.
func (s *Subscriber) Subscribe(ctx context.Context, publisherURL string, timeout time.Duration) (string, time.Duration, error) {
	timeout = requestTimeout(timeout)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", 0, ErrClosed
	}
	callback := s.config.CallbackURL
	s.inflight++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	var header httpmsg.Header
	header.Add("CALLBACK", "<"+callback+">")
	header.Add("NT", NTEvent)
	header.Add("TIMEOUT", FormatTimeout(timeout))
	sid, granted, err := s.request(ctx, "SUBSCRIBE", publisherURL, header)
	if err != nil {
		return "", 0, err
	}

	sub := &clientSubscription{sid: sid, url: publisherURL, requested: timeout, timeout: granted}
	s.mu.Lock()
	s.subs[sid] = sub
	s.scheduleRenewLocked(sub)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	s.captureState(sid, "", "SUBSCRIBED")
	return sid, granted, nil
}

// Renew renews a subscription. A failed renewal drops the subscription.
func (s *Subscriber) Renew(ctx context.Context, sid string, timeout time.Duration) (time.Duration, error) {
	timeout = requestTimeout(timeout)
	s.mu.Lock()
	sub, ok := s.subs[sid]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, sid)
	}
	s.cancelRenewLocked(sub)
	url := sub.url
	s.mu.Unlock()

	var header httpmsg.Header
	header.Add("SID", sid)
	header.Add("TIMEOUT", FormatTimeout(timeout))
	got, granted, err := s.request(ctx, "SUBSCRIBE", url, header)
	if err == nil && got != sid {
		err = fmt.Errorf("%w: renewal answered with SID %s", ErrSubscribeFailed, got)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[sid] != sub {
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrSubscriptionNotFound, sid)
		}
		return 0, err
	}
	if err != nil {
		delete(s.subs, sid)
		s.captureState(sid, "SUBSCRIBED", "RENEWAL_FAILED")
		return 0, err
	}
	sub.requested, sub.timeout = timeout, granted
	s.scheduleRenewLocked(sub)
	return granted, nil
}

// Unsubscribe cancels a subscription. The local state is dropped even
// when the publisher cannot be reached.
func (s *Subscriber) Unsubscribe(ctx context.Context, sid string) error {
	s.mu.Lock()
	sub, ok := s.subs[sid]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, sid)
	}
	s.cancelRenewLocked(sub)
	delete(s.subs, sid)
	s.mu.Unlock()
	s.captureState(sid, "SUBSCRIBED", "UNSUBSCRIBED")

	var header httpmsg.Header
	header.Add("SID", sid)
	resp, err := s.client.Do(ctx, "UNSUBSCRIBE", sub.url, header, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrSubscribeFailed, resp.StatusCode)
	}
	return nil
}

// Subscriptions returns the SIDs of the active subscriptions.
func (s *Subscriber) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for sid := range s.subs {
		out = append(out, sid)
	}
	return out
}

// PublisherURL returns the event URL of a subscription.
func (s *Subscriber) PublisherURL(sid string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[sid]
	if !ok {
		return "", false
	}
	return sub.url, true
}

// Close forgets all subscriptions without contacting the publishers.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		s.cancelRenewLocked(sub)
	}
	clear(s.subs)
	s.closed = true
}

func (s *Subscriber) request(ctx context.Context, method, url string, header httpmsg.Header) (string, time.Duration, error) {
	resp, err := s.client.Do(ctx, method, url, header, nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: status %d", ErrSubscribeFailed, resp.StatusCode)
	}
	sid := resp.Header.Get("SID")
	if sid == "" {
		return "", 0, fmt.Errorf("%w: no SID", ErrSubscribeFailed)
	}
	granted, err := ParseTimeout(resp.Header.Get("TIMEOUT"))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return sid, granted, nil
}

func (s *Subscriber) scheduleRenewLocked(sub *clientSubscription) {
	if sub.timeout < 0 {
		return
	}
	delay := max(sub.timeout-s.config.AutoRenewMargin, 0)
	id, err := s.sched.Schedule(timer.After(delay), threadpool.Job{
		Priority: threadpool.PriorityMed,
		Func:     func(ctx context.Context) { s.autoRenew(ctx, sub) },
	}, timer.ShortTerm)
	if err != nil {
		s.logger.Warn("gena renewal not scheduled", "sid", sub.sid, "error", err)
		return
	}
	sub.renew, sub.hasRenew = id, true
}

func (s *Subscriber) cancelRenewLocked(sub *clientSubscription) {
	if sub.hasRenew {
		_, _ = s.sched.Remove(sub.renew)
		sub.hasRenew = false
	}
}

func (s *Subscriber) autoRenew(ctx context.Context, sub *clientSubscription) {
	s.mu.Lock()
	if s.subs[sub.sid] != sub {
		s.mu.Unlock()
		return
	}
	sub.hasRenew = false
	ev := &SubscriptionEvent{SID: sub.sid, PublisherURL: sub.url, Timeout: sub.timeout}
	if s.config.AutoRenewMargin == 0 {
		delete(s.subs, sub.sid)
		s.mu.Unlock()
		s.captureState(sub.sid, "SUBSCRIBED", "EXPIRED")
		s.notify(EventSubscriptionExpired, ev)
		return
	}
	requested := sub.requested
	s.mu.Unlock()

	granted, err := s.Renew(ctx, sub.sid, requested)
	if err != nil {
		ev.Err = err
		s.logger.Debug("gena auto renewal failed", "sid", sub.sid, "error", err)
		s.notify(EventAutoRenewalFailed, ev)
		return
	}
	s.logger.Debug("gena subscription renewed", "sid", sub.sid, "timeout", granted)
}

func (s *Subscriber) notify(kind EventKind, data any) {
	if s.cb != nil {
		s.cb(kind, data)
	}
}

// HandleNotify serves a NOTIFY request from a publisher.
func (s *Subscriber) HandleNotify(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get("SID")
	if sid == "" {
		s.refuse(w, r, http.StatusPreconditionFailed, "missing SID")
		return
	}
	seq, err := ParseSEQ(r.Header.Get("SEQ"))
	if err != nil {
		s.refuse(w, r, http.StatusBadRequest, "bad SEQ")
		return
	}
	nt, nts := r.Header.Get("NT"), r.Header.Get("NTS")
	if nt == "" || nts == "" {
		s.refuse(w, r, http.StatusBadRequest, "missing NT or NTS")
		return
	}
	if nt != NTEvent || nts != NTSPropChange {
		s.refuse(w, r, http.StatusPreconditionFailed, "bad NT or NTS")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))
	if err != nil {
		s.refuse(w, r, http.StatusBadRequest, "body")
		return
	}
	props, err := ParsePropertySet(body)
	if err != nil {
		s.refuse(w, r, http.StatusBadRequest, "not a property set")
		return
	}
	if !s.known(r.Context(), sid, seq == 0) {
		s.refuse(w, r, http.StatusPreconditionFailed, "unknown SID")
		return
	}
	w.WriteHeader(http.StatusOK)

	if s.cb == nil {
		return
	}
	ev := &Event{SID: sid, EventKey: seq, Changed: props}
	if _, err := s.jobs.Add(threadpool.Job{
		Priority: threadpool.PriorityMed,
		Func:     func(context.Context) { s.cb(EventReceived, ev) },
	}); err != nil {
		s.logger.Warn("gena event dropped", "sid", sid, "error", err)
	}
}

// known reports whether sid is subscribed. With wait set it gives a
// subscription in flight up to SubscribeWait to complete.
func (s *Subscriber) known(ctx context.Context, sid string, wait bool) bool {
	deadline := time.NewTimer(s.config.SubscribeWait)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		_, ok := s.subs[sid]
		pending := s.inflight > 0
		changed := s.changed
		s.mu.Unlock()
		if ok || !wait || !pending {
			return ok
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Subscriber) refuse(w http.ResponseWriter, r *http.Request, code int, reason string) {
	s.logger.Debug("gena notify refused", "from", r.RemoteAddr, "status", code, "reason", reason)
	w.WriteHeader(code)
}

func (s *Subscriber) captureState(sid, old, state string) {
	s.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryGENA,
		LocalRole: log.RoleControlPoint,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: old,
			NewState: state,
			Reason:   sid,
		},
	})
}
