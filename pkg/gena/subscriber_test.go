package gena

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
)

const publisherURL = "http://192.168.1.5:49152/upnp/event/tvcontrol1"

type subscriberEvent struct {
	kind EventKind
	data any
}

type subscriberFixture struct {
	s     *Subscriber
	req   *fakeRequester
	sched *fakeScheduler
	jobs  *queuedJobs

	mu     sync.Mutex
	events []subscriberEvent
}

func newSubscriber(t *testing.T, cfg SubscriberConfig) *subscriberFixture {
	t.Helper()
	f := &subscriberFixture{req: &fakeRequester{}, sched: newFakeScheduler(), jobs: &queuedJobs{}}
	f.req.respond = grantWith("uuid:sub-1", "Second-300")
	cfg.CallbackURL = "http://192.168.1.20:49152/"
	f.s = NewSubscriber(cfg, f.req, f.sched, f.jobs, func(kind EventKind, data any) {
		f.mu.Lock()
		f.events = append(f.events, subscriberEvent{kind, data})
		f.mu.Unlock()
	})
	return f
}

func (f *subscriberFixture) all() []subscriberEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscriberEvent(nil), f.events...)
}

func grantWith(sid, timeout string) func(call) (*httpmsg.Response, error) {
	return func(call) (*httpmsg.Response, error) {
		h := http.Header{}
		h.Set("SID", sid)
		h.Set("TIMEOUT", timeout)
		return &httpmsg.Response{StatusCode: http.StatusOK, Header: h}, nil
	}
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "EVENT_RECEIVED", EventReceived.String())
	assert.Equal(t, "EVENT_AUTORENEWAL_FAILED", EventAutoRenewalFailed.String())
	assert.Equal(t, "EVENT_SUBSCRIPTION_EXPIRED", EventSubscriptionExpired.String())
}

func TestSubscriberSubscribe(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	sid, granted, err := f.s.Subscribe(context.Background(), publisherURL, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "uuid:sub-1", sid)
	assert.Equal(t, 300*time.Second, granted)

	calls := f.req.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "SUBSCRIBE", calls[0].method)
	assert.Equal(t, publisherURL, calls[0].url)
	assert.Equal(t, "<http://192.168.1.20:49152/>", calls[0].header.Get("CALLBACK"))
	assert.Equal(t, NTEvent, calls[0].header.Get("NT"))
	assert.Equal(t, "Second-15", calls[0].header.Get("TIMEOUT"))

	pending := f.sched.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 290*time.Second, pending[0].timeout.After)

	url, ok := f.s.PublisherURL(sid)
	assert.True(t, ok)
	assert.Equal(t, publisherURL, url)
	assert.Equal(t, []string{sid}, f.s.Subscriptions())
}

func TestSubscriberSubscribeInfinite(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	f.req.respond = grantWith("uuid:sub-1", "Second-infinite")
	_, granted, err := f.s.Subscribe(context.Background(), publisherURL, -1)
	require.NoError(t, err)
	assert.Equal(t, Infinite, granted)
	assert.Equal(t, "Second-infinite", f.req.all()[0].header.Get("TIMEOUT"))
	assert.Empty(t, f.sched.pending())
}

func TestSubscriberSubscribeFailures(t *testing.T) {
	tests := []struct {
		name    string
		respond func(call) (*httpmsg.Response, error)
	}{
		{"transport", func(call) (*httpmsg.Response, error) { return nil, errors.New("refused") }},
		{"status", func(call) (*httpmsg.Response, error) {
			return &httpmsg.Response{StatusCode: http.StatusPreconditionFailed, Header: http.Header{}}, nil
		}},
		{"no SID", grantWith("", "Second-300")},
		{"bad TIMEOUT", grantWith("uuid:x", "never")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSubscriber(t, DefaultSubscriberConfig())
			f.req.respond = tt.respond
			_, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
			assert.ErrorIs(t, err, ErrSubscribeFailed)
			assert.Empty(t, f.s.Subscriptions())
		})
	}
}

func TestSubscriberRenew(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	sid, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
	require.NoError(t, err)

	f.req.respond = grantWith(sid, "Second-120")
	granted, err := f.s.Renew(context.Background(), sid, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, granted)

	c := f.req.all()[1]
	assert.Equal(t, "SUBSCRIBE", c.method)
	assert.Equal(t, sid, c.header.Get("SID"))
	assert.False(t, c.header.Has("CALLBACK"))
	assert.False(t, c.header.Has("NT"))
	assert.Equal(t, 1, f.sched.removed)
	require.Len(t, f.sched.pending(), 1)
	assert.Equal(t, 110*time.Second, f.sched.pending()[0].timeout.After)

	_, err = f.s.Renew(context.Background(), "uuid:unknown", time.Minute)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestSubscriberRenewFailureDropsSubscription(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	sid, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
	require.NoError(t, err)

	f.req.respond = grantWith("uuid:someone-else", "Second-120")
	_, err = f.s.Renew(context.Background(), sid, time.Minute)
	assert.ErrorIs(t, err, ErrSubscribeFailed)
	assert.Empty(t, f.s.Subscriptions())
}

func TestSubscriberUnsubscribe(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	sid, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
	require.NoError(t, err)

	f.req.respond = nil
	require.NoError(t, f.s.Unsubscribe(context.Background(), sid))
	c := f.req.all()[1]
	assert.Equal(t, "UNSUBSCRIBE", c.method)
	assert.Equal(t, sid, c.header.Get("SID"))
	assert.Empty(t, f.s.Subscriptions())
	assert.Empty(t, f.sched.pending())

	assert.ErrorIs(t, f.s.Unsubscribe(context.Background(), sid), ErrSubscriptionNotFound)
}

func TestSubscriberAutoRenew(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	sid, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
	require.NoError(t, err)

	f.req.respond = grantWith(sid, "Second-300")
	f.sched.run()
	calls := f.req.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "Second-60", calls[1].header.Get("TIMEOUT"))
	assert.Len(t, f.sched.pending(), 1)
	assert.Empty(t, f.all())

	f.req.respond = func(call) (*httpmsg.Response, error) { return nil, errors.New("gone") }
	f.sched.run()
	events := f.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventAutoRenewalFailed, events[0].kind)
	ev := events[0].data.(*SubscriptionEvent)
	assert.Equal(t, sid, ev.SID)
	assert.Equal(t, publisherURL, ev.PublisherURL)
	assert.ErrorIs(t, ev.Err, ErrSubscribeFailed)
	assert.Empty(t, f.s.Subscriptions())
}

func TestSubscriberZeroMarginExpires(t *testing.T) {
	cfg := DefaultSubscriberConfig()
	cfg.AutoRenewMargin = 0
	f := newSubscriber(t, cfg)
	sid, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, f.sched.pending()[0].timeout.After)

	f.sched.run()
	events := f.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventSubscriptionExpired, events[0].kind)
	assert.Equal(t, sid, events[0].data.(*SubscriptionEvent).SID)
	assert.Len(t, f.req.all(), 1)
}

func notifyRequest(headers ...string) *http.Request {
	body, _ := BuildPropertySet([]Property{{Name: "Power", Value: "1"}})
	r := httptest.NewRequest("NOTIFY", "/", strings.NewReader(string(body)))
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	return r
}

func TestHandleNotify(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	sid, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers []string
		code    int
	}{
		{"valid", []string{"SID", sid, "SEQ", "3", "NT", NTEvent, "NTS", NTSPropChange}, http.StatusOK},
		{"missing SID", []string{"SEQ", "3", "NT", NTEvent, "NTS", NTSPropChange}, http.StatusPreconditionFailed},
		{"missing SEQ", []string{"SID", sid, "NT", NTEvent, "NTS", NTSPropChange}, http.StatusBadRequest},
		{"bad SEQ", []string{"SID", sid, "SEQ", "x", "NT", NTEvent, "NTS", NTSPropChange}, http.StatusBadRequest},
		{"missing NT", []string{"SID", sid, "SEQ", "3", "NTS", NTSPropChange}, http.StatusBadRequest},
		{"missing NTS", []string{"SID", sid, "SEQ", "3", "NT", NTEvent}, http.StatusBadRequest},
		{"wrong NT", []string{"SID", sid, "SEQ", "3", "NT", "upnp:other", "NTS", NTSPropChange}, http.StatusPreconditionFailed},
		{"wrong NTS", []string{"SID", sid, "SEQ", "3", "NT", NTEvent, "NTS", "ssdp:alive"}, http.StatusPreconditionFailed},
		{"unknown SID", []string{"SID", "uuid:unknown", "SEQ", "3", "NT", NTEvent, "NTS", NTSPropChange}, http.StatusPreconditionFailed},
		{"unknown SID initial event", []string{"SID", "uuid:unknown", "SEQ", "0", "NT", NTEvent, "NTS", NTSPropChange}, http.StatusPreconditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.s.HandleNotify(w, notifyRequest(tt.headers...))
			assert.Equal(t, tt.code, w.Code)
		})
	}

	f.jobs.run()
	events := f.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventReceived, events[0].kind)
	ev := events[0].data.(*Event)
	assert.Equal(t, sid, ev.SID)
	assert.Equal(t, uint32(3), ev.EventKey)
	assert.Equal(t, []Property{{Name: "Power", Value: "1"}}, ev.Changed)
}

func TestHandleNotifyBadBody(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	sid, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("NOTIFY", "/", strings.NewReader("<html/>"))
	r.Header.Set("SID", sid)
	r.Header.Set("SEQ", "1")
	r.Header.Set("NT", NTEvent)
	r.Header.Set("NTS", NTSPropChange)
	w := httptest.NewRecorder()
	f.s.HandleNotify(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitialEventWaitsForSubscribe(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	release := make(chan struct{})
	f.req.respond = func(c call) (*httpmsg.Response, error) {
		<-release
		return grantWith("uuid:late", "Second-300")(c)
	}

	subscribed := make(chan error, 1)
	go func() {
		_, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
		subscribed <- err
	}()
	require.Eventually(t, func() bool {
		f.s.mu.Lock()
		defer f.s.mu.Unlock()
		return f.s.inflight > 0
	}, time.Second, time.Millisecond)

	code := make(chan int, 1)
	go func() {
		w := httptest.NewRecorder()
		f.s.HandleNotify(w, notifyRequest("SID", "uuid:late", "SEQ", "0", "NT", NTEvent, "NTS", NTSPropChange))
		code <- w.Code
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-subscribed)
	assert.Equal(t, http.StatusOK, <-code)
}

func TestSubscriberClose(t *testing.T) {
	f := newSubscriber(t, DefaultSubscriberConfig())
	_, _, err := f.s.Subscribe(context.Background(), publisherURL, time.Minute)
	require.NoError(t, err)
	f.s.Close()
	assert.Empty(t, f.s.Subscriptions())
	assert.Empty(t, f.sched.pending())
	_, _, err = f.s.Subscribe(context.Background(), publisherURL, time.Minute)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHandlerRoutes(t *testing.T) {
	h := &Handler{}
	for _, method := range []string{"SUBSCRIBE", "UNSUBSCRIBE", "NOTIFY", http.MethodGet} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(method, "/", nil))
		assert.Equal(t, http.StatusNotImplemented, w.Code, method)
	}

	f := newSubscriber(t, DefaultSubscriberConfig())
	h.Subscriber = f.s
	w := httptest.NewRecorder()
	h.ServeHTTP(w, notifyRequest("SEQ", "0"))
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}
