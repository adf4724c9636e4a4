package upnp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upnpsdk/upnpsdk-go/pkg/gena"
	"github.com/upnpsdk/upnpsdk-go/pkg/soap"
)

const (
	tvUDN       = "uuid:2fac1234-31f8-11b4-a222-08002b34c003"
	tvControl   = "urn:schemas-upnp-org:service:tvcontrol:1"
	tvControlID = "urn:upnp-org:serviceId:tvcontrol1"
)

const tvDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:tvdevice:1</deviceType>
    <friendlyName>UPnP Television Emulator</friendlyName>
    <manufacturer>upnpsdk</manufacturer>
    <modelName>TVEmulator</modelName>
    <UDN>` + tvUDN + `</UDN>
    <serviceList>
      <service>
        <serviceType>` + tvControl + `</serviceType>
        <serviceId>` + tvControlID + `</serviceId>
        <SCPDURL>/tvcontrolSCPD.xml</SCPDURL>
        <controlURL>/upnp/control/tvcontrol1</controlURL>
        <eventSubURL>/upnp/event/tvcontrol1</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		e    EventType
		want string
	}{
		{EventControlActionRequest, "CONTROL_ACTION_REQUEST"},
		{EventControlActionComplete, "CONTROL_ACTION_COMPLETE"},
		{EventDiscoveryAlive, "DISCOVERY_ADVERTISEMENT_ALIVE"},
		{EventDiscoveryByebye, "DISCOVERY_ADVERTISEMENT_BYEBYE"},
		{EventDiscoverySearchResult, "DISCOVERY_SEARCH_RESULT"},
		{EventDiscoverySearchTimeout, "DISCOVERY_SEARCH_TIMEOUT"},
		{EventSubscriptionRequest, "EVENT_SUBSCRIPTION_REQUEST"},
		{EventReceived, "EVENT_RECEIVED"},
		{EventRenewalComplete, "EVENT_RENEWAL_COMPLETE"},
		{EventSubscribeComplete, "EVENT_SUBSCRIBE_COMPLETE"},
		{EventUnsubscribeComplete, "EVENT_UNSUBSCRIBE_COMPLETE"},
		{EventAutoRenewalFailed, "EVENT_AUTORENEWAL_FAILED"},
		{EventSubscriptionExpired, "EVENT_SUBSCRIPTION_EXPIRED"},
		{EventType(200), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.e.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.e, got, tt.want)
		}
	}
}

func TestGENAEventMapping(t *testing.T) {
	assert.Equal(t, EventSubscriptionExpired, genaEventType(gena.EventSubscriptionExpired))
	assert.Equal(t, EventAutoRenewalFailed, genaEventType(gena.EventAutoRenewalFailed))
	assert.Equal(t, EventReceived, genaEventType(gena.EventReceived))
}

func TestNew(t *testing.T) {
	_, err := New(Config{Port: -1})
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = New(Config{UDA: "two"})
	assert.ErrorIs(t, err, ErrInvalidParam)

	sdk, err := New(Config{UDA: "1.1"})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sdk.State())
	assert.Contains(t, sdk.ServerToken(), "UPnP/1.1")
}

func TestNotStarted(t *testing.T) {
	sdk, err := New(DefaultConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, sdk.Finish(), ErrFinish)
	_, err = sdk.RegisterClient(func(EventType, any) {})
	assert.ErrorIs(t, err, ErrFinish)
	_, err = sdk.RegisterRootDevice(context.Background(), DeviceDesc{Doc: []byte(tvDescription)}, func(EventType, any) {})
	assert.ErrorIs(t, err, ErrFinish)
	assert.ErrorIs(t, sdk.SetWebDir(t.TempDir()), ErrFinish)

	v4, v6 := sdk.Ports()
	assert.Zero(t, v4)
	assert.Zero(t, v6)
}

func TestStartUnknownInterface(t *testing.T) {
	sdk, err := New(Config{Interface: "no-such-adapter0"})
	require.NoError(t, err)
	err = sdk.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidInterface)
	assert.Equal(t, CodeInvalidInterface, Code(err))
	assert.Equal(t, StateIdle, sdk.State())
}

// startLoopback starts an SDK on the loopback adapter. Environments that
// cannot join a multicast group there skip the test.
func startLoopback(t *testing.T) *SDK {
	t.Helper()
	if testing.Short() {
		t.Skip("network test")
	}
	cfg := DefaultConfig()
	cfg.Interface = "lo"
	cfg.Port = 0
	cfg.DisableIPv6 = true
	cfg.Registry = prometheus.NewRegistry()
	sdk, err := New(cfg)
	require.NoError(t, err)
	if err := sdk.Start(context.Background()); err != nil {
		t.Skipf("loopback SDK not available: %v", err)
	}
	t.Cleanup(func() { _ = sdk.Finish() })
	return sdk
}

type event struct {
	typ  EventType
	data any
}

type recorder struct {
	ch chan event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan event, 64)}
}

func (r *recorder) callback(e EventType, data any) {
	select {
	case r.ch <- event{e, data}:
	default:
	}
}

// next returns the payload of the next event of type want. Other events,
// such as advertisements of unrelated devices, are skipped.
func (r *recorder) next(t *testing.T, want EventType) any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.typ == want {
				return ev.data
			}
		case <-deadline:
			t.Fatalf("no %s event within 5s", want)
			return nil
		}
	}
}

func TestDeviceAndClient(t *testing.T) {
	sdk := startLoopback(t)
	ctx := context.Background()

	assert.ErrorIs(t, sdk.Start(ctx), ErrInit)

	var dev atomic.Pointer[Device]
	deviceCB := func(e EventType, data any) {
		switch e {
		case EventControlActionRequest:
			req := data.(*ActionRequest)
			switch req.ActionName {
			case "PowerOn":
				req.Result = []soap.Argument{{Name: "Power", Value: "1"}}
			default:
				req.Err = soap.NewError(soap.CodeInvalidAction)
			}
		case EventSubscriptionRequest:
			req := data.(*gena.SubscriptionRequest)
			_ = dev.Load().AcceptSubscription(req.UDN, req.ServiceID, req.SID,
				[]gena.Property{{Name: "Power", Value: "0"}})
		}
	}

	d, err := sdk.RegisterRootDevice(ctx, DeviceDesc{Doc: []byte(tvDescription), DocName: "tvdevicedesc.xml"}, deviceCB)
	require.NoError(t, err)
	dev.Store(d)
	assert.Equal(t, tvUDN, d.UDN())
	assert.Contains(t, d.Location(), "/tvdevicedesc.xml")
	assert.NotZero(t, d.BootID())

	_, err = sdk.RegisterRootDevice(ctx, DeviceDesc{Doc: []byte(tvDescription)}, deviceCB)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	resp, err := http.Get(d.Location())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "UPnP Television Emulator")

	rec := newRecorder()
	client, err := sdk.RegisterClient(rec.callback)
	require.NoError(t, err)
	_, err = sdk.RegisterClient(rec.callback)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	root, err := client.DownloadDescription(ctx, d.Location())
	require.NoError(t, err)
	svc, err := root.FindService(tvUDN, tvControlID)
	require.NoError(t, err)

	out, err := client.SendAction(ctx, svc.ControlURL, tvControl, "PowerOn", nil)
	require.NoError(t, err)
	assert.Equal(t, []soap.Argument{{Name: "Power", Value: "1"}}, out)

	_, err = client.SendAction(ctx, svc.ControlURL, tvControl, "Explode", nil)
	assert.Equal(t, soap.CodeInvalidAction, Code(err))

	sid, granted, err := client.Subscribe(ctx, svc.EventSubURL, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, sid)
	assert.Greater(t, granted, time.Duration(0))

	initial, ok := rec.next(t, EventReceived).(*gena.Event)
	require.True(t, ok, "want initial event")
	assert.Equal(t, sid, initial.SID)
	assert.Equal(t, uint32(0), initial.EventKey)
	assert.Equal(t, []gena.Property{{Name: "Power", Value: "0"}}, initial.Changed)
	assert.Equal(t, []string{sid}, d.Subscriptions(tvUDN, tvControlID))

	require.NoError(t, d.Notify(tvUDN, tvControlID, []gena.Property{{Name: "Power", Value: "1"}}))
	changed, ok := rec.next(t, EventReceived).(*gena.Event)
	require.True(t, ok, "want change event")
	assert.Equal(t, uint32(1), changed.EventKey)

	assert.ErrorIs(t, d.Notify(tvUDN, "urn:upnp-org:serviceId:none", nil), ErrInvalidService)
	assert.ErrorIs(t, d.Notify("uuid:other", tvControlID, nil), ErrInvalidDevice)

	require.NoError(t, client.SendActionAsync(svc.ControlURL, tvControl, "PowerOn", nil, "cookie"))
	done, ok := rec.next(t, EventControlActionComplete).(*ActionComplete)
	require.True(t, ok, "want action completion")
	assert.NoError(t, done.Err)
	assert.Equal(t, "cookie", done.Cookie)
	assert.Equal(t, "PowerOn", done.ActionName)

	require.NoError(t, client.UnsubscribeAsync(sid, 7))
	unsub, ok := rec.next(t, EventUnsubscribeComplete).(*SubscriptionEvent)
	require.True(t, ok, "want unsubscribe completion")
	assert.NoError(t, unsub.Err)
	assert.Equal(t, 7, unsub.Cookie)
	assert.Empty(t, client.Subscriptions())

	require.NoError(t, client.Unregister(ctx))
	assert.ErrorIs(t, client.Unregister(ctx), ErrInvalidHandle)
	_, err = client.SendAction(ctx, svc.ControlURL, tvControl, "PowerOn", nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	_ = d.Unregister(ctx)
	assert.ErrorIs(t, d.Unregister(ctx), ErrInvalidHandle)
	assert.ErrorIs(t, d.Notify(tvUDN, tvControlID, nil), ErrInvalidHandle)

	require.NoError(t, sdk.Finish())
	assert.Equal(t, StateStopped, sdk.State())
	assert.ErrorIs(t, sdk.Finish(), ErrFinish)
}

func fetch(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestTwoServedRootDevices(t *testing.T) {
	sdk := startLoopback(t)
	ctx := context.Background()
	cb := func(EventType, any) {}
	const otherUDN = "uuid:00000000-0000-0000-0000-000000000002"

	first, err := sdk.RegisterRootDevice(ctx, DeviceDesc{Doc: []byte(tvDescription), DocName: "a.xml"}, cb)
	require.NoError(t, err)
	second, err := sdk.RegisterRootDevice(ctx, DeviceDesc{
		Doc:     []byte(strings.ReplaceAll(tvDescription, tvUDN, otherUDN)),
		DocName: "b.xml",
	}, cb)
	require.NoError(t, err)

	for _, d := range []*Device{first, second} {
		code, body := fetch(t, d.Location())
		if code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", d.Location(), code)
		}
		if !strings.Contains(body, d.UDN()) {
			t.Errorf("GET %s does not carry %s", d.Location(), d.UDN())
		}
	}

	// A description path already in use is refused.
	_, err = sdk.RegisterRootDevice(ctx, DeviceDesc{
		Doc:     []byte(strings.ReplaceAll(tvDescription, tvUDN, "uuid:00000000-0000-0000-0000-000000000003")),
		DocName: "a.xml",
	}, cb)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	// Unregistering one device leaves the other description served.
	_ = first.Unregister(ctx)
	code, _ := fetch(t, first.Location())
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = fetch(t, second.Location())
	assert.Equal(t, http.StatusOK, code)
}

func TestClientDownloadAfterFinish(t *testing.T) {
	sdk := startLoopback(t)
	client, err := sdk.RegisterClient(func(EventType, any) {})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 50 {
			_, _, _ = client.DownloadURL(context.Background(), "http://127.0.0.1:1/none.xml")
		}
	}()
	require.NoError(t, sdk.Finish())
	wg.Wait()

	_, _, err = client.DownloadURL(context.Background(), "http://127.0.0.1:1/none.xml")
	assert.ErrorIs(t, err, ErrFinish)
}

func TestRegisterRootDeviceErrors(t *testing.T) {
	sdk := startLoopback(t)
	ctx := context.Background()
	cb := func(EventType, any) {}

	_, err := sdk.RegisterRootDevice(ctx, DeviceDesc{}, cb)
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = sdk.RegisterRootDevice(ctx, DeviceDesc{Doc: []byte("<root/>"), URL: "http://127.0.0.1/x"}, cb)
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = sdk.RegisterRootDevice(ctx, DeviceDesc{Doc: []byte(tvDescription)}, nil)
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = sdk.RegisterRootDevice(ctx, DeviceDesc{Doc: []byte("<html/>")}, cb)
	assert.Equal(t, CodeInvalidDesc, Code(err))

	_, err = sdk.RegisterRootDevice(ctx, DeviceDesc{File: "/nonexistent/desc.xml"}, cb)
	assert.Equal(t, CodeNotExist, Code(err))

	_, err = sdk.RegisterRootDevice(ctx, DeviceDesc{URL: "not a url"}, cb)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyRegistered))
}

func TestBootIDPersists(t *testing.T) {
	if testing.Short() {
		t.Skip("network test")
	}
	dir := t.TempDir()
	boot := func() uint32 {
		cfg := DefaultConfig()
		cfg.Interface = "lo"
		cfg.Port = 0
		cfg.DisableIPv6 = true
		cfg.StateDir = dir
		sdk, err := New(cfg)
		require.NoError(t, err)
		if err := sdk.Start(context.Background()); err != nil {
			t.Skipf("loopback SDK not available: %v", err)
		}
		defer sdk.Finish()
		d, err := sdk.RegisterRootDevice(context.Background(), DeviceDesc{Doc: []byte(tvDescription)}, func(EventType, any) {})
		require.NoError(t, err)
		return d.BootID()
	}
	first := boot()
	second := boot()
	assert.Equal(t, first+1, second)
}
