package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/gena"
	"github.com/upnpsdk/upnpsdk-go/pkg/persistence"
	"github.com/upnpsdk/upnpsdk-go/pkg/soap"
	"github.com/upnpsdk/upnpsdk-go/pkg/ssdp"
	"github.com/upnpsdk/upnpsdk-go/pkg/upnp"
)

const (
	tvUDN      = "uuid:Upnp-TVEmulator-1_0-1234567890001"
	tvLocation = "http://192.0.2.10:49152/tvdevicedesc.xml"
)

type sentAction struct {
	url, serviceType, action string
	args                     []soap.Argument
	cookie                   any
}

type fakeClient struct {
	mu           sync.Mutex
	roots        map[string]*description.Root
	searches     int
	subscribed   []string
	unsubscribed []string
	actions      []sentAction
	downloads    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{roots: map[string]*description.Root{tvLocation: tvRoot()}}
}

func tvRoot() *description.Root {
	return &description.Root{Device: description.Device{
		DeviceType:   TVDeviceType,
		FriendlyName: "Living room",
		UDN:          tvUDN,
		Services: []description.Service{
			{
				ServiceType: ControlServiceType,
				ServiceID:   "urn:upnp-org:serviceId:tvcontrol1",
				ControlURL:  "http://192.0.2.10:49152/upnp/control/tvcontrol1",
				EventSubURL: "http://192.0.2.10:49152/upnp/event/tvcontrol1",
			},
			{
				ServiceType: PictureServiceType,
				ServiceID:   "urn:upnp-org:serviceId:tvpicture1",
				ControlURL:  "http://192.0.2.10:49152/upnp/control/tvpicture1",
				EventSubURL: "http://192.0.2.10:49152/upnp/event/tvpicture1",
			},
		},
	}}
}

func (f *fakeClient) SearchAsync(context.Context, int, string, any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, url string, _ time.Duration) (string, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, url)
	return "uuid:sid-" + url[strings.LastIndex(url, "/")+1:], 30 * time.Minute, nil
}

func (f *fakeClient) Unsubscribe(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, sid)
	return nil
}

func (f *fakeClient) SendActionAsync(url, serviceType, action string, args []soap.Argument, cookie any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, sentAction{url, serviceType, action, args, cookie})
	return nil
}

func (f *fakeClient) DownloadDescription(_ context.Context, url string) (*description.Root, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	root, ok := f.roots[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return root, nil
}

func alive(udn, location string, maxAge int) *upnp.DiscoveryEvent {
	return &upnp.DiscoveryEvent{Discovery: &ssdp.Discovery{
		DeviceID: udn,
		Location: location,
		Expires:  maxAge,
	}}
}

func newAttached(t *testing.T, config ControlPointConfig) (*ControlPoint, *fakeClient) {
	t.Helper()
	cp := NewControlPoint(config)
	f := newFakeClient()
	cp.Attach(context.Background(), f)
	return cp, f
}

// discover feeds an advertisement and waits for the background fetch.
func discover(t *testing.T, cp *ControlPoint) {
	t.Helper()
	cp.HandleEvent(upnp.EventDiscoveryAlive, alive(tvUDN, tvLocation, 1800))
	cp.wg.Wait()
	require.Len(t, cp.Devices(), 1)
}

func TestControlPointDiscovery(t *testing.T) {
	cp, f := newAttached(t, ControlPointConfig{})
	discover(t, cp)

	d, err := cp.Device(1)
	require.NoError(t, err)
	assert.Equal(t, tvUDN, d.UDN)
	assert.Equal(t, "Living room", d.FriendlyName)
	assert.Equal(t, tvLocation, d.Location)
	assert.False(t, d.Expires.IsZero())
	require.NotNil(t, d.Services[ServiceControl])
	require.NotNil(t, d.Services[ServicePicture])
	assert.Equal(t, "uuid:sid-tvcontrol1", d.Services[ServiceControl].SID)
	assert.Equal(t, "uuid:sid-tvpicture1", d.Services[ServicePicture].SID)
	assert.Len(t, f.subscribed, 2)

	// A repeated advertisement only refreshes the lifetime.
	cp.HandleEvent(upnp.EventDiscoverySearchResult, alive(tvUDN, tvLocation, 1800))
	cp.wg.Wait()
	assert.Equal(t, 1, f.downloads)

	_, err = cp.Device(2)
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestControlPointIgnoresOtherDevices(t *testing.T) {
	cp, f := newAttached(t, ControlPointConfig{})
	other := tvRoot()
	other.Device.DeviceType = "urn:schemas-upnp-org:device:MediaRenderer:1"
	other.Device.UDN = "uuid:renderer"
	f.roots["http://192.0.2.20/desc.xml"] = other

	cp.HandleEvent(upnp.EventDiscoveryAlive, alive("uuid:renderer", "http://192.0.2.20/desc.xml", 1800))
	cp.HandleEvent(upnp.EventDiscoveryAlive, alive("uuid:gone", "http://192.0.2.30/desc.xml", 1800))
	cp.HandleEvent(upnp.EventDiscoveryAlive, &upnp.DiscoveryEvent{Discovery: &ssdp.Discovery{ErrCode: -1}})
	cp.wg.Wait()
	assert.Empty(t, cp.Devices())
}

func TestControlPointEvents(t *testing.T) {
	changes := 0
	var mu sync.Mutex
	cp, _ := newAttached(t, ControlPointConfig{OnChange: func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}})
	discover(t, cp)

	cp.HandleEvent(upnp.EventReceived, &gena.Event{
		SID:     "uuid:sid-tvcontrol1",
		Changed: []gena.Property{{Name: "Power", Value: "1"}, {Name: "Volume", Value: "7"}},
	})
	cp.HandleEvent(upnp.EventReceived, &gena.Event{
		SID:     "uuid:unknown",
		Changed: []gena.Property{{Name: "Power", Value: "0"}},
	})

	v, err := cp.Var(1, ServiceControl, "Volume")
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	_, err = cp.Var(1, ServicePicture, "Tint")
	assert.ErrorIs(t, err, ErrNoVariable)

	mu.Lock()
	assert.Equal(t, 2, changes, "device added and one event")
	mu.Unlock()
}

func TestControlPointByebye(t *testing.T) {
	cp, _ := newAttached(t, ControlPointConfig{})
	discover(t, cp)

	cp.HandleEvent(upnp.EventDiscoveryByebye, alive(tvUDN, "", 0))
	assert.Empty(t, cp.Devices())
}

func TestControlPointPrune(t *testing.T) {
	cp, f := newAttached(t, ControlPointConfig{})
	start := time.Now()
	cp.now = func() time.Time { return start }
	discover(t, cp)

	cp.now = func() time.Time { return start.Add(10 * time.Minute) }
	cp.Prune(context.Background())
	require.Len(t, cp.Devices(), 1)

	cp.now = func() time.Time { return start.Add(31 * time.Minute) }
	cp.Prune(context.Background())
	assert.Empty(t, cp.Devices())
	assert.ElementsMatch(t, []string{"uuid:sid-tvcontrol1", "uuid:sid-tvpicture1"}, f.unsubscribed)
}

func TestControlPointSendAction(t *testing.T) {
	cp, f := newAttached(t, ControlPointConfig{})
	discover(t, cp)

	require.NoError(t, cp.SendAction(1, ServicePicture, "SetTint", soap.Argument{Name: "Tint", Value: "3"}))
	require.Len(t, f.actions, 1)
	got := f.actions[0]
	assert.Equal(t, "http://192.0.2.10:49152/upnp/control/tvpicture1", got.url)
	assert.Equal(t, PictureServiceType, got.serviceType)
	assert.Equal(t, "SetTint", got.action)
	assert.Equal(t, tvUDN, got.cookie)

	assert.ErrorIs(t, cp.SendAction(5, ServiceControl, "PowerOn"), ErrNoDevice)
}

func TestControlPointResubscribe(t *testing.T) {
	cp, f := newAttached(t, ControlPointConfig{})
	discover(t, cp)

	cp.HandleEvent(upnp.EventSubscriptionExpired, &upnp.SubscriptionEvent{
		SubscriptionEvent: gena.SubscriptionEvent{SID: "uuid:sid-tvpicture1"},
	})
	cp.wg.Wait()
	assert.Len(t, f.subscribed, 3)
	d, _ := cp.Device(1)
	assert.Equal(t, "uuid:sid-tvpicture1", d.Services[ServicePicture].SID)
}

func TestControlPointRefresh(t *testing.T) {
	cp, f := newAttached(t, ControlPointConfig{})
	discover(t, cp)

	require.NoError(t, cp.Refresh(context.Background()))
	assert.Empty(t, cp.Devices())
	assert.Equal(t, 1, f.searches)
	assert.Len(t, f.unsubscribed, 2)

	detached := NewControlPoint(ControlPointConfig{})
	assert.ErrorIs(t, detached.Refresh(context.Background()), ErrDetached)
}

func TestControlPointKnownDevices(t *testing.T) {
	store := persistence.NewControlPointStateStore(filepath.Join(t.TempDir(), "ctrlpt.json"))

	cp, _ := newAttached(t, ControlPointConfig{Store: store})
	discover(t, cp)
	cp.Close(context.Background())

	state, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Len(t, state.Devices, 1)
	assert.Equal(t, tvLocation, state.Devices[0].Location)

	// A new control point reconnects without an advertisement.
	next, f := newAttached(t, ControlPointConfig{Store: store})
	next.wg.Wait()
	assert.Len(t, next.Devices(), 1)
	assert.Equal(t, 1, f.downloads)
}

func TestShell(t *testing.T) {
	cp, f := newAttached(t, ControlPointConfig{})
	discover(t, cp)
	cp.HandleEvent(upnp.EventReceived, &gena.Event{
		SID:     "uuid:sid-tvcontrol1",
		Changed: []gena.Property{{Name: "Channel", Value: "12"}},
	})

	var out bytes.Buffer
	s := &Shell{ctx: context.Background(), cp: cp, out: &out}

	tests := []struct {
		line string
		want string
	}{
		{"ListDev", "1 -- " + tvUDN},
		{"PrintDev 1", "Channel     = 12"},
		{"ctrlgetvar 1 Channel", "Channel = 12"},
		{"PictGetVar 1 Color", "no such variable"},
		{"SetVolume 1", "Usage: SetVolume <devnum> <volume (int)>"},
		{"SetVolume 1 loud", "invalid volume"},
		{"PowerOn x", "invalid device number"},
		{"Bogus", "Unknown command: Bogus"},
		{"ToggleVerbose", "Verbose: true"},
		{"HelpFull", "Sends the SetBrightness action to the Picture service"},
	}
	for _, tt := range tests {
		out.Reset()
		if exit := s.Execute(tt.line); exit {
			t.Errorf("Execute(%q) exit = true", tt.line)
		}
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("Execute(%q) output = %q, want substring %q", tt.line, out.String(), tt.want)
		}
	}

	out.Reset()
	assert.False(t, s.Execute("SetChannel 1 42"))
	assert.False(t, s.Execute("CtrlAction 1 IncreaseVolume"))
	require.Len(t, f.actions, 2)
	assert.Equal(t, []soap.Argument{{Name: "Channel", Value: "42"}}, f.actions[0].args)
	assert.Equal(t, "IncreaseVolume", f.actions[1].action)
	assert.Empty(t, out.String())

	assert.True(t, s.Execute("exit"))
	assert.False(t, s.Execute("   "))
}
