package description

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tvDesc = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0" configId="7">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:tvdevice:1</deviceType>
    <friendlyName>UPnP Television Emulator</friendlyName>
    <manufacturer>upnpsdk</manufacturer>
    <modelName>TVEmulator</modelName>
    <UDN>uuid:root-udn</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:tvcontrol:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:tvcontrol1</serviceId>
        <SCPDURL>/tvcontrolSCPD.xml</SCPDURL>
        <controlURL>/upnp/control/tvcontrol1</controlURL>
        <eventSubURL>/upnp/event/tvcontrol1</eventSubURL>
      </service>
    </serviceList>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:tvpicture:1</deviceType>
        <friendlyName>Picture</friendlyName>
        <manufacturer>upnpsdk</manufacturer>
        <modelName>TVEmulator</modelName>
        <UDN>uuid:embedded-udn</UDN>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:tvpicture:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:tvpicture1</serviceId>
            <SCPDURL>tvpictureSCPD.xml</SCPDURL>
            <controlURL>upnp/control/tvpicture1</controlURL>
            <eventSubURL>upnp/event/tvpicture1</eventSubURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
    <presentationURL>/tvdevicepres.html</presentationURL>
  </device>
</root>`

func TestParseAndWalk(t *testing.T) {
	root, err := ParseBytes([]byte(tvDesc))
	require.NoError(t, err)

	assert.Equal(t, "7", root.ConfigID)
	assert.Equal(t, SpecVersion{Major: 1, Minor: 0}, root.SpecVersion)

	var udns []string
	for _, d := range root.Walk() {
		udns = append(udns, d.UDN)
	}
	if diff := cmp.Diff([]string{"uuid:root-udn", "uuid:embedded-udn"}, udns); diff != "" {
		t.Errorf("Walk() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", "hello"},
		{"wrong namespace", `<root xmlns="urn:x"><device><deviceType>t</deviceType><UDN>uuid:1</UDN></device></root>`},
		{"missing type", `<root xmlns="urn:schemas-upnp-org:device-1-0"><device><UDN>uuid:1</UDN></device></root>`},
		{"bad udn", `<root xmlns="urn:schemas-upnp-org:device-1-0"><device><deviceType>t</deviceType><UDN>1</UDN></device></root>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestFindService(t *testing.T) {
	root, err := ParseBytes([]byte(tvDesc))
	require.NoError(t, err)

	s, err := root.FindService("uuid:embedded-udn", "urn:upnp-org:serviceId:tvpicture1")
	require.NoError(t, err)
	assert.Equal(t, "urn:schemas-upnp-org:service:tvpicture:1", s.ServiceType)

	_, err = root.FindService("uuid:embedded-udn", "urn:upnp-org:serviceId:tvcontrol1")
	assert.ErrorIs(t, err, ErrServiceNotFound)
	_, err = root.FindService("uuid:other", "x")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestFindServiceByURL(t *testing.T) {
	root, err := ParseBytes([]byte(tvDesc))
	require.NoError(t, err)

	d, s, err := root.FindServiceByURL("/upnp/event/tvpicture1", true)
	require.NoError(t, err)
	assert.Equal(t, "uuid:embedded-udn", d.UDN)
	assert.Equal(t, "urn:upnp-org:serviceId:tvpicture1", s.ServiceID)

	_, s, err = root.FindServiceByURL("/upnp/control/tvcontrol1", false)
	require.NoError(t, err)
	assert.Equal(t, "urn:upnp-org:serviceId:tvcontrol1", s.ServiceID)

	_, _, err = root.FindServiceByURL("/upnp/control/tvcontrol1", true)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestResolveURLs(t *testing.T) {
	root, err := ParseBytes([]byte(tvDesc))
	require.NoError(t, err)
	require.NoError(t, root.ResolveURLs("http://192.168.1.5:49152/desc/tvdevicedesc.xml"))

	s := root.Device.Services[0]
	assert.Equal(t, "http://192.168.1.5:49152/upnp/control/tvcontrol1", s.ControlURL)
	e := root.Device.Devices[0].Services[0]
	assert.Equal(t, "http://192.168.1.5:49152/desc/tvpictureSCPD.xml", e.SCPDURL)
	assert.Equal(t, "http://192.168.1.5:49152/desc/upnp/event/tvpicture1", e.EventSubURL)
	assert.Equal(t, "http://192.168.1.5:49152/tvdevicepres.html", root.Device.PresentationURL)
}

func TestResolveURLsPrefersURLBase(t *testing.T) {
	root, err := ParseBytes([]byte(tvDesc))
	require.NoError(t, err)
	root.URLBase = "http://10.0.0.2:8080/"
	require.NoError(t, root.ResolveURLs("http://192.168.1.5:49152/tvdevicedesc.xml"))
	assert.Equal(t, "http://10.0.0.2:8080/tvcontrolSCPD.xml", root.Device.Services[0].SCPDURL)
}

func TestMarshalRoundTrip(t *testing.T) {
	root, err := ParseBytes([]byte(tvDesc))
	require.NoError(t, err)
	out, err := root.Marshal()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<?xml"))

	again, err := ParseBytes(out)
	require.NoError(t, err)
	if diff := cmp.Diff(root, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestServiceVersion(t *testing.T) {
	tests := []struct {
		in       string
		wantType string
		wantVer  int
	}{
		{"urn:schemas-upnp-org:service:tvcontrol:1", "urn:schemas-upnp-org:service:tvcontrol", 1},
		{"urn:schemas-upnp-org:device:tvdevice:12", "urn:schemas-upnp-org:device:tvdevice", 12},
		{"urn:schemas-upnp-org:device:tvdevice:", "urn:schemas-upnp-org:device:tvdevice:", 0},
		{"urn:x:y:z:v1", "urn:x:y:z:v1", 0},
		{"plain", "plain", 0},
	}
	for _, tt := range tests {
		gotType, gotVer := ServiceVersion(tt.in)
		if gotType != tt.wantType || gotVer != tt.wantVer {
			t.Errorf("ServiceVersion(%q) = %q, %d, want %q, %d", tt.in, gotType, gotVer, tt.wantType, tt.wantVer)
		}
	}
}
