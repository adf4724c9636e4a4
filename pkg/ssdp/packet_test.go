package ssdp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
)

func headerNames(m *httpmsg.Message) []string {
	var out []string
	for _, f := range m.Header {
		out = append(out, f.Name)
	}
	return out
}

func TestBuildReply(t *testing.T) {
	p := Packet{
		Kind:     KindReply,
		NT:       TargetRootDevice,
		USN:      "uuid:abc::upnp:rootdevice",
		Location: "http://192.168.1.5:49152/tvdevicedesc.xml",
		MaxAge:   100,
		Server:   "Linux/6.1 UPnP/1.0 upnpsdk/1.0",
		NLS:      "nls-id",
		Date:     time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
	}
	m := p.Build()
	assert.Equal(t, []string{"CACHE-CONTROL", "DATE", "EXT", "LOCATION", "OPT", "01-NLS", "SERVER", "ST", "USN"}, headerNames(m))

	raw := string(m.Bytes())
	assert.True(t, strings.HasPrefix(raw, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, raw, "CACHE-CONTROL: max-age=100\r\n")
	assert.Contains(t, raw, "DATE: Mon, 06 May 2024 07:08:09 GMT\r\n")
	assert.Contains(t, raw, "EXT: \r\n")
	assert.Contains(t, raw, `OPT: "http://schemas.upnp.org/upnp/1/0/"; ns=01`+"\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n"))
}

func TestBuildNotify(t *testing.T) {
	p := Packet{
		Kind:     KindByebye,
		NT:       "uuid:abc",
		USN:      "uuid:abc",
		Location: "http://[fe80::1]:49152/d.xml",
		MaxAge:   1800,
		Host:     HostHeader(GroupIPv6LinkLocal),
		BootID:   3,
		ConfigID: 7,
	}
	m := p.Build()
	assert.Equal(t, []string{"HOST", "CACHE-CONTROL", "LOCATION", "NT", "NTS", "USN", "BOOTID.UPNP.ORG", "CONFIGID.UPNP.ORG"}, headerNames(m))
	assert.Equal(t, "[FF02::C]:1900", m.Header.Get("HOST"))
	assert.Equal(t, NTSByebye, m.Header.Get("NTS"))
	assert.True(t, strings.HasPrefix(string(m.Bytes()), "NOTIFY * HTTP/1.1\r\n"))

	parsed, err := httpmsg.ParseDatagram(m.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "3", parsed.Header.Get("BOOTID.UPNP.ORG"))
}

func TestBuildSearch(t *testing.T) {
	m := BuildSearch(HostHeader(GroupIPv4), 3, TargetAll, "ua")
	raw := string(m.Bytes())
	assert.Equal(t, "M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nMAN: \"ssdp:discover\"\r\nMX: 3\r\nST: ssdp:all\r\nUSER-AGENT: ua\r\n\r\n", raw)

	m = BuildSearch(HostHeader(GroupIPv4), 0, "", "")
	assert.False(t, m.Header.Has("MX"))
	assert.False(t, m.Header.Has("ST"))
}

func TestGroup(t *testing.T) {
	tests := []struct {
		family   sockaddr.Family
		location string
		want     string
	}{
		{sockaddr.FamilyInet, "http://192.168.1.5/d.xml", "239.255.255.250"},
		{sockaddr.FamilyInet6, "http://[fe80::1%eth0]:80/d.xml", "ff02::c"},
		{sockaddr.FamilyInet6, "http://[2001:db8::1]:80/d.xml", "ff05::c"},
		{sockaddr.FamilyInet6, "http://[fd00::1]/d.xml", "ff05::c"},
		{sockaddr.FamilyInet6, "http://host/d.xml", "ff02::c"},
	}
	for _, tt := range tests {
		if got := Group(tt.family, tt.location).String(); got != tt.want {
			t.Errorf("Group(%v, %q) = %s, want %s", tt.family, tt.location, got, tt.want)
		}
	}
}

func TestAdjustMX(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 1}, {5, 4}, {10, 9}, {30, 27}, {120, 108},
	}
	for _, tt := range tests {
		if got := adjustMX(tt.in); got != tt.want {
			t.Errorf("adjustMX(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestClampMX(t *testing.T) {
	assert.Equal(t, MinSearchTime, clampMX(0))
	assert.Equal(t, 5, clampMX(5))
	assert.Equal(t, MaxSearchTime, clampMX(1000))
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"max-age=1800", 1800},
		{"max-age = 30", 30},
		{"no-cache, MAX-AGE=5", 5},
		{"max-age=abc", -1},
		{"no-cache", -1},
		{"", -1},
	}
	for _, tt := range tests {
		if got := parseMaxAge(tt.in); got != tt.want {
			t.Errorf("parseMaxAge(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
