package netadapter

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
)

type fakeSource struct {
	ifis  []net.Interface
	addrs map[string][]net.Addr
	err   error
}

func (f fakeSource) Interfaces() ([]net.Interface, error) { return f.ifis, f.err }

func (f fakeSource) Addrs(ifi net.Interface) ([]net.Addr, error) { return f.addrs[ifi.Name], nil }

func ipnet(t *testing.T, cidr string) *net.IPNet {
	t.Helper()
	ip, n, err := net.ParseCIDR(cidr)
	require.NoError(t, err)
	n.IP = ip
	return n
}

func testSource(t *testing.T) fakeSource {
	up := net.FlagUp | net.FlagMulticast
	return fakeSource{
		ifis: []net.Interface{
			{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
			{Index: 2, Name: "eth0", Flags: up},
			{Index: 3, Name: "wlan0", Flags: net.FlagMulticast},
		},
		addrs: map[string][]net.Addr{
			"lo":    {ipnet(t, "127.0.0.1/8"), ipnet(t, "::1/128")},
			"eth0":  {ipnet(t, "192.168.10.5/24"), ipnet(t, "fe80::1/64"), ipnet(t, "fd00::5/64"), ipnet(t, "2001:db8::5/64")},
			"wlan0": {ipnet(t, "10.0.0.9/8")},
		},
	}
}

func TestLoadFrom(t *testing.T) {
	list, err := LoadFrom(testSource(t))
	require.NoError(t, err)
	require.Len(t, list, 7)

	eth := list.ByName("eth0")
	require.Len(t, eth, 4)
	assert.Equal(t, "192.168.10.5", eth[0].Addr.NetAddr())
	assert.Equal(t, 24, eth[0].BitMask())
	assert.Equal(t, "255.255.255.0", eth[0].Netmask().NetAddr())
	assert.Equal(t, "[fe80::1%eth0]", eth[1].Addr.NetAddr())
	assert.Equal(t, "[ffff:ffff:ffff:ffff::]", eth[1].Netmask().NetAddr())
}

func TestLoadFromError(t *testing.T) {
	_, err := LoadFrom(fakeSource{err: errors.New("boom")})
	assert.Error(t, err)
}

func TestFind(t *testing.T) {
	list, err := LoadFrom(testSource(t))
	require.NoError(t, err)

	a, err := list.Find("wlan0")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Index)

	a, err = list.Find("2")
	require.NoError(t, err)
	assert.Equal(t, "eth0", a.Name)

	a, err = list.Find("[2001:db8::5]")
	require.NoError(t, err)
	assert.Equal(t, "eth0", a.Name)

	_, err = list.Find("eth9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContaining(t *testing.T) {
	list, err := LoadFrom(testSource(t))
	require.NoError(t, err)

	a, err := list.Containing(netip.MustParseAddr("192.168.10.77"))
	require.NoError(t, err)
	assert.Equal(t, "192.168.10.5", a.Addr.NetAddr())

	a, err = list.Containing(netip.MustParseAddr("::ffff:192.168.10.77"))
	require.NoError(t, err)
	assert.Equal(t, "eth0", a.Name)

	// wlan0 is down.
	_, err = list.Containing(netip.MustParseAddr("10.1.1.1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBest(t *testing.T) {
	list, err := LoadFrom(testSource(t))
	require.NoError(t, err)

	a, err := list.Best(sockaddr.FamilyInet6)
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::5]", a.Addr.NetAddr())

	a, err = list.Best(sockaddr.FamilyInet)
	require.NoError(t, err)
	assert.Equal(t, "192.168.10.5", a.Addr.NetAddr())

	_, err = List{}.Best(sockaddr.FamilyUnspec)
	assert.ErrorIs(t, err, ErrNotFound)
}
