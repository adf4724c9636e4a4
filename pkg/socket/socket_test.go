package socket

import (
	"context"
	"net"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
)

func TestListenLoopback(t *testing.T) {
	ln, err := Listen(context.Background(), sockaddr.MustParse("127.0.0.1:0"), Options{ReuseAddr: true})
	require.NoError(t, err)
	defer ln.Close()

	addr, err := ListenerAddr(ln)
	require.NoError(t, err)
	assert.Equal(t, sockaddr.FamilyInet, addr.Family())
	assert.NotZero(t, addr.Port())

	done := make(chan Info, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		info, _ := InfoOf(c)
		done <- info
	}()

	c, err := net.Dial("tcp", addr.NetAddrP())
	require.NoError(t, err)
	defer c.Close()

	info := <-done
	assert.Equal(t, "tcp", info.Network)
	assert.Equal(t, addr.NetAddrP(), info.Local.NetAddrP())
	assert.Equal(t, "127.0.0.1", info.Remote.NetAddr())
}

func TestListenPacketShared(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("port sharing options are unix only")
	}
	opts := SSDPOptions()
	a, err := ListenPacket(context.Background(), sockaddr.MustParse("127.0.0.1:0"), opts)
	require.NoError(t, err)
	defer a.Close()

	bound, err := sockaddr.FromNetAddr(a.LocalAddr())
	require.NoError(t, err)

	// A second socket may bind the same port with reuse enabled.
	b, err := ListenPacket(context.Background(), bound, opts)
	require.NoError(t, err)
	defer b.Close()

	info, err := InfoOf(b)
	require.NoError(t, err)
	assert.Equal(t, bound.Port(), info.Local.Port())
	assert.Equal(t, sockaddr.FamilyUnspec, info.Remote.Family())
}

func TestBindString(t *testing.T) {
	assert.Equal(t, ":1900", bindString(sockaddr.MustParse("1900")))
	assert.Equal(t, "[::1]:80", bindString(sockaddr.MustParse("[::1]:80")))
	assert.Equal(t, "udp4", networkFor("udp", sockaddr.MustParse("10.0.0.1")))
	assert.Equal(t, "tcp", networkFor("tcp", sockaddr.SockAddr{}))
}
