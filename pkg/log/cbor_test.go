package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMessageEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 45, 123456789, time.UTC)
	pt := 1500 * time.Microsecond
	in := Event{
		Timestamp:    ts,
		ConnectionID: "c0ffee",
		Direction:    DirectionOut,
		Layer:        LayerHTTP,
		Category:     CategoryGENA,
		LocalRole:    RoleDevice,
		RemoteAddr:   "192.168.1.20:49200",
		UDN:          "uuid:0b1c7a4e-0000-4000-8000-000000000001",
		SID:          "uuid:5a8d5d61-0000-4000-8000-000000000002",
		Message: &MessageEvent{
			Type:   MessageTypeRequest,
			Method: "NOTIFY",
			Target: "/event",
			Headers: map[string]string{
				"NT":  "upnp:event",
				"NTS": "upnp:propchange",
				"SEQ": "3",
			},
			BodySize:       211,
			ProcessingTime: &pt,
		},
	}

	data, err := EncodeEvent(in)
	require.NoError(t, err)

	out, err := DecodeEvent(data)
	require.NoError(t, err)

	assert.True(t, out.Timestamp.Equal(ts), "timestamp %v != %v", out.Timestamp, ts)
	assert.Equal(t, in.ConnectionID, out.ConnectionID)
	assert.Equal(t, in.Direction, out.Direction)
	assert.Equal(t, in.Layer, out.Layer)
	assert.Equal(t, in.Category, out.Category)
	assert.Equal(t, in.RemoteAddr, out.RemoteAddr)
	assert.Equal(t, in.UDN, out.UDN)
	assert.Equal(t, in.SID, out.SID)
	require.NotNil(t, out.Message)
	assert.Equal(t, "NOTIFY", out.Message.Method)
	assert.Equal(t, "3", out.Message.Headers["SEQ"])
	require.NotNil(t, out.Message.ProcessingTime)
	assert.Equal(t, pt, *out.Message.ProcessingTime)
	assert.Nil(t, out.Datagram)
	assert.Nil(t, out.Error)
}

func TestEncodeIsDeterministic(t *testing.T) {
	ev := Event{
		Timestamp: time.Unix(0, 0).UTC(),
		Category:  CategorySSDP,
		Message: &MessageEvent{
			Headers: map[string]string{"ST": "ssdp:all", "MX": "2", "MAN": `"ssdp:discover"`},
		},
	}
	a, err := EncodeEvent(ev)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		b, err := EncodeEvent(ev)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(a, b), "encoding differs on run %d", i)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte{0xff, 0x00, 0x13})
	assert.Error(t, err)
}

func TestEncoderDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := 0; i < 3; i++ {
		require.NoError(t, enc.Encode(Event{ConnectionID: string(rune('a' + i)), Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityServer, NewState: "RUNNING"}}))
	}

	dec := NewDecoder(&buf)
	for i := 0; i < 3; i++ {
		var ev Event
		require.NoError(t, dec.Decode(&ev))
		assert.Equal(t, string(rune('a'+i)), ev.ConnectionID)
		require.NotNil(t, ev.StateChange)
		assert.Equal(t, "RUNNING", ev.StateChange.NewState)
	}
}
