package httpmsg

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upnpsdk/upnpsdk-go/pkg/log"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestClientDoCustomMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SUBSCRIBE", r.Method)
		assert.Equal(t, "upnp:event", r.Header.Get("NT"))
		assert.Equal(t, "test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("SID", "uuid:1")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &recordingLogger{}
	c := NewClient(ClientConfig{UserAgent: "test/1.0", Role: log.RoleControlPoint, ProtocolLogger: rec})

	var h Header
	h.Add("NT", "upnp:event")
	resp, err := c.Do(context.Background(), "SUBSCRIBE", srv.URL+"/event", h, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "uuid:1", resp.Header.Get("SID"))

	require.Len(t, rec.events, 2)
	assert.Equal(t, log.DirectionOut, rec.events[0].Direction)
	assert.Equal(t, log.CategoryGENA, rec.events[0].Category)
	assert.Equal(t, log.DirectionIn, rec.events[1].Direction)
	assert.Equal(t, 200, rec.events[1].Message.Status)
	assert.Equal(t, rec.events[0].ConnectionID, rec.events[1].ConnectionID)
}

func TestClientDoPostsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte(strings.ToUpper(string(b))))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{})
	resp, err := c.Do(context.Background(), http.MethodPost, srv.URL, nil, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC"), resp.Body)
}

func TestClientDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/desc.xml":
			w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
			_, _ = w.Write([]byte("<root/>"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 100)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{})
	ctx := context.Background()

	body, ctype, err := c.Download(ctx, srv.URL+"/desc.xml", 0)
	require.NoError(t, err)
	assert.Equal(t, "<root/>", string(body))
	assert.Contains(t, ctype, "text/xml")

	_, _, err = c.Download(ctx, srv.URL+"/big", 10)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = c.Download(ctx, srv.URL+"/missing", 0)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestCategoryFor(t *testing.T) {
	var soap Header
	soap.Add("SOAPACTION", `"urn:x#y"`)
	tests := []struct {
		method string
		header Header
		want   log.Category
	}{
		{"SUBSCRIBE", nil, log.CategoryGENA},
		{"NOTIFY", nil, log.CategoryGENA},
		{"POST", soap, log.CategorySOAP},
		{"M-POST", nil, log.CategorySOAP},
		{"POST", nil, log.CategoryWeb},
		{"GET", nil, log.CategoryWeb},
	}
	for _, tt := range tests {
		if got := categoryFor(tt.method, tt.header); got != tt.want {
			t.Errorf("categoryFor(%q) = %v, want %v", tt.method, got, tt.want)
		}
	}
}
