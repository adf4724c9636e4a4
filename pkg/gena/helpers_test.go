package gena

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
)

type call struct {
	method string
	url    string
	header httpmsg.Header
	body   []byte
}

// fakeRequester records requests and answers them with respond, or 200
// when respond is nil.
type fakeRequester struct {
	mu      sync.Mutex
	calls   []call
	respond func(c call) (*httpmsg.Response, error)
}

func (f *fakeRequester) Do(_ context.Context, method, url string, header httpmsg.Header, body []byte) (*httpmsg.Response, error) {
	c := call{method: method, url: url, header: append(httpmsg.Header(nil), header...), body: body}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return &httpmsg.Response{StatusCode: http.StatusOK, Header: http.Header{}}, nil
	}
	return respond(c)
}

func (f *fakeRequester) all() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type scheduled struct {
	timeout timer.Timeout
	job     threadpool.Job
}

type fakeScheduler struct {
	mu      sync.Mutex
	jobs    map[timer.EventID]scheduled
	order   []timer.EventID
	next    timer.EventID
	removed int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[timer.EventID]scheduled)}
}

func (f *fakeScheduler) Schedule(timeout timer.Timeout, job threadpool.Job, _ timer.Duration) (timer.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.jobs[id] = scheduled{timeout: timeout, job: job}
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeScheduler) Remove(id timer.EventID) (threadpool.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.jobs[id]
	if !ok {
		return threadpool.Job{}, timer.ErrEventNotFound
	}
	delete(f.jobs, id)
	f.removed++
	return s.job, nil
}

func (f *fakeScheduler) pending() []scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scheduled
	for _, id := range f.order {
		if s, ok := f.jobs[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// run executes the jobs pending now. Jobs scheduled while running wait
// for the next call.
func (f *fakeScheduler) run() {
	f.mu.Lock()
	var jobs []threadpool.Job
	for _, id := range f.order {
		if s, ok := f.jobs[id]; ok {
			jobs = append(jobs, s.job)
			delete(f.jobs, id)
		}
	}
	f.order = nil
	f.mu.Unlock()
	for _, j := range jobs {
		j.Func(context.Background())
	}
}

// queuedJobs holds jobs until run is called.
type queuedJobs struct {
	mu   sync.Mutex
	jobs []threadpool.Job
}

func (q *queuedJobs) Add(job threadpool.Job) (threadpool.JobID, error) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	return 0, nil
}

// run executes queued jobs, including those added while running.
func (q *queuedJobs) run() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		j.Func(context.Background())
	}
}

const tvDesc = `<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:tvdevice:1</deviceType>
    <friendlyName>TV</friendlyName>
    <manufacturer>upnpsdk</manufacturer>
    <modelName>TV</modelName>
    <UDN>uuid:root</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:tvcontrol:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:tvcontrol1</serviceId>
        <SCPDURL>/c.xml</SCPDURL><controlURL>/upnp/control/tvcontrol1</controlURL><eventSubURL>/upnp/event/tvcontrol1</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`

const (
	testUDN       = "uuid:root"
	testServiceID = "urn:upnp-org:serviceId:tvcontrol1"
	testEventPath = "/upnp/event/tvcontrol1"
)

func testRoot(t *testing.T) *description.Root {
	t.Helper()
	root, err := description.ParseBytes([]byte(tvDesc))
	require.NoError(t, err)
	return root
}

func genaRequest(method, target string, headers ...string) *http.Request {
	r, _ := http.NewRequest(method, "http://192.168.1.5:49152"+target, strings.NewReader(""))
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	r.RemoteAddr = "192.168.1.20:50000"
	return r
}
