package ssdp

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
)

type sent struct {
	msg *httpmsg.Message
	dst netip.AddrPort
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sent
	families []sockaddr.Family
	err      error
}

func (f *fakeSender) Send(b []byte, dst netip.AddrPort) error {
	if f.err != nil {
		return f.err
	}
	m, err := httpmsg.ParseDatagram(b)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, sent{msg: m, dst: dst})
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) Supports(family sockaddr.Family) bool {
	for _, have := range f.families {
		if have == family {
			return true
		}
	}
	return false
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type scheduled struct {
	timeout timer.Timeout
	job     threadpool.Job
}

// fakeScheduler records jobs; run executes them in order.
type fakeScheduler struct {
	mu      sync.Mutex
	jobs    map[timer.EventID]scheduled
	order   []timer.EventID
	next    timer.EventID
	removed []timer.EventID
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
	f.removed = append(f.removed, id)
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

// syncJobs runs jobs on the calling goroutine.
type syncJobs struct{}

func (syncJobs) Add(job threadpool.Job) (threadpool.JobID, error) {
	job.Func(context.Background())
	return 0, nil
}

const tvDesc = `<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:tvdevice:2</deviceType>
    <friendlyName>TV</friendlyName>
    <manufacturer>upnpsdk</manufacturer>
    <modelName>TV</modelName>
    <UDN>uuid:root</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:tvcontrol:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:tvcontrol1</serviceId>
        <SCPDURL>/c.xml</SCPDURL><controlURL>/c</controlURL><eventSubURL>/e</eventSubURL>
      </service>
    </serviceList>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:tvpicture:1</deviceType>
        <friendlyName>Picture</friendlyName>
        <manufacturer>upnpsdk</manufacturer>
        <modelName>TV</modelName>
        <UDN>uuid:embedded</UDN>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:tvpicture:3</serviceType>
            <serviceId>urn:upnp-org:serviceId:tvpicture1</serviceId>
            <SCPDURL>/p.xml</SCPDURL><controlURL>/p</controlURL><eventSubURL>/pe</eventSubURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

func testRegistration(t *testing.T) *Registration {
	t.Helper()
	root, err := description.ParseBytes([]byte(tvDesc))
	require.NoError(t, err)
	return &Registration{
		Root:          root,
		Location:      "http://192.168.1.5:49152/tvdevicedesc.xml",
		LowerLocation: "http://192.168.1.5:49152/tvdevicedesc-v1.xml",
		Family:        sockaddr.FamilyInet,
		MaxAge:        100,
	}
}

func searchMsg(man, mx, st string) *httpmsg.Message {
	m := httpmsg.NewRequest(httpmsg.MethodMSearch, "*")
	m.Header.Add("HOST", "239.255.255.250:1900")
	if man != "" {
		m.Header.Add("MAN", man)
	}
	if mx != "" {
		m.Header.Add("MX", mx)
	}
	if st != "" {
		m.Header.Add("ST", st)
	}
	return m
}
