package ssdp

import (
	"net/netip"

	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
)

// Sender transmits one datagram.
type Sender interface {
	Send(b []byte, dst netip.AddrPort) error
}

// Scheduler runs jobs at a later time. *timer.Thread implements it.
type Scheduler interface {
	Schedule(timeout timer.Timeout, job threadpool.Job, d timer.Duration) (timer.EventID, error)
	Remove(id timer.EventID) (threadpool.Job, error)
}

// JobQueue runs jobs on worker goroutines. *threadpool.Pool implements it.
type JobQueue interface {
	Add(job threadpool.Job) (threadpool.JobID, error)
}

var (
	_ Scheduler = (*timer.Thread)(nil)
	_ JobQueue  = (*threadpool.Pool)(nil)
)

// FamilySupport is implemented by senders that know which address
// families they can reach.
type FamilySupport interface {
	Supports(f sockaddr.Family) bool
}
