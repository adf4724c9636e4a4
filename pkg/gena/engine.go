package gena

import (
	"context"

	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/timer"
)

// Requester sends an HTTP request and reads the response.
type Requester interface {
	Do(ctx context.Context, method, url string, header httpmsg.Header, body []byte) (*httpmsg.Response, error)
}

// Scheduler runs jobs after a timeout.
type Scheduler interface {
	Schedule(timeout timer.Timeout, job threadpool.Job, d timer.Duration) (timer.EventID, error)
	Remove(id timer.EventID) (threadpool.Job, error)
}

// JobQueue runs jobs on a pool.
type JobQueue interface {
	Add(job threadpool.Job) (threadpool.JobID, error)
}

var (
	_ Requester = (*httpmsg.Client)(nil)
	_ Scheduler = (*timer.Thread)(nil)
	_ JobQueue  = (*threadpool.Pool)(nil)
)
