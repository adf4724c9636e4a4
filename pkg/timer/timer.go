package timer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
)

// Timer errors.
var (
	ErrEventNotFound = errors.New("timer event not found")
	ErrShutdown      = errors.New("timer thread shut down")
	ErrNilJob        = errors.New("job has no function")
)

// TimeoutType tells how a Timeout is interpreted.
type TimeoutType uint8

const (
	// Absolute timeouts name a wall clock time.
	Absolute TimeoutType = iota
	// Relative timeouts count from the moment of scheduling.
	Relative
)

// String returns the timeout type name.
func (t TimeoutType) String() string {
	switch t {
	case Absolute:
		return "ABS_SEC"
	case Relative:
		return "REL_SEC"
	default:
		return "UNKNOWN"
	}
}

// Duration selects how a due job is submitted to the pool.
type Duration uint8

const (
	// ShortTerm jobs are queued with threadpool.Pool.Add.
	ShortTerm Duration = iota
	// Persistent jobs get a dedicated worker via AddPersistent.
	Persistent
)

// String returns the duration name.
func (d Duration) String() string {
	switch d {
	case ShortTerm:
		return "SHORT_TERM"
	case Persistent:
		return "PERSISTENT"
	default:
		return "UNKNOWN"
	}
}

// Timeout is the due time of an event.
type Timeout struct {
	Type  TimeoutType
	At    time.Time
	After time.Duration
}

// At returns an absolute timeout.
func At(t time.Time) Timeout {
	return Timeout{Type: Absolute, At: t}
}

// After returns a timeout relative to the scheduling time.
func After(d time.Duration) Timeout {
	return Timeout{Type: Relative, After: d}
}

func (t Timeout) due(now time.Time) time.Time {
	if t.Type == Absolute {
		return t.At
	}
	return now.Add(t.After)
}

// EventID identifies a scheduled event.
type EventID int

// InvalidEventID is never assigned to an event.
const InvalidEventID EventID = -1

// Pool is the part of threadpool.Pool the timer needs.
type Pool interface {
	Add(job threadpool.Job) (threadpool.JobID, error)
	AddPersistent(job threadpool.Job) (threadpool.JobID, error)
}

var _ Pool = (*threadpool.Pool)(nil)

type event struct {
	id       EventID
	job      threadpool.Job
	due      time.Time
	duration Duration
}

// Thread is a timer thread.
type Thread struct {
	mu       sync.Mutex
	pool     Pool
	events   []*event
	lastID   EventID
	shutdown bool

	// wake is closed and replaced when the head of events changes.
	wake chan struct{}
	done chan struct{}

	logger *slog.Logger
}

// New starts a timer thread on pool. The worker runs as a persistent job.
func New(pool Pool, logger *slog.Logger) (*Thread, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Thread{
		pool:   pool,
		wake:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	_, err := pool.AddPersistent(threadpool.Job{
		Priority: threadpool.PriorityHigh,
		Func:     t.run,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Schedule queues job to be submitted once timeout is due.
func (t *Thread) Schedule(timeout Timeout, job threadpool.Job, d Duration) (EventID, error) {
	if job.Func == nil {
		return InvalidEventID, ErrNilJob
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown {
		return InvalidEventID, ErrShutdown
	}

	e := &event{
		id:       t.lastID,
		job:      job,
		due:      timeout.due(time.Now()),
		duration: d,
	}
	t.lastID++
	if t.lastID < 0 {
		t.lastID = 0
	}

	// Insert after every event due at the same time or earlier.
	i := sort.Search(len(t.events), func(i int) bool {
		return t.events[i].due.After(e.due)
	})
	t.events = append(t.events, nil)
	copy(t.events[i+1:], t.events[i:])
	t.events[i] = e
	if i == 0 {
		t.broadcastLocked()
	}
	return e.id, nil
}

// Remove cancels a pending event and returns its job. Free is not called.
func (t *Thread) Remove(id EventID) (threadpool.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.events {
		if e.id == id {
			t.events = append(t.events[:i], t.events[i+1:]...)
			return e.job, nil
		}
	}
	return threadpool.Job{}, ErrEventNotFound
}

// Pending returns the number of scheduled events.
func (t *Thread) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// Shutdown frees every pending job and waits for the worker to return.
func (t *Thread) Shutdown() {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.shutdown = true
	pending := t.events
	t.events = nil
	t.broadcastLocked()
	t.mu.Unlock()

	for _, e := range pending {
		if e.job.Free != nil {
			e.job.Free()
		}
	}
	<-t.done
}

func (t *Thread) broadcastLocked() {
	close(t.wake)
	t.wake = make(chan struct{})
}

func (t *Thread) run(ctx context.Context) {
	defer close(t.done)

	t.mu.Lock()
	for {
		if t.shutdown {
			t.mu.Unlock()
			return
		}

		var next *event
		if len(t.events) > 0 {
			next = t.events[0]
		}
		now := time.Now()
		if next != nil && !now.Before(next.due) {
			t.events = t.events[1:]
			t.mu.Unlock()
			t.submit(next)
			t.mu.Lock()
			continue
		}

		wake := t.wake
		t.mu.Unlock()
		if next == nil {
			select {
			case <-wake:
			case <-ctx.Done():
				t.stop()
				return
			}
		} else {
			tm := time.NewTimer(next.due.Sub(now))
			select {
			case <-wake:
			case <-tm.C:
			case <-ctx.Done():
				tm.Stop()
				t.stop()
				return
			}
			tm.Stop()
		}
		t.mu.Lock()
	}
}

// stop handles the pool shutting down underneath the timer.
func (t *Thread) stop() {
	t.mu.Lock()
	t.shutdown = true
	pending := t.events
	t.events = nil
	t.mu.Unlock()
	for _, e := range pending {
		if e.job.Free != nil {
			e.job.Free()
		}
	}
}

func (t *Thread) submit(e *event) {
	var err error
	if e.duration == Persistent {
		_, err = t.pool.AddPersistent(e.job)
	} else {
		_, err = t.pool.Add(e.job)
	}
	if err != nil {
		t.logger.Warn("timer event dropped", "event", int(e.id), "duration", e.duration, "error", err)
		if e.job.Free != nil {
			e.job.Free()
		}
	}
}
