package threadpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pool errors.
var (
	ErrQueueFull    = errors.New("too many jobs queued")
	ErrMaxThreads   = errors.New("no worker available for persistent job")
	ErrInvalidJobID = errors.New("invalid job id")
	ErrInvalidAttr  = errors.New("invalid pool attributes")
	ErrShutdown     = errors.New("pool shut down")
	ErrNilJob       = errors.New("job has no function")
	ErrJobRemoved   = errors.New("job removed before it started")
)

// Priority orders queued jobs.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityMed
	PriorityHigh
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMed:
		return "MED"
	case PriorityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// JobID identifies a queued job.
type JobID int

// InvalidJobID is never assigned to a job.
const InvalidJobID JobID = -1

// Job is a unit of work.
type Job struct {
	// Func runs the job. The context is cancelled by Shutdown.
	Func func(ctx context.Context)

	// Free is called instead of Func when the job is discarded
	// without running. Optional.
	Free func()

	Priority Priority
}

type entry struct {
	id        JobID
	job       Job
	requested time.Time
	removed   bool
}

// Pool is a priority thread pool.
type Pool struct {
	mu   sync.Mutex
	attr Attr

	queues     [3][]*entry
	persistent *entry
	lastID     JobID

	totalThreads      int
	busyThreads       int
	persistentThreads int
	shutdown          bool

	// wake is closed and replaced to wake waiting workers.
	wake chan struct{}
	// changed is closed and replaced when a persistent job is picked up
	// or a worker exits.
	changed chan struct{}

	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a pool and starts MinThreads workers.
func New(attr Attr) (*Pool, error) {
	attr = attr.withDefaults()
	if err := attr.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		attr:    attr,
		wake:    make(chan struct{}),
		changed: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  attr.Logger,
	}
	p.mu.Lock()
	for p.totalThreads < attr.MinThreads {
		if !p.createWorkerLocked() {
			break
		}
	}
	p.mu.Unlock()
	return p, nil
}

// Add queues a job and returns its id.
func (p *Pool) Add(job Job) (JobID, error) {
	if job.Func == nil {
		return InvalidJobID, ErrNilJob
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return InvalidJobID, ErrShutdown
	}
	if n := p.queuedLocked(); n >= p.attr.MaxJobsTotal {
		p.logger.Warn("thread pool queue full", "queued", n)
		return InvalidJobID, fmt.Errorf("%w: %d", ErrQueueFull, n)
	}

	e := p.newEntryLocked(job)
	q := clampPriority(job.Priority)
	p.queues[q] = append(p.queues[q], e)
	p.addWorkerLocked()
	p.broadcastLocked(&p.wake)
	return e.id, nil
}

// AddPersistent hands a job to a dedicated worker. It blocks until a worker
// has picked the job up.
func (p *Pool) AddPersistent(job Job) (JobID, error) {
	if job.Func == nil {
		return InvalidJobID, ErrNilJob
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	// One persistent hand-over at a time.
	for p.persistent != nil && !p.shutdown {
		p.waitLocked(&p.changed, 0)
	}
	if p.shutdown {
		return InvalidJobID, ErrShutdown
	}

	if p.totalThreads < p.attr.MaxThreads {
		p.createWorkerLocked()
	} else if p.totalThreads-p.persistentThreads-1 == 0 {
		return InvalidJobID, ErrMaxThreads
	}

	e := p.newEntryLocked(job)
	p.persistent = e
	p.broadcastLocked(&p.wake)
	for p.persistent == e && !p.shutdown {
		p.waitLocked(&p.changed, 0)
	}
	if p.persistent == e {
		// Shutdown won the race and owns freeing the job.
		return InvalidJobID, ErrShutdown
	}
	if e.removed {
		return InvalidJobID, ErrJobRemoved
	}
	return e.id, nil
}

// Remove takes a job that has not started yet out of the pool. Free is not
// called; the job is returned to the caller.
func (p *Pool) Remove(id JobID) (Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for q := range p.queues {
		for i, e := range p.queues[q] {
			if e.id == id {
				p.queues[q] = append(p.queues[q][:i], p.queues[q][i+1:]...)
				return e.job, nil
			}
		}
	}
	if p.persistent != nil && p.persistent.id == id {
		e := p.persistent
		e.removed = true
		p.persistent = nil
		p.broadcastLocked(&p.changed)
		return e.job, nil
	}
	return Job{}, ErrInvalidJobID
}

// Attr returns the current attributes.
func (p *Pool) Attr() Attr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attr
}

// SetAttr replaces the attributes and starts workers up to MinThreads.
// Surplus workers exit as they go idle.
func (p *Pool) SetAttr(attr Attr) error {
	attr = attr.withDefaults()
	if err := attr.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return ErrShutdown
	}
	p.attr = attr
	p.logger = attr.Logger
	for p.totalThreads < attr.MinThreads {
		if !p.createWorkerLocked() {
			break
		}
	}
	p.broadcastLocked(&p.wake)
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.HighJobs = len(p.queues[PriorityHigh])
	s.MedJobs = len(p.queues[PriorityMed])
	s.LowJobs = len(p.queues[PriorityLow])
	s.AvgWaitHQ = avg(s.TotalTimeHQ, s.TotalJobsHQ)
	s.AvgWaitMQ = avg(s.TotalTimeMQ, s.TotalJobsMQ)
	s.AvgWaitLQ = avg(s.TotalTimeLQ, s.TotalJobsLQ)
	s.TotalThreads = p.totalThreads
	s.PersistentThreads = p.persistentThreads
	return s
}

// Shutdown discards queued jobs, cancels the job context and waits until
// every worker has exited. Calling it again is a no-op.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.shutdown = true
	var discarded []*entry
	for q := range p.queues {
		discarded = append(discarded, p.queues[q]...)
		p.queues[q] = nil
	}
	if p.persistent != nil {
		discarded = append(discarded, p.persistent)
		p.persistent = nil
	}
	p.broadcastLocked(&p.wake)
	p.broadcastLocked(&p.changed)
	p.mu.Unlock()

	for _, e := range discarded {
		if e.job.Free != nil {
			e.job.Free()
		}
	}
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) newEntryLocked(job Job) *entry {
	e := &entry{id: p.lastID, job: job, requested: time.Now()}
	p.lastID++
	if p.lastID < 0 {
		p.lastID = 0
	}
	return e
}

func (p *Pool) queuedLocked() int {
	return len(p.queues[PriorityHigh]) + len(p.queues[PriorityMed]) + len(p.queues[PriorityLow])
}

// broadcastLocked wakes everyone waiting on *ch.
func (p *Pool) broadcastLocked(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}

// waitLocked releases the lock until *ch is broadcast or d elapses
// (d <= 0 waits without limit). It reports whether the wait timed out.
func (p *Pool) waitLocked(ch *chan struct{}, d time.Duration) bool {
	c := *ch
	p.mu.Unlock()
	defer p.mu.Lock()
	if d <= 0 {
		<-c
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c:
		return false
	case <-t.C:
		return true
	}
}

// createWorkerLocked starts one worker unless MaxThreads is reached.
func (p *Pool) createWorkerLocked() bool {
	if p.totalThreads+1 > p.attr.MaxThreads {
		return false
	}
	p.totalThreads++
	if p.totalThreads > p.stats.MaxThreads {
		p.stats.MaxThreads = p.totalThreads
	}
	p.wg.Add(1)
	go p.worker()
	return true
}

// addWorkerLocked grows the pool while the queue outweighs the workers.
func (p *Pool) addWorkerLocked() {
	jobs := p.queuedLocked()
	threads := p.totalThreads - p.persistentThreads
	for threads == 0 || jobs/threads >= p.attr.JobsPerThread || p.totalThreads == p.busyThreads {
		if !p.createWorkerLocked() {
			return
		}
		threads++
	}
}

// bumpPriorityLocked moves starving jobs one queue up.
func (p *Pool) bumpPriorityLocked(now time.Time) {
	for {
		if q := p.queues[PriorityLow]; len(q) > 0 && now.Sub(q[0].requested) >= p.attr.MaxIdleTime {
			p.stats.account(PriorityLow, now.Sub(q[0].requested))
			p.queues[PriorityMed] = append(p.queues[PriorityMed], q[0])
			p.queues[PriorityLow] = q[1:]
			continue
		}
		if q := p.queues[PriorityMed]; len(q) > 0 && now.Sub(q[0].requested) >= p.attr.StarvationTime {
			p.stats.account(PriorityMed, now.Sub(q[0].requested))
			p.queues[PriorityHigh] = append(p.queues[PriorityHigh], q[0])
			p.queues[PriorityMed] = q[1:]
			continue
		}
		return
	}
}

// popLocked takes the next regular job, highest priority first.
func (p *Pool) popLocked(now time.Time) *entry {
	for _, pr := range []Priority{PriorityHigh, PriorityMed, PriorityLow} {
		q := p.queues[pr]
		if len(q) == 0 {
			continue
		}
		e := q[0]
		q[0] = nil
		p.queues[pr] = q[1:]
		p.stats.account(pr, now.Sub(e.requested))
		return e
	}
	return nil
}

type workerKind int

const (
	kindNone workerKind = iota
	kindRegular
	kindPersistent
)

func (p *Pool) worker() {
	defer p.wg.Done()

	start := time.Now()
	kind := kindNone
	var current *entry

	p.mu.Lock()
	for {
		if current != nil {
			p.busyThreads--
			current = nil
		}
		p.stats.IdleThreads++
		now := time.Now()
		p.stats.TotalWorkTime += now.Sub(start)
		start = now
		switch kind {
		case kindRegular:
			p.stats.WorkerThreads--
		case kindPersistent:
			p.persistentThreads--
		}
		kind = kindNone

		timedOut := false
		for p.queuedLocked() == 0 && p.persistent == nil && !p.shutdown {
			if (timedOut && p.totalThreads > p.attr.MinThreads) || p.totalThreads > p.attr.MaxThreads {
				p.stats.IdleThreads--
				p.exitLocked()
				return
			}
			timedOut = p.waitLocked(&p.wake, p.attr.MaxIdleTime)
		}

		p.stats.IdleThreads--
		now = time.Now()
		p.stats.TotalIdleTime += now.Sub(start)
		start = now

		p.bumpPriorityLocked(now)
		if p.shutdown {
			p.exitLocked()
			return
		}
		if p.persistent != nil {
			current = p.persistent
			p.persistent = nil
			p.persistentThreads++
			kind = kindPersistent
			p.broadcastLocked(&p.changed)
		} else {
			current = p.popLocked(now)
			if current == nil {
				p.exitLocked()
				return
			}
			p.stats.WorkerThreads++
			kind = kindRegular
		}
		p.busyThreads++
		p.mu.Unlock()

		p.run(current)

		p.mu.Lock()
	}
}

// exitLocked unregisters the calling worker and releases the lock.
func (p *Pool) exitLocked() {
	p.totalThreads--
	p.broadcastLocked(&p.changed)
	p.mu.Unlock()
}

func (p *Pool) run(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("thread pool job panicked", "job", e.id, "priority", e.job.Priority, "panic", r)
		}
	}()
	e.job.Func(p.ctx)
}

func clampPriority(pr Priority) Priority {
	if pr > PriorityHigh {
		return PriorityLow
	}
	return pr
}
