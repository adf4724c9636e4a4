package threadpool

import (
	"fmt"
	"log/slog"
	"time"
)

// Default pool attributes.
const (
	DefaultMinThreads     = 1
	DefaultMaxThreads     = 10
	DefaultMaxIdleTime    = 10 * time.Second
	DefaultJobsPerThread  = 10
	DefaultMaxJobsTotal   = 100
	DefaultStarvationTime = 500 * time.Millisecond
)

// SchedPolicy names an OS scheduling policy for workers.
type SchedPolicy int

// Scheduling policies.
const (
	SchedOther SchedPolicy = iota
	SchedFIFO
	SchedRR
)

// String returns the policy name.
func (s SchedPolicy) String() string {
	switch s {
	case SchedOther:
		return "OTHER"
	case SchedFIFO:
		return "FIFO"
	case SchedRR:
		return "RR"
	default:
		return "UNKNOWN"
	}
}

// Attr configures a Pool.
type Attr struct {
	// MinThreads is the number of workers kept alive while idle.
	MinThreads int

	// MaxThreads bounds the number of workers, persistent ones included.
	MaxThreads int

	// MaxIdleTime is how long a surplus worker waits for work before it
	// exits. It is also the wait after which a LOW job is bumped to MED.
	MaxIdleTime time.Duration

	// JobsPerThread is the queue length per worker above which a new
	// worker is started.
	JobsPerThread int

	// MaxJobsTotal limits the number of queued jobs.
	MaxJobsTotal int

	// StarvationTime is the wait after which a MED job is bumped to HIGH.
	StarvationTime time.Duration

	// StackSize and SchedPolicy are kept and reported. Workers are
	// goroutines, so neither changes how jobs run.
	StackSize   int
	SchedPolicy SchedPolicy

	// Logger receives worker diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultAttr returns the default pool attributes.
func DefaultAttr() Attr {
	return Attr{
		MinThreads:     DefaultMinThreads,
		MaxThreads:     DefaultMaxThreads,
		MaxIdleTime:    DefaultMaxIdleTime,
		JobsPerThread:  DefaultJobsPerThread,
		MaxJobsTotal:   DefaultMaxJobsTotal,
		StarvationTime: DefaultStarvationTime,
	}
}

// withDefaults replaces unset fields with their defaults.
func (a Attr) withDefaults() Attr {
	d := DefaultAttr()
	if a.MinThreads <= 0 {
		a.MinThreads = d.MinThreads
	}
	if a.MaxThreads <= 0 {
		a.MaxThreads = d.MaxThreads
	}
	if a.MaxIdleTime <= 0 {
		a.MaxIdleTime = d.MaxIdleTime
	}
	if a.JobsPerThread <= 0 {
		a.JobsPerThread = d.JobsPerThread
	}
	if a.MaxJobsTotal <= 0 {
		a.MaxJobsTotal = d.MaxJobsTotal
	}
	if a.StarvationTime <= 0 {
		a.StarvationTime = d.StarvationTime
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	return a
}

// Validate checks the attribute combination.
func (a Attr) Validate() error {
	if a.MinThreads > a.MaxThreads {
		return fmt.Errorf("%w: min threads %d > max threads %d", ErrInvalidAttr, a.MinThreads, a.MaxThreads)
	}
	if a.StackSize < 0 {
		return fmt.Errorf("%w: negative stack size %d", ErrInvalidAttr, a.StackSize)
	}
	return nil
}
