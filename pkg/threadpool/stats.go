package threadpool

import (
	"fmt"
	"strings"
	"time"
)

// Stats is a snapshot of pool activity.
type Stats struct {
	// Queued jobs per priority.
	HighJobs int
	MedJobs  int
	LowJobs  int

	// Jobs taken from each queue and the time they waited there.
	TotalJobsHQ int
	TotalJobsMQ int
	TotalJobsLQ int
	TotalTimeHQ time.Duration
	TotalTimeMQ time.Duration
	TotalTimeLQ time.Duration

	// Average wait per queue.
	AvgWaitHQ time.Duration
	AvgWaitMQ time.Duration
	AvgWaitLQ time.Duration

	// Thread counts.
	TotalThreads      int
	WorkerThreads     int
	IdleThreads       int
	PersistentThreads int
	MaxThreads        int

	// Accumulated time workers spent running jobs and waiting for them.
	TotalWorkTime time.Duration
	TotalIdleTime time.Duration
}

// Queued returns the number of jobs waiting in all queues.
func (s Stats) Queued() int {
	return s.HighJobs + s.MedJobs + s.LowJobs
}

// String formats the snapshot over several lines.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "High Jobs pending: %d\n", s.HighJobs)
	fmt.Fprintf(&b, "Med Jobs Pending: %d\n", s.MedJobs)
	fmt.Fprintf(&b, "Low Jobs Pending: %d\n", s.LowJobs)
	fmt.Fprintf(&b, "Average wait in High Q: %v\n", s.AvgWaitHQ)
	fmt.Fprintf(&b, "Average wait in Med Q: %v\n", s.AvgWaitMQ)
	fmt.Fprintf(&b, "Average wait in Low Q: %v\n", s.AvgWaitLQ)
	fmt.Fprintf(&b, "Max Threads Used: %d\n", s.MaxThreads)
	fmt.Fprintf(&b, "Worker Threads: %d\n", s.WorkerThreads)
	fmt.Fprintf(&b, "Persistent Threads: %d\n", s.PersistentThreads)
	fmt.Fprintf(&b, "Idle Threads: %d\n", s.IdleThreads)
	fmt.Fprintf(&b, "Total Threads: %d\n", s.TotalThreads)
	fmt.Fprintf(&b, "Total Work Time: %v\n", s.TotalWorkTime)
	fmt.Fprintf(&b, "Total Idle Time: %v\n", s.TotalIdleTime)
	return b.String()
}

// account records a job leaving queue p after waiting wait.
func (s *Stats) account(p Priority, wait time.Duration) {
	switch p {
	case PriorityHigh:
		s.TotalJobsHQ++
		s.TotalTimeHQ += wait
	case PriorityMed:
		s.TotalJobsMQ++
		s.TotalTimeMQ += wait
	default:
		s.TotalJobsLQ++
		s.TotalTimeLQ += wait
	}
}

func avg(total time.Duration, n int) time.Duration {
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}
