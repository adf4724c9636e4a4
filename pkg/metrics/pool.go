package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
)

// StatsSource supplies thread pool statistics.
type StatsSource interface {
	Stats() threadpool.Stats
}

var _ StatsSource = (*threadpool.Pool)(nil)

// PoolCollector exports thread pool statistics. name becomes the "pool"
// label, so several pools can share one registry.
type PoolCollector struct {
	src  StatsSource
	name string

	queued     *prometheus.Desc
	threads    *prometheus.Desc
	jobs       *prometheus.Desc
	waitTime   *prometheus.Desc
	workTime   *prometheus.Desc
	idleTime   *prometheus.Desc
	maxThreads *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector creates a collector for src.
func NewPoolCollector(name string, src StatsSource) *PoolCollector {
	constLabels := prometheus.Labels{"pool": name}
	desc := func(n, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "threadpool", n), help, labels, constLabels)
	}
	return &PoolCollector{
		src:        src,
		name:       name,
		queued:     desc("queued_jobs", "Jobs waiting, by priority.", "priority"),
		threads:    desc("threads", "Worker threads, by state.", "state"),
		jobs:       desc("jobs_total", "Jobs taken from each queue.", "priority"),
		waitTime:   desc("wait_seconds_total", "Time jobs waited in each queue.", "priority"),
		workTime:   desc("work_seconds_total", "Time workers spent running jobs."),
		idleTime:   desc("idle_seconds_total", "Time workers spent waiting for jobs."),
		maxThreads: desc("max_threads_used", "Largest number of workers seen."),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queued
	ch <- c.threads
	ch <- c.jobs
	ch <- c.waitTime
	ch <- c.workTime
	ch <- c.idleTime
	ch <- c.maxThreads
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.queued, float64(s.HighJobs), "high")
	gauge(c.queued, float64(s.MedJobs), "med")
	gauge(c.queued, float64(s.LowJobs), "low")

	gauge(c.threads, float64(s.TotalThreads), "total")
	gauge(c.threads, float64(s.WorkerThreads), "working")
	gauge(c.threads, float64(s.IdleThreads), "idle")
	gauge(c.threads, float64(s.PersistentThreads), "persistent")

	counter(c.jobs, float64(s.TotalJobsHQ), "high")
	counter(c.jobs, float64(s.TotalJobsMQ), "med")
	counter(c.jobs, float64(s.TotalJobsLQ), "low")

	counter(c.waitTime, s.TotalTimeHQ.Seconds(), "high")
	counter(c.waitTime, s.TotalTimeMQ.Seconds(), "med")
	counter(c.waitTime, s.TotalTimeLQ.Seconds(), "low")

	counter(c.workTime, s.TotalWorkTime.Seconds())
	counter(c.idleTime, s.TotalIdleTime.Seconds())
	gauge(c.maxThreads, float64(s.MaxThreads))
}
