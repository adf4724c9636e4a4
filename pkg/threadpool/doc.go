// Package threadpool runs jobs on a bounded set of worker goroutines.
//
// # Priorities
//
// Jobs are queued with one of three priorities. Workers always pick the
// persistent slot first, then HIGH, MED and LOW in that order. To avoid
// starvation a MED job that waited StarvationTime is moved to the HIGH queue,
// and a LOW job that waited MaxIdleTime is moved to the MED queue.
//
// # Persistent Jobs
//
// A persistent job occupies its worker for as long as it runs (the timer
// thread and the SSDP readers are persistent jobs). AddPersistent blocks until
// a worker has picked the job up and fails with ErrMaxThreads when taking a
// worker would leave the pool without one for regular jobs.
//
// # Worker Lifecycle
//
// MinThreads workers are started by New. More are added while there are no
// workers, while the queue holds JobsPerThread jobs per worker, or while every
// worker is busy, up to MaxThreads. A worker that idles for MaxIdleTime exits
// as long as more than MinThreads remain.
//
// Jobs receive a context that is cancelled by Shutdown. Shutdown calls Free
// on every job that never ran and waits for all workers to exit.
package threadpool
