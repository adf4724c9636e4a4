// Package timer schedules thread pool jobs to run at a point in time.
//
// A Thread owns one persistent HIGH priority job on a threadpool.Pool. It
// keeps the pending events ordered by due time and hands every due job to the
// pool, either as a regular job (ShortTerm) or as a persistent one
// (Persistent). Events due at the same time run in the order they were
// scheduled. When the pool refuses a job its Free function is called.
//
// SSDP reply delays, search timeouts, GENA subscription expiry and
// auto-renewal are all timer events.
package timer
