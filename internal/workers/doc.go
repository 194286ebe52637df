// ABOUTME: Package documentation for the job worker pools

// Package workers drains the persistent job queue.
//
// One Pool runs per job kind, each with its own worker count and processor.
// Workers poll the store for the oldest pending job of their kind, run the
// processor, and record the outcome. Failures requeue the job until its
// retries are exhausted; jobs orphaned by an unclean shutdown are returned to
// pending when the pool starts. The queue itself lives in the store, so
// pending work survives restarts.
package workers
