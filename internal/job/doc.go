// Package job defines the unit of work accepted by the scheduler.
//
// The scheduler only needs Key and Run. Everything else (status, result,
// progress, messages) belongs to the job itself; Base is a ready-made,
// concurrency-safe implementation of that state with synchronous change
// notification for progress updates.
package job
