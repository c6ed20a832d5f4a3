// Package admin serves a small HTTP endpoint for operators: scheduler
// status, recent runs, manual trigger firing and, optionally, pprof.
package admin
