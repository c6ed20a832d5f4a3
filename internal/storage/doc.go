// Package storage persists the outcomes of finished runs.
//
// Only completed runs are stored. Queued jobs live in memory and are lost
// on restart.
package storage
