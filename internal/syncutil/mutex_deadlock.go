//go:build deadlock

// Package syncutil holds the locks used across devcat. Building with
// -tags=deadlock swaps in go-deadlock, which reports lock-order inversions
// and locks held for too long.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// Detecting reports whether lock diagnostics are compiled in.
const Detecting = true

func init() {
	// A full scan of a large volume holds no lock, so anything held this
	// long is stuck.
	deadlock.Opts.DeadlockTimeout = 45 * time.Second
}

// Mutex is a deadlock.Mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}
