//go:build !deadlock

// Package syncutil holds the locks used across devcat. Building with
// -tags=deadlock swaps in go-deadlock, which reports lock-order inversions
// and locks held for too long.
package syncutil

import "sync"

// Detecting reports whether lock diagnostics are compiled in.
const Detecting = false

// Mutex is a sync.Mutex.
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex.
type RWMutex struct {
	sync.RWMutex
}
