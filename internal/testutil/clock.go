package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FixedTime is 2024-01-15 10:30:00 UTC, the starting point of NewFakeClock.
var FixedTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// NewFakeClock returns a fake clock set to FixedTime.
func NewFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(FixedTime)
}

// StubIDGenerator returns sequential IDs: "key-1", "key-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("key-%d", g.counter)
}

// Issued returns how many IDs have been handed out.
func (g *StubIDGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}
