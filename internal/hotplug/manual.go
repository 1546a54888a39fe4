package hotplug

import (
	"context"
	"sync"

	"devcat/internal/devcat"
	"devcat/internal/syncutil"
)

// ManualSource delivers only the events pushed into it. It backs the "none"
// hotplug type, where devices are handled through explicit commands, and
// stands in for real sources in tests.
type ManualSource struct {
	seq    *devcat.Sequencer
	events chan devcat.Event

	mu       syncutil.Mutex
	present  map[string]devcat.Event // identity key -> Added event
	stopOnce sync.Once
}

// NewManualSource creates a ManualSource stamping events with seq.
func NewManualSource(seq *devcat.Sequencer) *ManualSource {
	return &ManualSource{
		seq:     seq,
		events:  make(chan devcat.Event, 64),
		present: make(map[string]devcat.Event),
	}
}

func (s *ManualSource) Start(ctx context.Context) error { return nil }

func (s *ManualSource) Events() <-chan devcat.Event { return s.events }

func (s *ManualSource) Stop() {
	s.stopOnce.Do(func() { close(s.events) })
}

// Plug records devnode as present and delivers an Added event.
func (s *ManualSource) Plug(devnode, uuid string) devcat.Event {
	ev := devcat.Event{Kind: devcat.EventAdded, Devnode: devnode, UUID: uuid, Seq: s.seq.Next()}
	s.mu.Lock()
	s.present[ev.Identity().Key()] = ev
	s.mu.Unlock()
	s.events <- ev
	return ev
}

// Unplug forgets devnode and delivers a Removed event.
func (s *ManualSource) Unplug(devnode, uuid string) devcat.Event {
	ev := devcat.Event{Kind: devcat.EventRemoved, Devnode: devnode, UUID: uuid, Seq: s.seq.Next()}
	s.mu.Lock()
	delete(s.present, ev.Identity().Key())
	s.mu.Unlock()
	s.events <- ev
	return ev
}

// Send delivers ev as is.
func (s *ManualSource) Send(ev devcat.Event) {
	s.events <- ev
}

// Enumerate returns an Added event for every plugged device.
func (s *ManualSource) Enumerate(ctx context.Context) ([]devcat.Event, error) {
	s.mu.Lock()
	events := make([]devcat.Event, 0, len(s.present))
	for _, ev := range s.present {
		ev.Seq = s.seq.Next()
		events = append(events, ev)
	}
	s.mu.Unlock()
	sortEvents(events)
	return events, nil
}

var _ devcat.Source = (*ManualSource)(nil)
