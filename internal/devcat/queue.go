package devcat

import (
	"context"
	"slices"
)

// deviceQueue serializes the events of one volume.
type deviceQueue struct {
	pending  []queued
	running  bool
	inflight *Event
	cancel   context.CancelFunc
}

// queued is an event waiting in a deviceQueue together with its place in
// the devnode's lane.
type queued struct {
	Event
	turn *turn
}

// turn is a place in a devnode lane. ready is closed once every event that
// arrived earlier for the same devnode has been handled.
type turn struct {
	devnode string
	ready   chan struct{}
}

// Eject queues an administrative unmount. The device keeps its registry row
// and is not flagged removed.
func (c *Coordinator) Eject(id Identity) bool {
	return c.Submit(Event{Kind: EventEject, Devnode: id.Devnode, UUID: id.UUID})
}

// Rescan queues a scan of a mounted device.
func (c *Coordinator) Rescan(id Identity) bool {
	return c.Submit(Event{Kind: EventRescan, Devnode: id.Devnode, UUID: id.UUID})
}

// Submit queues an event. Events without a sequence number are stamped on
// arrival. Returns false if the event was dropped as stale or redundant, or
// the coordinator is closed.
//
// A removal or eject cancels an add or rescan in flight for the same volume
// and drops the ones still queued. Events naming the same devnode are
// handled one at a time in arrival order, whichever volume they are for.
func (c *Coordinator) Submit(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if ev.Seq == 0 {
		ev.Seq = c.seq.Next()
	}
	if ev.At.IsZero() {
		ev.At = c.clock.Now()
	}

	id := c.resolve(ev)
	ev.UUID = id.UUID
	key := id.Key()

	if last := c.lastSeq[key]; ev.Seq <= last {
		c.logger.Debug("stale event dropped", "device", id.String(), "kind", ev.Kind.String(), "seq", ev.Seq, "last_seq", last)
		return false
	}
	c.lastSeq[key] = ev.Seq

	q, ok := c.queues[key]
	if !ok {
		q = &deviceQueue{}
		c.queues[key] = q
	}

	switch ev.Kind {
	case EventRemoved, EventEject:
		kept := q.pending[:0]
		for _, p := range q.pending {
			if p.Kind == EventAdded || p.Kind == EventRescan {
				c.logger.Debug("queued event superseded", "device", id.String(), "kind", p.Kind.String(), "seq", p.Seq)
				c.leave(p.turn)
				continue
			}
			kept = append(kept, p)
		}
		q.pending = kept
		if q.inflight != nil && (q.inflight.Kind == EventAdded || q.inflight.Kind == EventRescan) {
			c.logger.Info("cancelling in-flight reconciliation", "device", id.String(), "kind", q.inflight.Kind.String())
			q.cancel()
		}
	case EventAdded, EventRescan:
		if n := len(q.pending); n > 0 && q.pending[n-1].Kind == ev.Kind {
			c.logger.Debug("duplicate event coalesced", "device", id.String(), "kind", ev.Kind.String(), "seq", ev.Seq)
			return false
		}
	}

	q.pending = append(q.pending, queued{Event: ev, turn: c.enter(ev.Devnode)})
	if !q.running {
		q.running = true
		c.wg.Add(1)
		go c.drain(key, q)
	}
	return true
}

// resolve fills in the UUID of removals that only carry a devnode, using
// the volume most recently added on that devnode. Caller holds c.mu.
func (c *Coordinator) resolve(ev Event) Identity {
	id := ev.Identity()
	if ev.Devnode == "" {
		return id
	}
	alias, aliased := c.aliases[ev.Devnode]
	switch {
	case ev.Kind == EventAdded && id.UUID != "":
		c.aliases[ev.Devnode] = id
	case ev.Kind == EventAdded:
		delete(c.aliases, ev.Devnode)
	case id.UUID == "" && aliased:
		if ev.Kind == EventRemoved {
			delete(c.aliases, ev.Devnode)
		}
		return Identity{UUID: alias.UUID, Devnode: ev.Devnode}
	case ev.Kind == EventRemoved && aliased && alias.UUID == id.UUID:
		delete(c.aliases, ev.Devnode)
	}
	return id
}

// enter appends a turn to devnode's lane. Caller holds c.mu.
func (c *Coordinator) enter(devnode string) *turn {
	if devnode == "" {
		return nil
	}
	t := &turn{devnode: devnode, ready: make(chan struct{})}
	lane := c.lanes[devnode]
	if len(lane) == 0 {
		close(t.ready)
	}
	c.lanes[devnode] = append(lane, t)
	return t
}

// leave gives up a turn and wakes the next one in its lane. Caller holds
// c.mu.
func (c *Coordinator) leave(t *turn) {
	if t == nil {
		return
	}
	lane := c.lanes[t.devnode]
	i := slices.Index(lane, t)
	if i < 0 {
		return
	}
	lane = slices.Delete(lane, i, i+1)
	if len(lane) == 0 {
		delete(c.lanes, t.devnode)
		return
	}
	c.lanes[t.devnode] = lane
	if i == 0 {
		close(lane[0].ready)
	}
}

func (c *Coordinator) await(ctx context.Context, t *turn) error {
	if t == nil {
		return nil
	}
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs a volume's queued events until none are left, then drops the
// queue.
func (c *Coordinator) drain(key string, q *deviceQueue) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if len(q.pending) == 0 || c.ctx.Err() != nil {
			for _, p := range q.pending {
				c.leave(p.turn)
			}
			q.pending = nil
			q.running = false
			if c.queues[key] == q {
				delete(c.queues, key)
			}
			c.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		ctx, cancel := context.WithCancel(c.ctx)
		q.inflight = &item.Event
		q.cancel = cancel
		c.mu.Unlock()

		err := c.await(ctx, item.turn)
		if err == nil {
			err = c.handle(ctx, item.Event)
		}
		cancel()

		c.mu.Lock()
		c.leave(item.turn)
		q.inflight = nil
		q.cancel = nil
		c.mu.Unlock()

		c.report(key, item.Event, err)
	}
}

// Wait blocks until every queued event has been handled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops accepting events, cancels work in flight and waits for the
// per-device workers to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() {
	<-c.slots
}
