package devcat

// QueueStats reports how many per-volume queues, devnode lanes, devnode
// aliases and retry limiters the coordinator is holding.
func (c *Coordinator) QueueStats() (queues, lanes, aliases, limiters int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues), len(c.lanes), len(c.aliases), len(c.limiters)
}
