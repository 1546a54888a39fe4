package devcat

import (
	"context"
	"time"
)

// RunScheduler polls source every interval and resubmits devices that are
// present but not mounted, except those taken down by Eject. When rescanMounted is set, mounted devices are
// rescanned as well. A zero interval disables polling.
func (c *Coordinator) RunScheduler(ctx context.Context, source Source, interval time.Duration, rescanMounted bool) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			c.tick(ctx, source, rescanMounted)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context, source Source, rescanMounted bool) {
	present, err := source.Enumerate(ctx)
	if err != nil {
		c.logger.Warn("enumerating devices failed", "error", err)
		return
	}

	for _, ev := range present {
		ev.Seq = 0
		id := ev.Identity()
		if c.controller.Ejected(id) {
			continue
		}
		switch c.controller.State(id) {
		case StateMounting, StateUnmounting:
		case StateMounted:
			if rescanMounted {
				ev.Kind = EventRescan
				c.Submit(ev)
			}
		default:
			ev.Kind = EventAdded
			c.Submit(ev)
		}
	}
}
