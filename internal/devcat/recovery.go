package devcat

import (
	"context"
	"fmt"
	"slices"
)

// RecoveryReport summarizes what Recover corrected.
type RecoveryReport struct {
	Removed     int   // devices in the registry that are no longer present
	Cleared     int   // mount paths recorded for devices that are not mounted
	Relocated   int   // mount paths that disagreed with the kernel
	Unverified  int   // mounted devices whose last scan did not complete
	FailedScans int64 // scans left running by a previous process
}

// Recover brings the registry in line with the devices present at startup
// and queues a reconciliation for each of them. present is what the hotplug
// source enumerated; an active device it missed counts as present while its
// devnode is mounted for it, and is flagged removed otherwise.
//
// File rows are never changed here; the queued reconciliations do that.
func (c *Coordinator) Recover(ctx context.Context, present []Event) (*RecoveryReport, error) {
	report := &RecoveryReport{}

	failed, err := c.database.FailRunningScans(ctx, c.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("closing interrupted scans: %w", err)
	}
	report.FailedScans = failed
	if failed > 0 {
		c.logger.Warn("scans interrupted by previous shutdown", "count", failed)
	}

	live, err := c.controller.LiveMounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading live mounts: %w", err)
	}

	byKey := make(map[string]Event, len(present))
	for _, ev := range present {
		if ev.Kind == EventAdded {
			byKey[ev.Identity().Key()] = ev
		}
	}

	devices, err := c.registry.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	submit := slices.Clone(present)
	for _, d := range devices {
		id := IdentityOf(d)
		ev, enumerated := byKey[id.Key()]
		if !enumerated {
			ev = Event{Kind: EventAdded, Devnode: d.Devnode, UUID: d.UUID}
		}

		livePath, mounted := live[ev.Devnode]
		if mounted {
			owned, err := c.controller.owns(ctx, d, livePath)
			if err != nil {
				return nil, err
			}
			mounted = owned
		}

		if !enumerated {
			// Sources that cannot enumerate, and volumes without a UUID, leave
			// mounted devices out of present. A live mount still proves the
			// device is there.
			if !mounted {
				if err := c.registry.MarkRemoved(ctx, d); err != nil {
					return nil, err
				}
				report.Removed++
				c.logger.Info("device absent at startup", "device", id.String())
				continue
			}
			submit = append(submit, ev)
			c.logger.Info("device not enumerated but mounted", "device", id.String(), "mount_path", livePath)
		}

		switch {
		case d.MountPath == "":
		case !mounted:
			if err := c.registry.ClearMount(ctx, d); err != nil {
				return nil, err
			}
			report.Cleared++
			c.logger.Info("stale mount path cleared", "device", id.String())
		case livePath != d.MountPath:
			if err := c.registry.MarkMounted(ctx, d, livePath); err != nil {
				return nil, err
			}
			report.Relocated++
			c.logger.Info("mount path corrected", "device", id.String(), "mount_path", livePath)
		}

		if !mounted {
			continue
		}
		scan, err := c.database.LatestScan(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("loading latest scan: %w", err)
		}
		if scan == nil || !scan.Completed() || scan.MountPath != livePath {
			report.Unverified++
			c.logger.Warn("catalog unverified for mounted device", "device", id.String(), "mount_path", livePath)
		}
	}

	for _, ev := range submit {
		c.Submit(ev)
	}

	c.logger.Info("recovery complete",
		"present", len(present),
		"removed", report.Removed,
		"cleared", report.Cleared,
		"relocated", report.Relocated,
		"unverified", report.Unverified,
		"failed_scans", report.FailedScans,
	)
	return report, nil
}
