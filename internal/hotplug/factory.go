package hotplug

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"devcat/internal/config"
	"devcat/internal/devcat"
)

// NewSourceFromConfig creates the device event source selected by cfg.
func NewSourceFromConfig(cfg config.HotplugConfig, seq *devcat.Sequencer, clock clockwork.Clock, logger devcat.Logger) (devcat.Source, error) {
	switch cfg.Type {
	case "udisks":
		return NewUDisksSource(cfg.DevnodePrefixes, seq, clock, logger), nil
	case "inotify":
		return NewInotifySource(DefaultByUUIDDir, cfg.DevnodePrefixes, seq, clock, logger), nil
	case "none":
		return NewManualSource(seq), nil
	default:
		return nil, fmt.Errorf("unknown hotplug type: %q", cfg.Type)
	}
}
