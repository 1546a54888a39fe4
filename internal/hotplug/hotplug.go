// Package hotplug turns operating system device notifications into
// devcat events.
package hotplug

import (
	"slices"
	"strings"

	"devcat/internal/devcat"
)

type filter struct {
	prefixes []string
}

func (f filter) allows(devnode string) bool {
	if len(f.prefixes) == 0 {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(devnode, p) {
			return true
		}
	}
	return false
}

// sortEvents orders events by devnode so enumeration is deterministic.
func sortEvents(events []devcat.Event) {
	slices.SortFunc(events, func(a, b devcat.Event) int {
		return strings.Compare(a.Devnode, b.Devnode)
	})
}
