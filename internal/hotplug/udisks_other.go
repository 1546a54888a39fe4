//go:build !linux

package hotplug

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"

	"devcat/internal/devcat"
)

var errUnsupported = errors.New("udisks2 is only available on linux")

// UDisksSource is unavailable on this platform.
type UDisksSource struct{}

func NewUDisksSource(prefixes []string, seq *devcat.Sequencer, clock clockwork.Clock, logger devcat.Logger) *UDisksSource {
	return &UDisksSource{}
}

func (s *UDisksSource) Start(ctx context.Context) error { return errUnsupported }

func (s *UDisksSource) Events() <-chan devcat.Event { return nil }

func (s *UDisksSource) Enumerate(ctx context.Context) ([]devcat.Event, error) {
	return nil, errUnsupported
}

func (s *UDisksSource) Stop() {}

var _ devcat.Source = (*UDisksSource)(nil)
